//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Chip is not available on non-Linux platforms.
type Chip struct{}

// OpenChip returns an error on non-Linux platforms.
func OpenChip(name string) (*Chip, error) {
	return nil, errUnsupported
}

// Close is a no-op on non-Linux platforms.
func (c *Chip) Close() error {
	return nil
}

// RealInput is not available on non-Linux platforms.
type RealInput struct{}

// Input returns an error on non-Linux platforms.
func (c *Chip) Input(offset int, mode EdgeMode, bias Bias, buffer int) (*RealInput, error) {
	return nil, errUnsupported
}

// Events returns nil on non-Linux platforms.
func (in *RealInput) Events() <-chan Edge { return nil }

// Dropped returns 0 on non-Linux platforms.
func (in *RealInput) Dropped() uint64 { return 0 }

// Close is a no-op on non-Linux platforms.
func (in *RealInput) Close() error { return nil }

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// Output returns an error on non-Linux platforms.
func (c *Chip) Output(offset int) (*RealOutput, error) {
	return nil, errUnsupported
}

// Set returns an error on non-Linux platforms.
func (o *RealOutput) Set(on bool) error { return errUnsupported }

// Close is a no-op on non-Linux platforms.
func (o *RealOutput) Close() error { return nil }
