// Package gpio provides edge-triggered GPIO inputs and a GPIO output line
// with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"time"
)

// DefaultChip is the GPIO chip on a Raspberry Pi header.
const DefaultChip = "gpiochip0"

// DefaultEventBuffer is the number of edges queued per input before new
// edges are dropped.
const DefaultEventBuffer = 64

// EdgeMode selects which transitions an input reports.
type EdgeMode int

const (
	EdgeBoth EdgeMode = iota
	EdgeRising
	EdgeFalling
)

func (m EdgeMode) String() string {
	switch m {
	case EdgeBoth:
		return "both"
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	}
	return "unknown"
}

// Bias selects the internal resistor on an input line.
type Bias int

const (
	// BiasPullDown suits a sensor that drives the line high.
	BiasPullDown Bias = iota
	// BiasPullUp suits a button wired to ground; a press is a falling edge.
	BiasPullUp
	// BiasDisabled leaves the line floating for external resistors.
	BiasDisabled
)

func (b Bias) String() string {
	switch b {
	case BiasPullDown:
		return "down"
	case BiasPullUp:
		return "up"
	case BiasDisabled:
		return "none"
	}
	return "unknown"
}

// ParseBias parses "down", "up" or "none".
func ParseBias(s string) (Bias, error) {
	switch s {
	case "down":
		return BiasPullDown, nil
	case "up":
		return BiasPullUp, nil
	case "none":
		return BiasDisabled, nil
	}
	return 0, fmt.Errorf("gpio: unknown bias %q (want up, down or none)", s)
}

// Edge is one transition observed on an input line.
type Edge struct {
	Line   int       // BCM offset
	Rising bool      // false = falling
	Time   time.Time // when the edge was received
}

// Input delivers edges from one line.
type Input interface {
	// Events returns the edge stream. The channel is closed when the
	// input is closed.
	Events() <-chan Edge

	// Dropped returns the number of edges discarded because the
	// stream was full.
	Dropped() uint64

	// Close releases GPIO resources.
	Close() error
}

// Output drives one line.
type Output interface {
	// Set drives the line high (true) or low (false).
	Set(on bool) error

	// Close releases GPIO resources.
	Close() error
}
