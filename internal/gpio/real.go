//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "pulse-sensor"

// Chip is an open GPIO character device.
type Chip struct {
	chip *gpiocdev.Chip
}

// OpenChip opens the named GPIO chip (e.g. "gpiochip0").
func OpenChip(name string) (*Chip, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	return &Chip{chip: chip}, nil
}

// Close closes the chip. Lines requested from it stay valid until closed.
func (c *Chip) Close() error {
	return c.chip.Close()
}

// RealInput is an edge-watched input line.
type RealInput struct {
	line    *gpiocdev.Line
	events  chan Edge
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// Input requests offset as an input with the given bias, reporting edges
// of the given mode. Edges are queued up to buffer deep; further edges are
// dropped and counted.
//
// The edge stream closes only on Close. A failure inside the gpiocdev
// watcher is not reported on the stream.
func (c *Chip) Input(offset int, mode EdgeMode, bias Bias, buffer int) (*RealInput, error) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	in := &RealInput{events: make(chan Edge, buffer)}

	var edge gpiocdev.LineReqOption
	switch mode {
	case EdgeRising:
		edge = gpiocdev.WithRisingEdge
	case EdgeFalling:
		edge = gpiocdev.WithFallingEdge
	default:
		edge = gpiocdev.WithBothEdges
	}

	var pull gpiocdev.LineReqOption
	switch bias {
	case BiasPullUp:
		pull = gpiocdev.WithPullUp
	case BiasDisabled:
		pull = gpiocdev.WithBiasDisabled
	default:
		pull = gpiocdev.WithPullDown
	}

	line, err := c.chip.RequestLine(offset,
		gpiocdev.AsInput,
		pull,
		edge,
		gpiocdev.WithEventHandler(in.handle),
	)
	if err != nil {
		return nil, fmt.Errorf("request input pin %d (%s edge, pull %s): %w", offset, mode, bias, err)
	}
	in.line = line
	return in, nil
}

// handle runs on the gpiocdev watcher goroutine.
func (in *RealInput) handle(evt gpiocdev.LineEvent) {
	e := Edge{
		Line:   evt.Offset,
		Rising: evt.Type == gpiocdev.LineEventRisingEdge,
		Time:   time.Now(),
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	select {
	case in.events <- e:
	default:
		in.dropped.Add(1)
	}
}

// Events returns the edge stream.
func (in *RealInput) Events() <-chan Edge {
	return in.events
}

// Dropped returns the number of edges discarded because the stream was full.
func (in *RealInput) Dropped() uint64 {
	return in.dropped.Load()
}

// Close releases the line and closes the edge stream.
func (in *RealInput) Close() error {
	var err error
	if in.line != nil {
		err = in.line.Close()
	}
	in.mu.Lock()
	if !in.closed {
		in.closed = true
		close(in.events)
	}
	in.mu.Unlock()
	if err != nil {
		return fmt.Errorf("close input pin: %w", err)
	}
	return nil
}

// RealOutput drives an output line.
type RealOutput struct {
	line *gpiocdev.Line
}

// Output requests offset as an output, initially low.
func (c *Chip) Output(offset int) (*RealOutput, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", offset, err)
	}
	return &RealOutput{line: line}, nil
}

// Set drives the line high or low.
func (o *RealOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set output pin: %w", err)
	}
	return nil
}

// Close drives the line low, then reconfigures it to input with pull-down
// (matching Pi boot defaults) before releasing it.
func (o *RealOutput) Close() error {
	var errs []error

	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("clear output pin: %w", err))
	}
	if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure output pin: %w", err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close output pin: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
