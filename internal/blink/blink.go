// Package blink drives an output line at a fixed rate from a background
// goroutine that can be cancelled and joined.
package blink

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/pulse-sensor/internal/gpio"
	"github.com/sweeney/pulse-sensor/internal/logic"
)

var (
	// ErrRunning is returned by Start while a blink is already active.
	ErrRunning = errors.New("blink: already running")
	// ErrInvalidRate is returned by Start for a non-positive rate.
	ErrInvalidRate = errors.New("blink: rate must be positive")
)

// Blinker toggles an output every half-period of a rate.
// At most one blink goroutine exists at a time.
type Blinker struct {
	out    gpio.Output
	logger *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	rate int

	toggles atomic.Uint64
	level   atomic.Bool // last level successfully written
}

// New creates a stopped Blinker writing to out.
func New(out gpio.Output, logger *slog.Logger) *Blinker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Blinker{out: out, logger: logger}
}

// Start launches the blink goroutine at rate beats per minute.
// The caller must Stop a running blink first.
func (b *Blinker) Start(rate int) error {
	if rate <= 0 {
		return ErrInvalidRate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return ErrRunning
	}

	half := logic.HalfPeriod(rate)
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	b.rate = rate

	b.logger.Debug("blink started", "rate", rate, "half_period", half)
	go b.run(half, b.stop, b.done)
	return nil
}

// run writes the output, then sleeps until the next half-period boundary.
// Deadlines are absolute so sleep jitter does not accumulate.
func (b *Blinker) run(half time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var timer *time.Timer
	level := false
	next := time.Now()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := b.out.Set(level); err != nil {
			b.logger.Warn("blink write failed", "error", err)
		} else {
			b.level.Store(level)
			b.toggles.Add(1)
		}
		level = !level

		next = next.Add(half)
		if now := time.Now(); next.Before(now) {
			// Fell more than a half-period behind; don't burst to catch up.
			next = now
		}
		if timer == nil {
			timer = time.NewTimer(time.Until(next))
		} else {
			timer.Reset(time.Until(next))
		}

		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop cancels the blink goroutine and waits for it to exit. Once Stop
// returns the goroutine will not write the output again. It returns the
// last level the goroutine wrote, so the caller can take over the line
// from a known state. Stop on a stopped Blinker is a no-op.
func (b *Blinker) Stop() bool {
	b.mu.Lock()
	stop, done, rate := b.stop, b.done, b.rate
	b.stop, b.done, b.rate = nil, nil, 0
	b.mu.Unlock()

	if done == nil {
		return b.level.Load()
	}
	close(stop)
	<-done
	level := b.level.Load()
	b.logger.Debug("blink stopped", "rate", rate, "level", level)
	return level
}

// Level returns the last level the blinker wrote.
func (b *Blinker) Level() bool {
	return b.level.Load()
}

// Running reports whether a blink goroutine is active.
func (b *Blinker) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done != nil
}

// Rate returns the active rate, or 0 when stopped.
func (b *Blinker) Rate() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// Toggles returns the number of successful output writes since creation.
func (b *Blinker) Toggles() uint64 {
	return b.toggles.Load()
}
