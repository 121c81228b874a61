package logic

import (
	"errors"
	"fmt"
	"time"
)

// Default idle pace settings.
const (
	DefaultIdleRate = 30
	DefaultIdleMin  = 20
	DefaultIdleMax  = 150
	DefaultIdleStep = 10
	DefaultDebounce = 2 * time.Second
)

// PaceConfig configures an IdlePace.
type PaceConfig struct {
	Rate     int
	Min      int
	Max      int
	Step     int
	Debounce time.Duration
}

// IdlePace tracks the fallback blink rate, adjusted by button presses.
// The rate ping-pongs between Min and Max.
type IdlePace struct {
	rate      int
	increment int
	min       int
	max       int
	debounce  time.Duration
	lastPress time.Time
	primed    bool // first press after creation/reset has been swallowed
}

// NewIdlePace validates cfg and returns a controller starting at cfg.Rate
// and moving upward.
func NewIdlePace(cfg PaceConfig) (*IdlePace, error) {
	if cfg.Min < 1 {
		return nil, fmt.Errorf("idle min %d: must be at least 1", cfg.Min)
	}
	if cfg.Max <= cfg.Min {
		return nil, fmt.Errorf("idle max %d: must exceed min %d", cfg.Max, cfg.Min)
	}
	if cfg.Rate < cfg.Min || cfg.Rate > cfg.Max {
		return nil, fmt.Errorf("idle rate %d: outside [%d,%d]", cfg.Rate, cfg.Min, cfg.Max)
	}
	if cfg.Step < 1 {
		return nil, errors.New("idle step must be at least 1")
	}
	return &IdlePace{
		rate:      cfg.Rate,
		increment: cfg.Step,
		min:       cfg.Min,
		max:       cfg.Max,
		debounce:  cfg.Debounce,
	}, nil
}

// OnButton handles a button edge at now and reports whether it changed
// the rate. The first press after creation or Reset is always ignored, as
// is any press less than the debounce window after the last recorded one.
func (p *IdlePace) OnButton(now time.Time) bool {
	if !p.primed {
		p.primed = true
		p.lastPress = now
		return false
	}
	if now.Sub(p.lastPress) < p.debounce {
		return false
	}

	switch p.rate {
	case p.max:
		p.increment = -abs(p.increment)
	case p.min:
		p.increment = abs(p.increment)
	}

	p.rate += p.increment
	if p.rate > p.max {
		p.rate = p.max
	}
	if p.rate < p.min {
		p.rate = p.min
	}
	p.lastPress = now
	return true
}

// Rate returns the current idle rate.
func (p *IdlePace) Rate() int {
	return p.rate
}

// Increment returns the signed step applied by the next accepted press
// (before any bound reversal).
func (p *IdlePace) Increment() int {
	return p.increment
}

// Bounds returns the inclusive rate bounds.
func (p *IdlePace) Bounds() (min, max int) {
	return p.min, p.max
}

// Timeout returns the idle poll timeout, one half-period at the idle rate.
func (p *IdlePace) Timeout() time.Duration {
	return HalfPeriod(p.rate)
}

// Reset re-arms the startup press suppression. The rate is kept.
func (p *IdlePace) Reset() {
	p.primed = false
	p.lastPress = time.Time{}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
