// Package logic contains the pure pulse-rate logic: the rate estimator and
// the idle pace controller.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State is the monitor's top-level state.
type State string

const (
	StateIdle      State = "IDLE"
	StateMeasuring State = "MEASURING"
	StateLocked    State = "LOCKED"
)

// ResultKind describes what an estimator step produced.
type ResultKind string

const (
	// ResultStarted means the edge opened a new measurement window.
	// The caller should drive the output low while measuring.
	ResultStarted ResultKind = "STARTED"
	// ResultEstimating means the window is still settling.
	ResultEstimating ResultKind = "ESTIMATING"
	// ResultLocked means the rate is final for this cycle.
	ResultLocked ResultKind = "LOCKED"
)

// Result is returned by Estimator.OnEdge.
type Result struct {
	Kind    ResultKind
	Rate    int           // provisional rate, or the locked rate for ResultLocked
	Count   int           // edges counted since the window opened
	Elapsed time.Duration // time since the window opened
}

// EstimatorState is a copy of the estimator's internal fields.
type EstimatorState struct {
	WindowStart     time.Time // zero = unset
	LastEvent       time.Time // zero = unset
	EventCount      int
	ProvisionalRate int
	LockedRate      int // 0 = unset
}

// Counts tracks monitor activity since startup.
type Counts struct {
	SensorEdges    int
	DroppedEdges   uint64
	Locks          int
	Fallbacks      int
	IdleTicks      int
	ButtonAccepted int
	ButtonIgnored  int
}

// HalfPeriod returns the toggle interval for a blink at rate beats per
// minute: 60000/rate/2 milliseconds. Non-positive rates return 0.
func HalfPeriod(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Minute / time.Duration(2*rate)
}
