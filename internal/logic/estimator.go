package logic

import (
	"math"
	"time"
)

// rateScale converts edges per second into beats per minute. The sensor
// line reports both edges, so one beat is two edges: 60/2 = 30.
const rateScale = 30

// Estimator derives a pulse rate from edge timing over a settle window.
type Estimator struct {
	wait  time.Duration
	state EstimatorState
}

// NewEstimator creates an estimator that locks once wait has elapsed
// since the first edge of a window.
func NewEstimator(wait time.Duration) *Estimator {
	return &Estimator{wait: wait}
}

// Wait returns the settle duration.
func (e *Estimator) Wait() time.Duration {
	return e.wait
}

// OnEdge folds one sensor edge observed at now into the estimate.
//
// The edge that opens a window only marks its start; later edges are
// counted. While the window is younger than the settle duration the
// provisional rate is round(30 * count / elapsedSeconds). Once it has
// settled the last provisional rate becomes the locked rate. A lock that
// would yield 0 restarts the window at now instead.
func (e *Estimator) OnEdge(now time.Time) Result {
	s := &e.state

	if s.LockedRate > 0 {
		return Result{Kind: ResultLocked, Rate: s.LockedRate, Count: s.EventCount, Elapsed: s.LastEvent.Sub(s.WindowStart)}
	}

	if s.WindowStart.IsZero() {
		s.WindowStart = now
		s.LastEvent = now
		s.EventCount = 0
		s.ProvisionalRate = 0
		s.LockedRate = 0
		return Result{Kind: ResultStarted}
	}

	s.EventCount++
	s.LastEvent = now
	elapsed := now.Sub(s.WindowStart)

	if elapsed >= e.wait {
		if s.ProvisionalRate <= 0 {
			// Too sparse to settle on anything; start over from this edge.
			s.WindowStart = now
			s.EventCount = 0
			return Result{Kind: ResultStarted, Elapsed: elapsed}
		}
		s.LockedRate = s.ProvisionalRate
		return Result{
			Kind:    ResultLocked,
			Rate:    s.LockedRate,
			Count:   s.EventCount,
			Elapsed: elapsed,
		}
	}

	if elapsed > 0 {
		s.ProvisionalRate = int(math.Round(rateScale * float64(s.EventCount) / elapsed.Seconds()))
	}
	return Result{
		Kind:    ResultEstimating,
		Rate:    s.ProvisionalRate,
		Count:   s.EventCount,
		Elapsed: elapsed,
	}
}

// Locked reports whether a rate has been locked this cycle.
func (e *Estimator) Locked() bool {
	return e.state.LockedRate > 0
}

// Reset clears all estimator state.
func (e *Estimator) Reset() {
	e.state = EstimatorState{}
}

// Snapshot returns a copy of the estimator state.
func (e *Estimator) Snapshot() EstimatorState {
	return e.state
}
