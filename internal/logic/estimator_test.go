package logic

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// feedEvenly sends edges at t0, t0+interval, ... until a lock or n edges.
func feedEvenly(e *Estimator, interval time.Duration, n int) []Result {
	var results []Result
	for i := 0; i < n; i++ {
		r := e.OnEdge(t0.Add(time.Duration(i) * interval))
		results = append(results, r)
		if r.Kind == ResultLocked {
			break
		}
	}
	return results
}

func TestNewEstimator(t *testing.T) {
	e := NewEstimator(10 * time.Second)
	if e.Wait() != 10*time.Second {
		t.Errorf("expected wait 10s, got %v", e.Wait())
	}
	if e.Locked() {
		t.Error("new estimator should not be locked")
	}
	if s := e.Snapshot(); s != (EstimatorState{}) {
		t.Errorf("new estimator should be empty, got %+v", s)
	}
}

func TestFirstEdgeOpensWindow(t *testing.T) {
	e := NewEstimator(10 * time.Second)

	r := e.OnEdge(t0)
	if r.Kind != ResultStarted {
		t.Fatalf("expected STARTED, got %s", r.Kind)
	}

	s := e.Snapshot()
	if !s.WindowStart.Equal(t0) {
		t.Errorf("window start: got %v, want %v", s.WindowStart, t0)
	}
	if s.EventCount != 0 {
		t.Errorf("event count: got %d, want 0", s.EventCount)
	}
}

// Scenario: one edge, then another 3s later -> 30*1/3 = 10.
func TestProvisionalRateAfterThreeSeconds(t *testing.T) {
	e := NewEstimator(10 * time.Second)
	e.OnEdge(t0)

	r := e.OnEdge(t0.Add(3 * time.Second))
	if r.Kind != ResultEstimating {
		t.Fatalf("expected ESTIMATING, got %s", r.Kind)
	}
	if r.Rate != 10 {
		t.Errorf("provisional rate: got %d, want 10", r.Rate)
	}
	if r.Elapsed != 3*time.Second {
		t.Errorf("elapsed: got %v, want 3s", r.Elapsed)
	}
	if e.Locked() {
		t.Error("should not lock before wait time")
	}
}

// Scenario: edges every second lock at 30 once 10s have elapsed.
func TestLockAfterWaitTime(t *testing.T) {
	e := NewEstimator(10 * time.Second)

	results := feedEvenly(e, time.Second, 20)
	last := results[len(results)-1]
	if last.Kind != ResultLocked {
		t.Fatalf("expected LOCKED, got %s", last.Kind)
	}
	if len(results) != 11 {
		t.Errorf("expected lock on edge 11 (t=10s), got edge %d", len(results))
	}
	if last.Rate != 30 {
		t.Errorf("locked rate: got %d, want 30", last.Rate)
	}
	if last.Count != 10 {
		t.Errorf("count: got %d, want 10", last.Count)
	}
	if got := e.Snapshot().LockedRate; got != 30 {
		t.Errorf("snapshot locked rate: got %d, want 30", got)
	}
	if HalfPeriod(last.Rate) != time.Second {
		t.Errorf("half period: got %v, want 1s", HalfPeriod(last.Rate))
	}
}

func TestLockedRateMatchesInterval(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     int
	}{
		{250 * time.Millisecond, 120},
		{400 * time.Millisecond, 75},
		{500 * time.Millisecond, 60},
		{time.Second, 30},
		{1500 * time.Millisecond, 20},
		{2 * time.Second, 15},
		{700 * time.Millisecond, 43},
	}

	for _, tt := range tests {
		t.Run(tt.interval.String(), func(t *testing.T) {
			e := NewEstimator(10 * time.Second)
			results := feedEvenly(e, tt.interval, 1000)
			last := results[len(results)-1]
			if last.Kind != ResultLocked {
				t.Fatalf("expected LOCKED, got %s", last.Kind)
			}
			if last.Rate != tt.want {
				t.Errorf("locked rate: got %d, want %d", last.Rate, tt.want)
			}
		})
	}
}

func TestLockIndependentOfExtraEdges(t *testing.T) {
	short := NewEstimator(5 * time.Second)
	long := NewEstimator(20 * time.Second)

	a := feedEvenly(short, 500*time.Millisecond, 1000)
	b := feedEvenly(long, 500*time.Millisecond, 1000)

	if a[len(a)-1].Rate != b[len(b)-1].Rate {
		t.Errorf("lock depends on window length: %d vs %d", a[len(a)-1].Rate, b[len(b)-1].Rate)
	}
}

func TestSimultaneousEdgesDoNotDivideByZero(t *testing.T) {
	e := NewEstimator(10 * time.Second)
	e.OnEdge(t0)

	r := e.OnEdge(t0)
	if r.Kind != ResultEstimating {
		t.Fatalf("expected ESTIMATING, got %s", r.Kind)
	}
	if r.Rate != 0 {
		t.Errorf("rate: got %d, want 0 (no update)", r.Rate)
	}
	if r.Count != 1 {
		t.Errorf("count: got %d, want 1", r.Count)
	}
}

func TestSingleEdgeDoesNotLock(t *testing.T) {
	e := NewEstimator(10 * time.Second)
	e.OnEdge(t0)
	r := e.OnEdge(t0.Add(9 * time.Second))
	if r.Kind == ResultLocked {
		t.Error("should not lock before wait time")
	}
}

func TestSparseSignalLocksLowRate(t *testing.T) {
	e := NewEstimator(10 * time.Second)
	e.OnEdge(t0)
	e.OnEdge(t0.Add(9 * time.Second)) // 30*1/9 = 3

	r := e.OnEdge(t0.Add(10 * time.Second))
	if r.Kind != ResultLocked {
		t.Fatalf("expected LOCKED, got %s", r.Kind)
	}
	if r.Rate != 3 {
		t.Errorf("locked rate: got %d, want 3", r.Rate)
	}
}

func TestZeroRateAtSettleRestartsWindow(t *testing.T) {
	e := NewEstimator(10 * time.Second)
	e.OnEdge(t0)

	later := t0.Add(15 * time.Second)
	r := e.OnEdge(later)
	if r.Kind != ResultStarted {
		t.Fatalf("expected STARTED, got %s", r.Kind)
	}
	if e.Locked() {
		t.Error("should not lock a zero rate")
	}
	s := e.Snapshot()
	if !s.WindowStart.Equal(later) {
		t.Errorf("window start: got %v, want %v", s.WindowStart, later)
	}
	if s.EventCount != 0 {
		t.Errorf("event count: got %d, want 0", s.EventCount)
	}
}

func TestLockIsTerminalForCycle(t *testing.T) {
	e := NewEstimator(2 * time.Second)
	results := feedEvenly(e, time.Second, 10)
	locked := results[len(results)-1].Rate

	r := e.OnEdge(t0.Add(time.Minute))
	if r.Kind != ResultLocked || r.Rate != locked {
		t.Errorf("expected unchanged lock %d, got %s %d", locked, r.Kind, r.Rate)
	}
}

func TestReset(t *testing.T) {
	e := NewEstimator(10 * time.Second)
	feedEvenly(e, time.Second, 20)
	if !e.Locked() {
		t.Fatal("expected lock before reset")
	}

	e.Reset()
	if e.Locked() {
		t.Error("should not be locked after reset")
	}
	if s := e.Snapshot(); s != (EstimatorState{}) {
		t.Errorf("expected empty state after reset, got %+v", s)
	}

	// A new cycle starts fresh.
	if r := e.OnEdge(t0.Add(time.Hour)); r.Kind != ResultStarted {
		t.Errorf("expected STARTED after reset, got %s", r.Kind)
	}
}

func TestResetIdempotent(t *testing.T) {
	e := NewEstimator(10 * time.Second)
	e.Reset()
	first := e.Snapshot()
	e.Reset()
	if e.Snapshot() != first || first != (EstimatorState{}) {
		t.Errorf("reset should be a no-op on a clean estimator, got %+v", e.Snapshot())
	}
}

func TestHalfPeriod(t *testing.T) {
	tests := []struct {
		rate int
		want time.Duration
	}{
		{30, time.Second},
		{60, 500 * time.Millisecond},
		{150, 200 * time.Millisecond},
		{20, 1500 * time.Millisecond},
		{0, 0},
		{-5, 0},
	}
	for _, tt := range tests {
		if got := HalfPeriod(tt.rate); got != tt.want {
			t.Errorf("HalfPeriod(%d): got %v, want %v", tt.rate, got, tt.want)
		}
	}
}
