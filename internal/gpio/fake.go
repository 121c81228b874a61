package gpio

import (
	"sync"
	"sync/atomic"
	"time"
)

// FakeInput is a test double whose edges are injected by the test.
type FakeInput struct {
	events  chan Edge
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool

	// CloseError, if set, will be returned by Close.
	CloseError error
}

// NewFakeInput creates a FakeInput with the given stream capacity.
func NewFakeInput(buffer int) *FakeInput {
	return &FakeInput{events: make(chan Edge, buffer)}
}

// Send queues an edge. It reports false (and counts a drop) if the stream
// is full or closed.
func (f *FakeInput) Send(e Edge) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.events <- e:
		return true
	default:
		f.dropped.Add(1)
		return false
	}
}

// SendAt queues a falling edge stamped with t.
func (f *FakeInput) SendAt(t time.Time) bool {
	return f.Send(Edge{Time: t})
}

// Events returns the edge stream.
func (f *FakeInput) Events() <-chan Edge {
	return f.events
}

// Dropped returns the number of edges Send could not queue.
func (f *FakeInput) Dropped() uint64 {
	return f.dropped.Load()
}

// Close closes the edge stream.
func (f *FakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return f.CloseError
}

// Closed reports whether Close was called.
func (f *FakeInput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeOutput records writes. It is safe for concurrent use and counts
// overlapping Set calls, which would indicate two writers.
type FakeOutput struct {
	mu       sync.Mutex
	writes   []bool
	level    bool
	closed   bool
	setError error

	inSet    atomic.Int32
	overlaps atomic.Int32

	// OnSet, if set, is called inside Set (outside the lock).
	OnSet func(on bool)
}

// NewFakeOutput creates a FakeOutput, initially low.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the write.
func (f *FakeOutput) Set(on bool) error {
	if !f.inSet.CompareAndSwap(0, 1) {
		f.overlaps.Add(1)
	} else {
		defer f.inSet.Store(0)
	}

	if f.OnSet != nil {
		f.OnSet(on)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setError != nil {
		return f.setError
	}
	f.writes = append(f.writes, on)
	f.level = on
	return nil
}

// SetError makes subsequent Set calls fail with err (nil clears it).
func (f *FakeOutput) SetError(err error) {
	f.mu.Lock()
	f.setError = err
	f.mu.Unlock()
}

// Writes returns a copy of all recorded writes.
func (f *FakeOutput) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.writes...)
}

// WriteCount returns the number of recorded writes.
func (f *FakeOutput) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// Level returns the last written level.
func (f *FakeOutput) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// Overlaps returns the number of Set calls that ran concurrently with another.
func (f *FakeOutput) Overlaps() int {
	return int(f.overlaps.Load())
}

// Close marks the output closed and drives it low.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.level = false
	return nil
}

// Closed reports whether Close was called.
func (f *FakeOutput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded writes.
func (f *FakeOutput) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
	f.level = false
	f.closed = false
	f.setError = nil
}
