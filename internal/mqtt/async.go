package mqtt

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Async defaults.
const (
	DefaultQueueSize    = 64
	DefaultRatePerSec   = 10
	defaultFlushTimeout = 3 * time.Second
)

// AsyncOptions configures an AsyncPublisher.
type AsyncOptions struct {
	QueueSize    int           // oldest messages are dropped beyond this
	RatePerSec   float64       // publish rate limit towards the inner publisher
	Burst        int           // limiter burst; defaults to QueueSize
	FlushTimeout time.Duration // how long Close waits for the queue to drain
}

// AsyncPublisher queues publishes and hands them to an inner Publisher
// from its own goroutine, so callers never block on the broker. Errors
// from the inner publisher are logged and counted, never returned.
type AsyncPublisher struct {
	inner   Publisher
	limiter *rate.Limiter
	logger  *slog.Logger
	flush   time.Duration

	mu     sync.Mutex
	queue  *ringBuffer
	closed bool

	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewAsync starts an AsyncPublisher in front of inner.
func NewAsync(inner Publisher, opts AsyncOptions, logger *slog.Logger) *AsyncPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = DefaultRatePerSec
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.QueueSize
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = defaultFlushTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncPublisher{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		logger:  logger,
		flush:   opts.FlushTimeout,
		queue:   newRingBuffer(opts.QueueSize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go a.run(ctx)
	return a
}

func (a *AsyncPublisher) enqueue(msg bufferedMsg) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrQueueClosed
	}
	overflow := a.queue.push(msg)
	a.mu.Unlock()
	if overflow {
		a.logger.Warn("telemetry queue full, dropping oldest", "capacity", a.queue.capacity)
	}

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// PublishRate queues a rate publish.
func (a *AsyncPublisher) PublishRate(rate int) error {
	return a.enqueue(bufferedMsg{rate: rate})
}

// PublishSystem queues a system event publish.
func (a *AsyncPublisher) PublishSystem(event SystemEvent) error {
	return a.enqueue(bufferedMsg{system: &event})
}

func (a *AsyncPublisher) run(ctx context.Context) {
	defer close(a.done)
	for {
		a.mu.Lock()
		msgs := a.queue.drainAll()
		closed := a.closed
		a.mu.Unlock()

		for i, msg := range msgs {
			if err := a.limiter.Wait(ctx); err != nil {
				a.failed.Add(uint64(len(msgs) - i))
				return
			}
			a.send(msg)
		}
		if len(msgs) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-a.wake:
		case <-ctx.Done():
			return
		}
	}
}

func (a *AsyncPublisher) send(msg bufferedMsg) {
	var err error
	if msg.system != nil {
		err = a.inner.PublishSystem(*msg.system)
	} else {
		err = a.inner.PublishRate(msg.rate)
	}
	if err != nil {
		a.failed.Add(1)
		a.logger.Warn("telemetry publish failed", "error", err)
		return
	}
	a.published.Add(1)
}

// Published returns the number of messages the inner publisher accepted.
func (a *AsyncPublisher) Published() uint64 {
	return a.published.Load()
}

// Failed returns the number of messages that errored or were abandoned at Close.
func (a *AsyncPublisher) Failed() uint64 {
	return a.failed.Load()
}

// Dropped returns the number of messages evicted from a full queue.
func (a *AsyncPublisher) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.dropped
}

// Stats returns the delivery counters, with the inner publisher's
// circuit breaker state when it has one.
func (a *AsyncPublisher) Stats() Stats {
	st := Stats{
		Published: a.Published(),
		Failed:    a.Failed(),
		Dropped:   a.Dropped(),
	}
	if b, ok := a.inner.(interface{ BreakerState() string }); ok {
		st.Breaker = b.BreakerState()
	}
	return st
}

// IsConnected forwards to the inner publisher when it reports connection state.
func (a *AsyncPublisher) IsConnected() bool {
	if cs, ok := a.inner.(ConnectionStatus); ok {
		return cs.IsConnected()
	}
	return false
}

// Close stops accepting messages, waits up to the flush timeout for the
// queue to drain, then closes the inner publisher.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}

	timer := time.NewTimer(a.flush)
	defer timer.Stop()
	select {
	case <-a.done:
	case <-timer.C:
		a.logger.Warn("telemetry flush timed out", "timeout", a.flush)
		a.cancel()
		<-a.done
	}
	a.cancel()
	return a.inner.Close()
}
