// Package monitor runs the pulse-sensor event loop. It multiplexes the
// sensor and button edge streams with an idle timeout, feeds the rate
// estimator and idle pace controller, and hands the output line back and
// forth between itself and the blinker.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/pulse-sensor/internal/blink"
	"github.com/sweeney/pulse-sensor/internal/gpio"
	"github.com/sweeney/pulse-sensor/internal/logic"
	"github.com/sweeney/pulse-sensor/internal/mqtt"
	"github.com/sweeney/pulse-sensor/internal/status"
)

var (
	// ErrSensorClosed is returned by Run when the sensor edge stream ends.
	ErrSensorClosed = errors.New("monitor: sensor stream closed")
	// ErrButtonClosed is returned by Run when the button edge stream ends.
	ErrButtonClosed = errors.New("monitor: button stream closed")
)

// Config holds the loop settings.
type Config struct {
	// Wait is the settle time between the first sensor edge of a window
	// and the lock.
	Wait time.Duration

	// Pace configures the idle pace controller.
	Pace logic.PaceConfig

	// DefaultIdleRate is published on shutdown. Zero means
	// logic.DefaultIdleRate.
	DefaultIdleRate int
}

// Deps are the collaborators of a Monitor. Sensor and Output are required.
type Deps struct {
	Sensor    gpio.Input
	Button    gpio.Input // nil = no button
	Output    gpio.Output
	Publisher mqtt.Publisher  // nil = telemetry disabled
	Tracker   *status.Tracker // nil = no status surface
	Logger    *slog.Logger

	// Now and After default to time.Now and time.After.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// Monitor owns all loop state. Handle* methods and Run must be called from
// a single goroutine.
type Monitor struct {
	cfg    Config
	sensor gpio.Input
	button gpio.Input
	out    gpio.Output
	pub    mqtt.Publisher
	conn   mqtt.ConnectionStatus
	stats  mqtt.StatsReporter
	tr     *status.Tracker
	logger *slog.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time

	est     *logic.Estimator
	pace    *logic.IdlePace
	blinker *blink.Blinker

	state    logic.State
	level    bool
	counts   logic.Counts
	lastEdge time.Time

	shutdown sync.Once
}

// New validates cfg and builds a Monitor in the IDLE state.
func New(cfg Config, deps Deps) (*Monitor, error) {
	if deps.Sensor == nil {
		return nil, errors.New("monitor: sensor input required")
	}
	if deps.Output == nil {
		return nil, errors.New("monitor: output required")
	}
	if cfg.Wait <= 0 {
		return nil, fmt.Errorf("monitor: wait %v must be positive", cfg.Wait)
	}
	pace, err := logic.NewIdlePace(cfg.Pace)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	if cfg.DefaultIdleRate <= 0 {
		cfg.DefaultIdleRate = logic.DefaultIdleRate
	}

	m := &Monitor{
		cfg:    cfg,
		sensor: deps.Sensor,
		button: deps.Button,
		out:    deps.Output,
		pub:    deps.Publisher,
		tr:     deps.Tracker,
		logger: deps.Logger,
		now:    deps.Now,
		after:  deps.After,
		est:    logic.NewEstimator(cfg.Wait),
		pace:   pace,
		state:  logic.StateIdle,
	}
	if m.pub == nil {
		m.pub = mqtt.Nop{}
	}
	if cs, ok := m.pub.(mqtt.ConnectionStatus); ok {
		m.conn = cs
	}
	if sr, ok := m.pub.(mqtt.StatsReporter); ok {
		m.stats = sr
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.after == nil {
		m.after = time.After
	}
	m.blinker = blink.New(m.out, m.logger)
	return m, nil
}

// Run drives the loop until ctx is cancelled or an edge stream ends.
// The output is left off and the default idle rate published on return.
// Cancellation returns nil; a closed stream is fatal and returned.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.Shutdown()

	m.write(false)
	m.publish(m.pace.Rate())
	m.report()
	m.logger.Debug("monitor started",
		"wait", m.cfg.Wait, "idle_rate", m.pace.Rate(), "timeout", m.pace.Timeout(), "button", m.button != nil)

	sensor := m.sensor.Events()
	var button <-chan gpio.Edge
	if m.button != nil {
		button = m.button.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-sensor:
			if !ok {
				m.logger.Error("sensor stream closed")
				return ErrSensorClosed
			}
			m.HandleSensor(e)

		case e, ok := <-button:
			if !ok {
				m.logger.Error("button stream closed")
				return ErrButtonClosed
			}
			m.HandleButton(e)

		case <-m.after(m.pace.Timeout()):
			m.HandleTimeout()
		}
	}
}

// HandleSensor processes one sensor edge.
func (m *Monitor) HandleSensor(e gpio.Edge) {
	t := m.stamp(e)
	m.counts.SensorEdges++
	m.lastEdge = t
	defer m.report()

	if m.state == logic.StateLocked {
		return
	}

	res := m.est.OnEdge(t)
	switch res.Kind {
	case logic.ResultStarted:
		m.write(false)
		m.state = logic.StateMeasuring
		m.logger.Debug("measuring", "elapsed", res.Elapsed)

	case logic.ResultEstimating:
		m.state = logic.StateMeasuring
		m.logger.Debug("estimating", "rate", res.Rate, "count", res.Count, "elapsed", res.Elapsed)

	case logic.ResultLocked:
		if err := m.blinker.Start(res.Rate); err != nil {
			m.logger.Error("blink start failed", "rate", res.Rate, "error", err)
			return
		}
		m.state = logic.StateLocked
		m.counts.Locks++
		m.publish(res.Rate)
		m.logger.Debug("locked", "rate", res.Rate, "count", res.Count, "elapsed", res.Elapsed)
	}
}

// HandleButton processes one button edge.
func (m *Monitor) HandleButton(e gpio.Edge) {
	defer m.report()

	if !m.pace.OnButton(m.stamp(e)) {
		m.counts.ButtonIgnored++
		m.logger.Debug("button ignored", "idle_rate", m.pace.Rate())
		return
	}
	m.counts.ButtonAccepted++
	m.logger.Debug("idle rate changed",
		"idle_rate", m.pace.Rate(), "increment", m.pace.Increment(), "timeout", m.pace.Timeout())
}

// HandleTimeout processes an idle timeout: a lost lock falls back to IDLE,
// and in every state the output toggles once.
func (m *Monitor) HandleTimeout() {
	defer m.report()

	if m.state == logic.StateLocked {
		rate := m.blinker.Rate()
		m.publish(m.pace.Rate())
		// Take the line over at the level the blinker left it, so the
		// toggle below is always visible.
		m.level = m.blinker.Stop()
		m.counts.Fallbacks++
		m.logger.Debug("signal lost", "locked_rate", rate, "idle_rate", m.pace.Rate())
	}

	m.est.Reset()
	m.state = logic.StateIdle
	m.counts.IdleTicks++
	m.write(!m.level)
	m.logger.Debug("idle tick", "level", m.level, "idle_rate", m.pace.Rate())
}

// Shutdown stops the blinker, drives the output off and publishes the
// default idle rate. Only the first call has any effect.
func (m *Monitor) Shutdown() {
	m.shutdown.Do(func() {
		m.blinker.Stop()
		m.write(false)
		m.publish(m.cfg.DefaultIdleRate)
		m.state = logic.StateIdle
		m.report()
		m.logger.Debug("monitor stopped")
	})
}

// State returns the loop state.
func (m *Monitor) State() logic.State {
	return m.state
}

// IdleRate returns the current idle rate.
func (m *Monitor) IdleRate() int {
	return m.pace.Rate()
}

// LockedRate returns the rate the blinker is running at, or 0.
func (m *Monitor) LockedRate() int {
	return m.blinker.Rate()
}

// Counts returns the activity counters.
func (m *Monitor) Counts() logic.Counts {
	c := m.counts
	c.DroppedEdges = m.dropped()
	return c
}

func (m *Monitor) stamp(e gpio.Edge) time.Time {
	if e.Time.IsZero() {
		return m.now()
	}
	return e.Time
}

// write drives the output from the loop. Callers guarantee the blinker is
// stopped.
func (m *Monitor) write(on bool) {
	m.level = on
	if err := m.out.Set(on); err != nil {
		m.logger.Warn("output write failed", "level", on, "error", err)
	}
}

func (m *Monitor) publish(rate int) {
	if err := m.pub.PublishRate(rate); err != nil {
		m.logger.Warn("publish failed", "rate", rate, "error", err)
	}
}

func (m *Monitor) dropped() uint64 {
	n := m.sensor.Dropped()
	if m.button != nil {
		n += m.button.Dropped()
	}
	return n
}

func (m *Monitor) report() {
	if m.tr == nil {
		return
	}
	snap := m.est.Snapshot()
	m.tr.Update(status.Pulse{
		State:           m.state,
		LockedRate:      m.blinker.Rate(),
		ProvisionalRate: snap.ProvisionalRate,
		IdleRate:        m.pace.Rate(),
		Timeout:         m.pace.Timeout(),
		Counts:          m.Counts(),
		LastSensorEdge:  m.lastEdge,
	})
	if m.conn != nil {
		m.tr.SetMQTTConnected(m.conn.IsConnected())
	}
	if m.stats != nil {
		st := m.stats.Stats()
		m.tr.SetTelemetry(status.Telemetry{
			Published: st.Published,
			Failed:    st.Failed,
			Dropped:   st.Dropped,
			Breaker:   st.Breaker,
		})
	}
}
