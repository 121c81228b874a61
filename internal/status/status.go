// Package status provides a thread-safe status tracker for the pulse-sensor daemon.
// It is written by the monitor loop and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pulse-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	SensorPin  int
	OutputPin  int
	ButtonPin  int // -1 = none
	WaitMs     int64
	DebounceMs int64
	IdleMin    int
	IdleMax    int
	IdleStep   int
	Broker     string
	Topic      string
	HTTPAddr   string
}

// Pulse is the monitor-owned part of the status.
type Pulse struct {
	State           logic.State
	LockedRate      int
	ProvisionalRate int
	IdleRate        int
	Timeout         time.Duration
	Counts          logic.Counts
	LastSensorEdge  time.Time
}

// Telemetry summarises delivery to the MQTT broker.
type Telemetry struct {
	Published uint64
	Failed    uint64
	Dropped   uint64 // evicted from a full queue
	Breaker   string // circuit breaker state, empty without a broker
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Pulse
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Telemetry     Telemetry
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Pulse:     Pulse{State: logic.StateIdle},
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update replaces the monitor-owned state.
// Called from the monitor loop after every event or timeout.
func (t *Tracker) Update(p Pulse) {
	t.mu.Lock()
	t.snap.Pulse = p
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetTelemetry records the publisher's delivery counters.
func (t *Tracker) SetTelemetry(tel Telemetry) {
	t.mu.Lock()
	t.snap.Telemetry = tel
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
