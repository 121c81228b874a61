package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pulse-sensor/internal/logic"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{SensorPin: 17, OutputPin: 18, ButtonPin: -1, WaitMs: 10000, Broker: "tcp://localhost:1883", HTTPAddr: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.WaitMs != 10000 {
		t.Errorf("Config.WaitMs: got %d, want 10000", snap.Config.WaitMs)
	}
	if snap.Config.HTTPAddr != ":80" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":80")
	}
	if snap.State != logic.StateIdle {
		t.Errorf("State: got %q, want IDLE", snap.State)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(Pulse{
		State:      logic.StateLocked,
		LockedRate: 72,
		IdleRate:   30,
		Timeout:    time.Second,
		Counts:     logic.Counts{SensorEdges: 24, Locks: 1},
	})

	snap := tr.Snapshot()
	if snap.State != logic.StateLocked {
		t.Errorf("State: got %q, want LOCKED", snap.State)
	}
	if snap.LockedRate != 72 {
		t.Errorf("LockedRate: got %d, want 72", snap.LockedRate)
	}
	if snap.Counts.SensorEdges != 24 {
		t.Errorf("Counts.SensorEdges: got %d, want 24", snap.Counts.SensorEdges)
	}
	if snap.Counts.Locks != 1 {
		t.Errorf("Counts.Locks: got %d, want 1", snap.Counts.Locks)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetTelemetry(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	if got := tr.Snapshot().Telemetry; got != (Telemetry{}) {
		t.Errorf("initial telemetry: got %+v, want zero", got)
	}

	want := Telemetry{Published: 5, Failed: 2, Dropped: 1, Breaker: "half-open"}
	tr.SetTelemetry(want)
	if got := tr.Snapshot().Telemetry; got != want {
		t.Errorf("telemetry: got %+v, want %+v", got, want)
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Now().Add(-5 * time.Minute)
	tr := NewTracker(start, Config{})

	up := tr.Snapshot().Uptime()
	if up < 5*time.Minute || up > 5*time.Minute+time.Second {
		t.Errorf("Uptime: got %v, want ~5m", up)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(Pulse{State: logic.StateMeasuring, ProvisionalRate: 60})

	snap := tr.Snapshot()
	tr.Update(Pulse{State: logic.StateIdle})

	if snap.State != logic.StateMeasuring || snap.ProvisionalRate != 60 {
		t.Errorf("snapshot changed after update: %+v", snap.Pulse)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, Config{SensorPin: 17, OutputPin: 18, ButtonPin: 27, Broker: "tcp://b:1883", Topic: "pulse/bpm"})
	edge := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	tr.Update(Pulse{
		State:          logic.StateLocked,
		LockedRate:     60,
		IdleRate:       30,
		Timeout:        time.Second,
		Counts:         logic.Counts{SensorEdges: 10, DroppedEdges: 2, Locks: 1, ButtonIgnored: 1},
		LastSensorEdge: edge,
	})
	tr.SetMQTTConnected(true)
	tr.SetTelemetry(Telemetry{Published: 12, Failed: 3, Dropped: 1, Breaker: "open"})

	var sj StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := sj.Status
	if s.State != "LOCKED" {
		t.Errorf("State: got %q, want LOCKED", s.State)
	}
	if s.LockedRate != 60 || s.IdleRate != 30 {
		t.Errorf("rates: got locked=%d idle=%d", s.LockedRate, s.IdleRate)
	}
	if s.TimeoutMs != 1000 {
		t.Errorf("TimeoutMs: got %d, want 1000", s.TimeoutMs)
	}
	if s.LastSensorEdge != "2026-01-01T00:01:00Z" {
		t.Errorf("LastSensorEdge: got %q", s.LastSensorEdge)
	}
	if s.StartTime != "2026-01-01T00:00:00Z" {
		t.Errorf("StartTime: got %q", s.StartTime)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://b:1883" || s.MQTT.Topic != "pulse/bpm" {
		t.Errorf("MQTT: got %+v", s.MQTT)
	}
	if s.MQTT.Breaker != "open" || s.MQTT.Published != 12 || s.MQTT.Failed != 3 || s.MQTT.Dropped != 1 {
		t.Errorf("MQTT telemetry: got %+v", s.MQTT)
	}
	if s.Counts.SensorEdges != 10 || s.Counts.DroppedEdges != 2 || s.Counts.ButtonIgnored != 1 {
		t.Errorf("Counts: got %+v", s.Counts)
	}
	if s.Config.ButtonPin != 27 {
		t.Errorf("Config.ButtonPin: got %d, want 27", s.Config.ButtonPin)
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	var sj StatusJSON
	if err := json.Unmarshal(FormatJSON(Snapshot{}), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.State != "UNKNOWN" {
		t.Errorf("State: got %q, want UNKNOWN", sj.Status.State)
	}
	if sj.Status.LastSensorEdge != "" {
		t.Errorf("LastSensorEdge should be omitted, got %q", sj.Status.LastSensorEdge)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(Pulse{State: logic.StateMeasuring, ProvisionalRate: n*100 + j})
				tr.SetMQTTConnected(j%2 == 0)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				FormatJSON(tr.Snapshot())
			}
		}()
	}
	wg.Wait()
}
