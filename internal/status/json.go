package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	State           string     `json:"state"`
	LockedRate      int        `json:"locked_bpm"`
	ProvisionalRate int        `json:"provisional_bpm"`
	IdleRate        int        `json:"idle_bpm"`
	TimeoutMs       int64      `json:"timeout_ms"`
	LastSensorEdge  string     `json:"last_sensor_edge,omitempty"`
	UptimeSeconds   int64      `json:"uptime_seconds"`
	StartTime       string     `json:"start_time"`
	Timestamp       string     `json:"timestamp"`
	MQTT            MQTTStatus `json:"mqtt"`
	Counts          CountsJSON `json:"counts"`
	Config          ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Topic     string `json:"topic"`
	Breaker   string `json:"breaker,omitempty"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// CountsJSON is the JSON representation of monitor counters.
type CountsJSON struct {
	SensorEdges    int    `json:"sensor_edges"`
	DroppedEdges   uint64 `json:"dropped_edges"`
	Locks          int    `json:"locks"`
	Fallbacks      int    `json:"fallbacks"`
	IdleTicks      int    `json:"idle_ticks"`
	ButtonAccepted int    `json:"button_accepted"`
	ButtonIgnored  int    `json:"button_ignored"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SensorPin  int    `json:"sensor_pin"`
	OutputPin  int    `json:"output_pin"`
	ButtonPin  int    `json:"button_pin"`
	WaitMs     int64  `json:"wait_ms"`
	DebounceMs int64  `json:"debounce_ms"`
	IdleMin    int    `json:"idle_min"`
	IdleMax    int    `json:"idle_max"`
	IdleStep   int    `json:"idle_step"`
	HTTPAddr   string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		State:           state,
		LockedRate:      snap.LockedRate,
		ProvisionalRate: snap.ProvisionalRate,
		IdleRate:        snap.IdleRate,
		TimeoutMs:       snap.Timeout.Milliseconds(),
		UptimeSeconds:   int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:       snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:       snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Topic:     snap.Config.Topic,
			Breaker:   snap.Telemetry.Breaker,
			Published: snap.Telemetry.Published,
			Failed:    snap.Telemetry.Failed,
			Dropped:   snap.Telemetry.Dropped,
		},
		Counts: CountsJSON{
			SensorEdges:    snap.Counts.SensorEdges,
			DroppedEdges:   snap.Counts.DroppedEdges,
			Locks:          snap.Counts.Locks,
			Fallbacks:      snap.Counts.Fallbacks,
			IdleTicks:      snap.Counts.IdleTicks,
			ButtonAccepted: snap.Counts.ButtonAccepted,
			ButtonIgnored:  snap.Counts.ButtonIgnored,
		},
		Config: ConfigJSON{
			SensorPin:  snap.Config.SensorPin,
			OutputPin:  snap.Config.OutputPin,
			ButtonPin:  snap.Config.ButtonPin,
			WaitMs:     snap.Config.WaitMs,
			DebounceMs: snap.Config.DebounceMs,
			IdleMin:    snap.Config.IdleMin,
			IdleMax:    snap.Config.IdleMax,
			IdleStep:   snap.Config.IdleStep,
			HTTPAddr:   snap.Config.HTTPAddr,
		},
	}
	if !snap.LastSensorEdge.IsZero() {
		inner.LastSensorEdge = snap.LastSensorEdge.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
