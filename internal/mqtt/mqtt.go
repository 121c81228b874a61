// Package mqtt provides telemetry publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// DefaultTopic is the MQTT topic for pulse rates.
const DefaultTopic = "pulse/bpm"

// DefaultSystemTopic is the MQTT topic for system lifecycle events.
const DefaultSystemTopic = "pulse/system"

// ErrQueueClosed is returned when publishing to a closed AsyncPublisher.
var ErrQueueClosed = errors.New("mqtt: publisher closed")

// Publisher publishes telemetry.
type Publisher interface {
	// PublishRate sends a rate in beats per minute.
	// Returns error if publishing fails (should not crash the process).
	PublishRate(rate int) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Stats counts telemetry deliveries.
type Stats struct {
	Published uint64
	Failed    uint64
	Dropped   uint64 // evicted from a full queue
	Breaker   string // circuit breaker state, empty if there is none
}

// StatsReporter is implemented by publishers that count deliveries.
type StatsReporter interface {
	Stats() Stats
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason    string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	Session   string // process session id
	Retained  bool   // Whether the message should be retained by the broker
}

// FormatRate creates the payload for a rate: the decimal number as text.
func FormatRate(rate int) []byte {
	return []byte(strconv.Itoa(rate))
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	Session   string `json:"session,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Session:   event.Session,
		},
	}
	return json.Marshal(payload)
}

// Nop is the publisher used when no broker is configured.
type Nop struct{}

func (Nop) PublishRate(int) error { return nil }
func (Nop) PublishSystem(SystemEvent) error { return nil }
func (Nop) Close() error { return nil }
func (Nop) IsConnected() bool { return false }
