// Package events publishes agent lifecycle and actuation events to
// MQTT, with abstraction for testing. The stream is best-effort: a
// failed publish is logged by the caller, never retried.
package events

import (
	"encoding/json"
	"time"
)

// Topic is the MQTT topic for actuation events.
const Topic = "agrogo/field/actuations"

// TopicSystem is the MQTT topic for agent lifecycle events.
const TopicSystem = "agrogo/field/system"

// Publisher publishes agent events.
type Publisher interface {
	// PublishActuation sends an actuation event to the broker.
	// Returns error if publishing fails (must not crash the process).
	PublishActuation(event ActuationEvent) error

	// PublishSystem sends a lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// ActuationEvent records one actuator firing.
type ActuationEvent struct {
	Timestamp time.Time
	Kind      string // "fan", "water", ...
	Pin       int
	Duration  time.Duration
	Source    string // "schedule" or "trigger"
	Trigger   string // trigger kind when Source == "trigger"
}

// SystemEvent represents an agent lifecycle event
// (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// ActuationPayload is the MQTT message payload for actuation events.
type ActuationPayload struct {
	Actuation ActuationInner `json:"actuation"`
}

// ActuationInner contains the actuation details.
type ActuationInner struct {
	Timestamp       string `json:"timestamp"`
	Kind            string `json:"kind"`
	Pin             int    `json:"pin"`
	DurationSeconds int64  `json:"duration_seconds"`
	Source          string `json:"source"`
	Trigger         string `json:"trigger,omitempty"`
}

// FormatActuationPayload creates the JSON payload for an actuation
// event.
func FormatActuationPayload(event ActuationEvent) ([]byte, error) {
	payload := ActuationPayload{
		Actuation: ActuationInner{
			Timestamp:       event.Timestamp.UTC().Format(time.RFC3339),
			Kind:            event.Kind,
			Pin:             event.Pin,
			DurationSeconds: int64(event.Duration.Seconds()),
			Source:          event.Source,
			Trigger:         event.Trigger,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the MQTT message payload for simple lifecycle
// events that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the lifecycle event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a lifecycle event.
// If event.RawPayload is set, it is returned directly (used for full
// status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
