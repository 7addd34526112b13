// Package mqtt publishes pump events, telemetry and lifecycle events, and
// receives operator commands, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/tank-controller/internal/logic"
)

// Topics are the per-device MQTT topics.
type Topics struct {
	// Status carries the retained online/offline marker and periodic telemetry.
	Status string
	// Events carries pump transitions.
	Events string
	// System carries lifecycle events (STARTUP, SHUTDOWN, RECONNECTED).
	System string
	// Control is subscribed for operator commands.
	Control string
}

// NewTopics returns the topics for deviceID under home_iot/.
func NewTopics(deviceID string) Topics {
	base := fmt.Sprintf("home_iot/%s/", deviceID)
	return Topics{
		Status:  base + "status",
		Events:  base + "events",
		System:  base + "system",
		Control: base + "control",
	}
}

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishEvent sends a pump transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishEvent(event logic.Event) error

	// PublishTelemetry sends a pre-formatted telemetry payload.
	PublishTelemetry(payload []byte) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a pump event.
type Payload struct {
	Pump PumpPayload `json:"pump"`
}

// PumpPayload contains the pump event details.
type PumpPayload struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	Reason    string  `json:"reason"`
	Level     float64 `json:"level"`
}

// FormatPayload creates the JSON payload for a pump event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Pump: PumpPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Reason:    string(event.Reason),
			Level:     event.Level,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
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

// Presence payloads on the status topic. Offline is also the last will.
var (
	PayloadOnline  = []byte(`{"status":"online"}`)
	PayloadOffline = []byte(`{"status":"offline"}`)
)
