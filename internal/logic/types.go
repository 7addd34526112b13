// Package logic contains the pump control state machine.
// It has no hardware or transport dependencies: the relay is an interface and
// every decision is driven by the Inputs passed to Update.
package logic

import "time"

// State represents the logical state of the pump.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// EventType represents a pump transition.
type EventType string

const (
	EventPumpOn  EventType = "PUMP_ON"
	EventPumpOff EventType = "PUMP_OFF"
)

// Reason explains why Update reached its decision.
type Reason string

const (
	ReasonSafetyFull Reason = "SAFETY_FULL"
	ReasonManual     Reason = "MANUAL"
	ReasonAutoLow    Reason = "AUTO_LOW"
	ReasonAutoFull   Reason = "AUTO_FULL"
	ReasonHold       Reason = "HOLD"
	ReasonIdle       Reason = "IDLE"
	ReasonFailSafe   Reason = "FAIL_SAFE"
	ReasonShutdown   Reason = "SHUTDOWN"
)

// Inputs are the per-tick control inputs. Level and thresholds share a unit,
// either a fill percentage or a raw distance; the controller only compares them.
type Inputs struct {
	Level        float64
	MaxThreshold float64
	MinThreshold float64
	AutoMode     bool
	// ManualOverride is a one-tick pulse; the caller clears it after Update.
	ManualOverride bool
	Time           time.Time
}

// Event represents a relay transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Reason    Reason
	Level     float64
}

// Decision is the outcome of one Update.
type Decision struct {
	State  State
	Reason Reason
	// OverrideRejected is set when a manual override was requested while the
	// tank was full.
	OverrideRejected bool
	// Event is non-nil when the relay changed state.
	Event *Event
}

// EventCounts tracks the number of each transition since startup.
type EventCounts struct {
	PumpOn           int
	PumpOff          int
	SafetyStops      int
	OverrideRejected int
}
