// Package status provides a thread-safe status tracker for the tank controller.
// The control loop writes it; HTTP handlers, metrics and MQTT payloads read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/units"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains controller configuration for display.
type Config struct {
	DeviceID    string
	PollMs      int64
	TelemetryMs int64
	Broker      string
	HTTPPort    string
	MaxLevel    float64
	MinLevel    float64
}

// Sensors records which sensors answered their presence probe.
type Sensors struct {
	Current bool
	Power   bool
	Level   bool
}

// Readings is the latest set of measurements. Fields of absent sensors are
// left at zero; Distance and Level hold the no-reading sentinels when the
// last ping failed.
type Readings struct {
	Current   units.Amps
	Power     units.Watts
	PeakPower units.Watts
	Energy    units.KilowattHours
	Distance  units.Centimeters
	Level     units.Percent
}

// LevelCalibration is the active level span for display.
type LevelCalibration struct {
	Near units.Centimeters
	Far  units.Centimeters
}

// Snapshot is a point-in-time view of controller state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Pump       logic.State
	LastReason logic.Reason
	AutoMode   bool
	Counts     logic.EventCounts

	Sensors   Sensors
	Readings  Readings
	LevelSpan LevelCalibration
	CTScale   float64

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable controller state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
// The pump starts OFF and readings start as "no reading".
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Pump:      logic.StateOff,
			StartTime: startTime,
			Config:    cfg,
			Readings: Readings{
				Distance: units.NoDistance,
				Level:    units.NoPercent,
			},
		},
	}
}

// SetSensors records sensor presence. Called once after the probes.
func (t *Tracker) SetSensors(s Sensors) {
	t.mu.Lock()
	t.snap.Sensors = s
	t.mu.Unlock()
}

// UpdatePump sets the pump state, the reason of the last decision, the
// automatic mode latch and the transition counters.
// Called from runLoop on every tick.
func (t *Tracker) UpdatePump(state logic.State, reason logic.Reason, autoMode bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Pump = state
	t.snap.LastReason = reason
	t.snap.AutoMode = autoMode
	t.snap.Counts = counts
	t.mu.Unlock()
}

// UpdateReadings replaces the latest measurements.
func (t *Tracker) UpdateReadings(r Readings) {
	t.mu.Lock()
	t.snap.Readings = r
	t.mu.Unlock()
}

// SetCalibration records the active level span and current scale factor.
func (t *Tracker) SetCalibration(span LevelCalibration, ctScale float64) {
	t.mu.Lock()
	t.snap.LevelSpan = span
	t.snap.CTScale = ctScale
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
