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
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Pump          PumpJSON     `json:"pump"`
	Readings      ReadingsJSON `json:"readings"`
	Sensors       SensorsJSON  `json:"sensors"`
	Calibration   CalJSON      `json:"calibration"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// PumpJSON reports the pump state machine.
type PumpJSON struct {
	State      string `json:"state"`
	LastReason string `json:"last_reason,omitempty"`
	AutoMode   bool   `json:"auto_mode"`
}

// ReadingsJSON carries the latest measurements. Readings from absent
// sensors, and invalid level readings, are omitted.
type ReadingsJSON struct {
	CurrentA     *float64 `json:"current_a,omitempty"`
	PowerW       *float64 `json:"power_w,omitempty"`
	PeakPowerW   *float64 `json:"peak_power_w,omitempty"`
	EnergyKWh    *float64 `json:"energy_kwh,omitempty"`
	DistanceCm   *float64 `json:"distance_cm,omitempty"`
	LevelPercent *float64 `json:"level_percent,omitempty"`
}

// SensorsJSON reports sensor presence.
type SensorsJSON struct {
	Current bool `json:"current"`
	Power   bool `json:"power"`
	Level   bool `json:"level"`
}

// CalJSON reports the active calibration.
type CalJSON struct {
	LevelNearCm float64 `json:"level_near_cm"`
	LevelFarCm  float64 `json:"level_far_cm"`
	CTScale     float64 `json:"ct_scale"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	PumpOn           int `json:"pump_on"`
	PumpOff          int `json:"pump_off"`
	SafetyStops      int `json:"safety_stops"`
	OverrideRejected int `json:"override_rejected"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of controller config.
type ConfigJSON struct {
	DeviceID    string  `json:"device_id"`
	PollMs      int64   `json:"poll_ms"`
	TelemetryMs int64   `json:"telemetry_ms"`
	Broker      string  `json:"broker"`
	HTTPPort    string  `json:"http_port"`
	MaxLevel    float64 `json:"max_level"`
	MinLevel    float64 `json:"min_level"`
}

// TelemetryJSON is the periodic telemetry envelope.
type TelemetryJSON struct {
	Telemetry TelemetryInner `json:"telemetry"`
}

// TelemetryInner is the compact telemetry body.
type TelemetryInner struct {
	Timestamp string `json:"timestamp"`
	Pump      string `json:"pump"`
	AutoMode  bool   `json:"auto_mode"`
	ReadingsJSON
	Sensors SensorsJSON `json:"sensors"`
}

func f64(v float64) *float64 { return &v }

func buildReadings(snap Snapshot) ReadingsJSON {
	var r ReadingsJSON
	if snap.Sensors.Current {
		r.CurrentA = f64(float64(snap.Readings.Current))
	}
	if snap.Sensors.Power {
		r.PowerW = f64(float64(snap.Readings.Power))
		r.PeakPowerW = f64(float64(snap.Readings.PeakPower))
		r.EnergyKWh = f64(float64(snap.Readings.Energy))
	}
	if snap.Sensors.Level {
		if snap.Readings.Distance.Valid() {
			r.DistanceCm = f64(float64(snap.Readings.Distance))
		}
		if snap.Readings.Level.Valid() {
			r.LevelPercent = f64(float64(snap.Readings.Level))
		}
	}
	return r
}

func pumpState(snap Snapshot) string {
	if snap.Pump == "" {
		return "UNKNOWN"
	}
	return string(snap.Pump)
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Pump: PumpJSON{
			State:      pumpState(snap),
			LastReason: string(snap.LastReason),
			AutoMode:   snap.AutoMode,
		},
		Readings: buildReadings(snap),
		Sensors:  SensorsJSON(snap.Sensors),
		Calibration: CalJSON{
			LevelNearCm: float64(snap.LevelSpan.Near),
			LevelFarCm:  float64(snap.LevelSpan.Far),
			CTScale:     snap.CTScale,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			PumpOn:           snap.Counts.PumpOn,
			PumpOff:          snap.Counts.PumpOff,
			SafetyStops:      snap.Counts.SafetyStops,
			OverrideRejected: snap.Counts.OverrideRejected,
		},
		Config: ConfigJSON{
			DeviceID:    snap.Config.DeviceID,
			PollMs:      snap.Config.PollMs,
			TelemetryMs: snap.Config.TelemetryMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			MaxLevel:    snap.Config.MaxLevel,
			MinLevel:    snap.Config.MinLevel,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatTelemetry returns the compact periodic telemetry payload.
func FormatTelemetry(snap Snapshot) []byte {
	data, _ := json.Marshal(TelemetryJSON{Telemetry: TelemetryInner{
		Timestamp:    snap.Now.UTC().Format(time.RFC3339),
		Pump:         pumpState(snap),
		AutoMode:     snap.AutoMode,
		ReadingsJSON: buildReadings(snap),
		Sensors:      SensorsJSON(snap.Sensors),
	}})
	return data
}
