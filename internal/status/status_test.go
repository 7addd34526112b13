package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/units"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewTracker(t *testing.T) {
	cfg := Config{DeviceID: "tank1", PollMs: 250, Broker: "tcp://localhost:1883", HTTPPort: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 250 {
		t.Errorf("Config.PollMs: got %d, want 250", snap.Config.PollMs)
	}
	if snap.Pump != logic.StateOff {
		t.Errorf("expected pump OFF initially, got %q", snap.Pump)
	}
	if snap.Readings.Distance != units.NoDistance || snap.Readings.Level != units.NoPercent {
		t.Errorf("expected no level reading initially, got %+v", snap.Readings)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdatePumpAndSnapshot(t *testing.T) {
	tr := NewTracker(start, Config{})

	tr.UpdatePump(logic.StateOn, logic.ReasonAutoLow, true, logic.EventCounts{PumpOn: 3, SafetyStops: 1})

	snap := tr.Snapshot()
	if snap.Pump != logic.StateOn {
		t.Errorf("Pump: got %q, want ON", snap.Pump)
	}
	if snap.LastReason != logic.ReasonAutoLow {
		t.Errorf("LastReason: got %q, want AUTO_LOW", snap.LastReason)
	}
	if !snap.AutoMode {
		t.Error("expected AutoMode=true")
	}
	if snap.Counts.PumpOn != 3 || snap.Counts.SafetyStops != 1 {
		t.Errorf("unexpected counts %+v", snap.Counts)
	}
}

func TestUpdateReadings(t *testing.T) {
	tr := NewTracker(start, Config{})
	r := Readings{Current: 1.5, Power: 300, PeakPower: 350, Energy: 0.2, Distance: 20, Level: 66.7}
	tr.UpdateReadings(r)

	if got := tr.Snapshot().Readings; got != r {
		t.Errorf("Readings: got %+v, want %+v", got, r)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(start, Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(start, Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(start, Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(start, Config{})
	tr.UpdatePump(logic.StateOn, logic.ReasonManual, true, logic.EventCounts{PumpOn: 1})

	snap1 := tr.Snapshot()

	tr.UpdatePump(logic.StateOff, logic.ReasonSafetyFull, true, logic.EventCounts{PumpOn: 1, PumpOff: 1})

	// snap1 should still reflect old state
	if snap1.Pump != logic.StateOn {
		t.Error("snapshot should be a copy; Pump was modified")
	}
	if snap1.Counts.PumpOff != 0 {
		t.Error("snapshot should be a copy; Counts were modified")
	}
}

func fullSnapshot() Snapshot {
	return Snapshot{
		Pump:       logic.StateOn,
		LastReason: logic.ReasonAutoLow,
		AutoMode:   true,
		Counts:     logic.EventCounts{PumpOn: 2, PumpOff: 1, SafetyStops: 1, OverrideRejected: 1},
		Sensors:    Sensors{Current: true, Power: true, Level: true},
		Readings: Readings{
			Current: 1.25, Power: 281.25, PeakPower: 300, Energy: 0.5,
			Distance: 30, Level: 44.5,
		},
		LevelSpan:     LevelCalibration{Near: 5, Far: 50},
		CTScale:       1550.5,
		StartTime:     start,
		Now:           start.Add(90 * time.Second),
		MQTTConnected: true,
		Config: Config{
			DeviceID: "tank1", PollMs: 250, TelemetryMs: 15000,
			Broker: "tcp://localhost:1883", HTTPPort: ":8080", MaxLevel: 95, MinLevel: 20,
		},
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(fullSnapshot())

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status

	if s.Pump.State != "ON" || s.Pump.LastReason != "AUTO_LOW" || !s.Pump.AutoMode {
		t.Errorf("unexpected pump %+v", s.Pump)
	}
	if s.Readings.LevelPercent == nil || *s.Readings.LevelPercent != 44.5 {
		t.Errorf("unexpected level %v", s.Readings.LevelPercent)
	}
	if s.Readings.EnergyKWh == nil || *s.Readings.EnergyKWh != 0.5 {
		t.Errorf("unexpected energy %v", s.Readings.EnergyKWh)
	}
	if s.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds: got %d, want 90", s.UptimeSeconds)
	}
	if s.StartTime != "2026-01-01T00:00:00Z" {
		t.Errorf("StartTime: got %s", s.StartTime)
	}
	if s.Counts.SafetyStops != 1 || s.Counts.OverrideRejected != 1 {
		t.Errorf("unexpected counts %+v", s.Counts)
	}
	if s.Calibration.CTScale != 1550.5 || s.Calibration.LevelFarCm != 50 {
		t.Errorf("unexpected calibration %+v", s.Calibration)
	}
	if s.Config.DeviceID != "tank1" || s.Config.MaxLevel != 95 {
		t.Errorf("unexpected config %+v", s.Config)
	}
	if s.Event != "" || s.Reason != "" {
		t.Error("web status must not carry event or reason")
	}
	if !strings.Contains(string(data), "\n  ") {
		t.Error("web status should be indented")
	}
}

func TestFormatJSONOmitsAbsentSensors(t *testing.T) {
	snap := fullSnapshot()
	snap.Sensors = Sensors{Level: true}

	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	readings := parsed["status"]["readings"].(map[string]interface{})
	for _, key := range []string{"current_a", "power_w", "peak_power_w", "energy_kwh"} {
		if _, ok := readings[key]; ok {
			t.Errorf("%s should be omitted for an absent sensor", key)
		}
	}
	if _, ok := readings["level_percent"]; !ok {
		t.Error("level_percent should be present")
	}
}

func TestFormatJSONOmitsInvalidLevel(t *testing.T) {
	snap := fullSnapshot()
	snap.Readings.Distance = units.NoDistance
	snap.Readings.Level = units.NoPercent

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Readings.DistanceCm != nil || parsed.Status.Readings.LevelPercent != nil {
		t.Error("invalid level readings should be omitted")
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(Snapshot{}), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Pump.State != "UNKNOWN" {
		t.Errorf("expected UNKNOWN, got %s", parsed.Status.Pump.State)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	data := FormatStatusEvent(fullSnapshot(), "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("unexpected event/reason: %s/%s", parsed.Status.Event, parsed.Status.Reason)
	}
	if strings.Contains(string(data), "\n") {
		t.Error("MQTT payload should be compact")
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(fullSnapshot(), "STARTUP", "")

	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := parsed["status"]["reason"]; ok {
		t.Error("STARTUP should not have reason field")
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := fullSnapshot()
	snap.Network = &NetworkInfo{Type: "wifi", IP: "10.0.0.5", Status: "connected", SSID: "MyNet"}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Network == nil {
		t.Fatal("expected network")
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestFormatTelemetry(t *testing.T) {
	got := string(FormatTelemetry(fullSnapshot()))
	want := `{"telemetry":{"timestamp":"2026-01-01T00:01:30Z","pump":"ON","auto_mode":true,` +
		`"current_a":1.25,"power_w":281.25,"peak_power_w":300,"energy_kwh":0.5,` +
		`"distance_cm":30,"level_percent":44.5,` +
		`"sensors":{"current":true,"power":true,"level":true}}}`
	if got != want {
		t.Errorf("unexpected telemetry:\ngot:  %s\nwant: %s", got, want)
	}
}

func TestFormatTelemetryAbsentSensors(t *testing.T) {
	snap := fullSnapshot()
	snap.Sensors = Sensors{}

	got := string(FormatTelemetry(snap))
	want := `{"telemetry":{"timestamp":"2026-01-01T00:01:30Z","pump":"ON","auto_mode":true,` +
		`"sensors":{"current":false,"power":false,"level":false}}}`
	if got != want {
		t.Errorf("unexpected telemetry:\ngot:  %s\nwant: %s", got, want)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.UpdatePump(logic.StateOn, logic.ReasonHold, true, logic.EventCounts{PumpOn: i})
			tr.UpdateReadings(Readings{Level: units.Percent(i % 100)})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
