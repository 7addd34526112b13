// Package command parses operator commands received over MQTT or HTTP.
//
// A command is a JSON object carrying exactly one of the recognised keys:
//
//	{"auto_mode": true}
//	{"manual_override": true}
//	{"calibrate_level": {"near": 5, "far": 50}}
//	{"calibrate_current": {"known_amps": 0.45}}
package command

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrMalformed is wrapped by every parse failure.
var ErrMalformed = errors.New("malformed command")

// Kind identifies a command.
type Kind string

const (
	KindAutoMode         Kind = "auto_mode"
	KindManualOverride   Kind = "manual_override"
	KindCalibrateLevel   Kind = "calibrate_level"
	KindCalibrateCurrent Kind = "calibrate_current"
)

// LevelSpan is the payload of a level calibration.
type LevelSpan struct {
	Near float64 `json:"near"`
	Far  float64 `json:"far"`
}

// KnownLoad is the payload of a current calibration.
type KnownLoad struct {
	KnownAmps float64 `json:"known_amps"`
}

// Command is one parsed operator request. Only the field matching Kind is set.
type Command struct {
	Kind     Kind
	AutoMode bool
	Level    LevelSpan
	Current  KnownLoad
	// Source records where the command came from ("mqtt" or "http").
	Source string
}

type wire struct {
	AutoMode         *bool      `json:"auto_mode,omitempty"`
	ManualOverride   *bool      `json:"manual_override,omitempty"`
	CalibrateLevel   *LevelSpan `json:"calibrate_level,omitempty"`
	CalibrateCurrent *KnownLoad `json:"calibrate_current,omitempty"`
}

// Parse decodes a command payload. Unknown fields are rejected.
func Parse(payload []byte) (Command, error) {
	var w wire
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Command{}, errors.Wrapf(ErrMalformed, "decode: %v", err)
	}

	var cmds []Command
	if w.AutoMode != nil {
		cmds = append(cmds, Command{Kind: KindAutoMode, AutoMode: *w.AutoMode})
	}
	if w.ManualOverride != nil {
		if !*w.ManualOverride {
			return Command{}, errors.Wrap(ErrMalformed, "manual_override only accepts true")
		}
		cmds = append(cmds, Command{Kind: KindManualOverride})
	}
	if w.CalibrateLevel != nil {
		if !(w.CalibrateLevel.Near >= 0 && w.CalibrateLevel.Far > 0) {
			return Command{}, errors.Wrap(ErrMalformed, "calibrate_level distances must be positive")
		}
		cmds = append(cmds, Command{Kind: KindCalibrateLevel, Level: *w.CalibrateLevel})
	}
	if w.CalibrateCurrent != nil {
		// CurrentSensor.Calibrate takes any value; remote input is checked here.
		if !(w.CalibrateCurrent.KnownAmps > 0) {
			return Command{}, errors.Wrap(ErrMalformed, "calibrate_current known_amps must be positive")
		}
		cmds = append(cmds, Command{Kind: KindCalibrateCurrent, Current: *w.CalibrateCurrent})
	}

	switch len(cmds) {
	case 0:
		return Command{}, errors.Wrap(ErrMalformed, "no command key")
	case 1:
		return cmds[0], nil
	default:
		return Command{}, errors.Wrap(ErrMalformed, "more than one command key")
	}
}

// Marshal encodes c in the wire format accepted by Parse.
func Marshal(c Command) ([]byte, error) {
	var w wire
	switch c.Kind {
	case KindAutoMode:
		w.AutoMode = &c.AutoMode
	case KindManualOverride:
		t := true
		w.ManualOverride = &t
	case KindCalibrateLevel:
		w.CalibrateLevel = &c.Level
	case KindCalibrateCurrent:
		w.CalibrateCurrent = &c.Current
	default:
		return nil, errors.Errorf("unknown command kind %q", c.Kind)
	}
	return json.Marshal(w)
}
