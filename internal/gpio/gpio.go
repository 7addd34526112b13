// Package gpio drives the pump relay and the HC-SR04 ultrasonic ranger.
// The Linux implementation uses the GPIO character device; Relay and Ranger
// only depend on the small Line interface so they can be tested with FakeLine.
package gpio

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/sweeney/tank-controller/internal/units"
)

// Pin definitions (BCM numbering)
const (
	DefaultChip       = "gpiochip0"
	DefaultPinRelay   = 17
	DefaultPinTrigger = 23
	DefaultPinEcho    = 24
)

// triggerPulse is the HC-SR04 trigger high time.
const triggerPulse = 10 * time.Microsecond

// Line is a single output line.
type Line interface {
	SetValue(value int) error
}

// Relay drives the pump relay. High is pump on.
type Relay struct {
	line Line
}

// NewRelay wraps an output line.
func NewRelay(line Line) *Relay {
	return &Relay{line: line}
}

// Set drives the relay output.
func (r *Relay) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return errors.Wrapf(err, "set relay %d", v)
	}
	return nil
}

// Ranger fires the trigger line and times the echo pulse.
type Ranger struct {
	trigger Line
	echo    *EchoTimer
	pulse   func(time.Duration)
}

// NewRanger creates a ranger. Edges seen on the echo line must be fed to echo.
func NewRanger(trigger Line, echo *EchoTimer) *Ranger {
	return &Ranger{trigger: trigger, echo: echo, pulse: time.Sleep}
}

// Ping fires one trigger pulse and returns the echo high time.
// Returns zero with a nil error if ctx expires before the echo starts or the
// echo lasts longer than the round trip to maxDistance.
func (r *Ranger) Ping(ctx context.Context, maxDistance units.Centimeters) (time.Duration, error) {
	r.echo.drain()

	if err := r.trigger.SetValue(0); err != nil {
		return 0, errors.Wrap(err, "trigger low")
	}
	if err := r.trigger.SetValue(1); err != nil {
		return 0, errors.Wrap(err, "trigger high")
	}
	r.pulse(triggerPulse)
	if err := r.trigger.SetValue(0); err != nil {
		return 0, errors.Wrap(err, "trigger low")
	}

	return r.echo.wait(ctx, units.EchoTimeout(maxDistance)), nil
}
