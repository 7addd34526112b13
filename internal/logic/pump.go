package logic

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/tank-controller/internal/hal"
)

// Controller drives the pump relay through a two-state machine with a
// hysteresis band between the min and max thresholds.
type Controller struct {
	relay   hal.Relay
	running bool
	counts  EventCounts
	log     *logrus.Entry
}

// NewController creates a controller and drives the relay low (pump off).
func NewController(relay hal.Relay) (*Controller, error) {
	c := &Controller{
		relay: relay,
		log:   logrus.WithField("component", "pump"),
	}
	if err := relay.Set(false); err != nil {
		return nil, errors.Wrap(err, "init pump relay")
	}
	c.log.Info("water pump module ready")
	return c, nil
}

// Update evaluates one tick. Checks run in strict priority order:
// tank full, manual override, automatic mode.
// The returned error is only ever a relay write failure; the decision still
// reflects the state the relay is actually in.
func (c *Controller) Update(in Inputs) (Decision, error) {
	if in.Level >= in.MaxThreshold {
		d := Decision{Reason: ReasonSafetyFull, OverrideRejected: in.ManualOverride}
		if in.ManualOverride {
			c.counts.OverrideRejected++
			c.log.Warn("manual override failed: tank is already full")
		}
		ev, err := c.turnOff(in, ReasonSafetyFull)
		if ev != nil {
			c.counts.SafetyStops++
			c.log.Info("safety: tank full, motor stopped")
		}
		d.Event = ev
		d.State = c.State()
		return d, err
	}

	if in.ManualOverride {
		ev, err := c.turnOn(in, ReasonManual)
		return Decision{State: c.State(), Reason: ReasonManual, Event: ev}, err
	}

	if !in.AutoMode {
		return Decision{State: c.State(), Reason: ReasonIdle}, nil
	}

	switch {
	case in.Level <= in.MinThreshold && !c.running:
		ev, err := c.turnOn(in, ReasonAutoLow)
		return Decision{State: c.State(), Reason: ReasonAutoLow, Event: ev}, err
	case in.Level >= in.MaxThreshold && c.running:
		ev, err := c.turnOff(in, ReasonAutoFull)
		return Decision{State: c.State(), Reason: ReasonAutoFull, Event: ev}, err
	}
	return Decision{State: c.State(), Reason: ReasonHold}, nil
}

// TurnOn switches the pump on. Does nothing if it is already running.
func (c *Controller) TurnOn(now time.Time, reason Reason) (*Event, error) {
	return c.turnOn(Inputs{Time: now}, reason)
}

// TurnOff switches the pump off. Does nothing if it is already stopped.
func (c *Controller) TurnOff(now time.Time, reason Reason) (*Event, error) {
	return c.turnOff(Inputs{Time: now}, reason)
}

func (c *Controller) turnOn(in Inputs, reason Reason) (*Event, error) {
	if c.running {
		return nil, nil
	}
	if err := c.relay.Set(true); err != nil {
		c.log.WithError(err).Error("relay write failed, motor still off")
		return nil, errors.Wrap(err, "set relay on")
	}
	c.running = true
	c.counts.PumpOn++
	c.log.WithField("reason", reason).Info("motor ON")
	return &Event{Timestamp: in.Time, Type: EventPumpOn, Reason: reason, Level: in.Level}, nil
}

func (c *Controller) turnOff(in Inputs, reason Reason) (*Event, error) {
	if !c.running {
		return nil, nil
	}
	if err := c.relay.Set(false); err != nil {
		c.log.WithError(err).Error("relay write failed, motor still on")
		return nil, errors.Wrap(err, "set relay off")
	}
	c.running = false
	c.counts.PumpOff++
	c.log.WithField("reason", reason).Info("motor OFF")
	return &Event{Timestamp: in.Time, Type: EventPumpOff, Reason: reason, Level: in.Level}, nil
}

// IsRunning reports whether the pump is on.
func (c *Controller) IsRunning() bool {
	return c.running
}

// State returns the current pump state.
func (c *Controller) State() State {
	if c.running {
		return StateOn
	}
	return StateOff
}

// EventCountsSnapshot returns a copy of the transition counters.
func (c *Controller) EventCountsSnapshot() EventCounts {
	return c.counts
}
