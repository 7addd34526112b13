//go:build linux

package gpio

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// Pins selects the chip and BCM line offsets.
type Pins struct {
	Chip    string
	Relay   int
	Trigger int
	Echo    int
}

// Board owns the GPIO lines of the controller.
type Board struct {
	chip    *gpiocdev.Chip
	relay   *gpiocdev.Line
	trigger *gpiocdev.Line
	echo    *gpiocdev.Line

	Relay  *Relay
	Ranger *Ranger
}

// Open requests the relay, trigger and echo lines. The relay starts low so the
// pump is off before any control decision is made.
func Open(p Pins) (*Board, error) {
	chip, err := gpiocdev.NewChip(p.Chip)
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio chip %s", p.Chip)
	}
	b := &Board{chip: chip}

	b.relay, err = chip.RequestLine(p.Relay, gpiocdev.AsOutput(0))
	if err != nil {
		b.Close()
		return nil, errors.Wrapf(err, "request relay pin %d", p.Relay)
	}

	b.trigger, err = chip.RequestLine(p.Trigger, gpiocdev.AsOutput(0))
	if err != nil {
		b.Close()
		return nil, errors.Wrapf(err, "request trigger pin %d", p.Trigger)
	}

	timer := NewEchoTimer()
	b.echo, err = chip.RequestLine(p.Echo,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			timer.Observe(Edge{
				Rising: evt.Type == gpiocdev.LineEventRisingEdge,
				At:     evt.Timestamp,
			})
		}))
	if err != nil {
		b.Close()
		return nil, errors.Wrapf(err, "request echo pin %d", p.Echo)
	}

	b.Relay = NewRelay(b.relay)
	b.Ranger = NewRanger(b.trigger, timer)
	return b, nil
}

// Close releases GPIO resources.
// Lines are reconfigured to input with pull-down (matching Pi boot defaults)
// before closing, which also drops the relay.
func (b *Board) Close() error {
	var errs []error

	for _, l := range []struct {
		name string
		line *gpiocdev.Line
	}{{"relay", b.relay}, {"trigger", b.trigger}, {"echo", b.echo}} {
		if l.line == nil {
			continue
		}
		if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, errors.Wrapf(err, "reconfigure %s pin", l.name))
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "close %s pin", l.name))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close chip"))
		}
	}

	if len(errs) > 0 {
		return errors.Errorf("close errors: %v", errs)
	}
	return nil
}
