// Package acs712 reads AC current from an ACS712 Hall-effect transducer.
//
// The driver samples one full mains period, takes the peak-to-peak swing of
// the raw ADC counts and converts it to an RMS milliamp value assuming a
// sinusoidal load.
package acs712

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/sweeney/tank-controller/internal/hal"
	"github.com/sweeney/tank-controller/internal/units"
)

// FormFactorSine converts a sine peak to its RMS value.
const FormFactorSine = 1 / math.Sqrt2

// DefaultFrequency is the mains frequency sampled by MilliampsAC.
const DefaultFrequency = 50.0

// Driver converts raw ADC counts from one channel to milliamps.
type Driver struct {
	adc     hal.AnalogReader
	clock   hal.Clock
	channel int

	mVPerStep  float64
	mVPerAmp   float64
	formFactor float64
	frequency  float64
}

// New creates a driver for a transducer on channel.
// supply is the ADC reference voltage, steps its full-scale count and
// sensitivity the transducer output in mV per amp (185 for the 5 A part).
func New(adc hal.AnalogReader, clk hal.Clock, channel int, supply units.Volts, steps units.Counts, sensitivity float64) *Driver {
	return &Driver{
		adc:        adc,
		clock:      clk,
		channel:    channel,
		mVPerStep:  1000 * float64(supply) / float64(steps),
		mVPerAmp:   sensitivity,
		formFactor: FormFactorSine,
		frequency:  DefaultFrequency,
	}
}

// Sensitivity returns the configured mV per amp.
func (d *Driver) Sensitivity() float64 {
	return d.mVPerAmp
}

// MilliampsAC samples one mains period and returns the RMS current.
func (d *Driver) MilliampsAC() (units.Milliamps, error) {
	period := time.Duration(float64(time.Second) / d.frequency)

	var (
		lo, hi units.Counts
		n      int
	)
	start := d.clock.Now()
	for d.clock.Now().Sub(start) < period {
		v, err := d.adc.ReadRaw(d.channel)
		if err != nil {
			return 0, errors.Wrapf(err, "acs712: read channel %d", d.channel)
		}
		if n == 0 || v < lo {
			lo = v
		}
		if n == 0 || v > hi {
			hi = v
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}

	peak := float64(hi-lo) / 2
	mA := peak * d.mVPerStep * d.formFactor / d.mVPerAmp * 1000
	return units.Milliamps(mA), nil
}
