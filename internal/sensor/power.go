package sensor

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/tank-controller/internal/acs712"
	"github.com/sweeney/tank-controller/internal/hal"
	"github.com/sweeney/tank-controller/internal/units"
)

// Power meter parameters.
const (
	PowerUpdateInterval = time.Second

	// Raw readings outside (probeLow, probeHigh) mean a floating or shorted input.
	probeLow  units.Counts = 100
	probeHigh units.Counts = 4000

	adcSupply units.Volts = 3.3
)

// Energy is the power meter's accumulator state.
type Energy struct {
	LastUpdate time.Time
	LastPower  units.Watts
	PeakPower  units.Watts
	Cumulative units.KilowattHours
}

// PowerMeter derives apparent power and cumulative energy from an ACS712
// transducer and a fixed mains voltage.
// It is not safe for concurrent use.
type PowerMeter struct {
	adc     hal.AnalogReader
	clock   hal.Clock
	channel int
	voltage units.Volts
	driver  *acs712.Driver
	log     *logrus.Entry

	active bool
	offset units.Milliamps
	energy Energy
}

// NewPowerMeter probes the transducer on channel and, if present, configures
// the ACS712 driver with sensitivity (mV/A) and captures the no-load offset
// from a single driver reading.
func NewPowerMeter(adc hal.AnalogReader, clk hal.Clock, channel int, voltage units.Volts, sensitivity float64) *PowerMeter {
	m := &PowerMeter{
		adc:     adc,
		clock:   clk,
		channel: channel,
		voltage: voltage,
		log:     componentLogger("energy").WithField("channel", channel),
	}

	if !m.IsConnected() {
		m.log.Warn("energy meter not detected, skipping module")
		return m
	}

	m.active = true
	m.driver = acs712.New(adc, clk, channel, adcSupply, units.FullScale, sensitivity)

	offset, err := m.driver.MilliampsAC()
	if err != nil {
		m.log.WithError(err).Warn("no-load offset read failed, using zero")
	}
	m.offset = offset
	m.log.WithField("offset_ma", float64(m.offset)).Info("energy meter detected, calibrated no-load offset")
	return m
}

// IsConnected re-reads the input and checks it sits inside the valid band.
// It does not re-activate a meter that was absent at construction.
func (m *PowerMeter) IsConnected() bool {
	raw, err := m.adc.ReadRaw(m.channel)
	if err != nil {
		return false
	}
	return raw > probeLow && raw < probeHigh
}

// Active reports whether the meter was present at construction.
func (m *PowerMeter) Active() bool {
	return m.active
}

// Update integrates one second of energy. Calls arriving less than
// PowerUpdateInterval after the last active tick are ignored.
func (m *PowerMeter) Update() {
	if !m.active {
		return
	}

	now := m.clock.Now()
	if !m.energy.LastUpdate.IsZero() && now.Sub(m.energy.LastUpdate) < PowerUpdateInterval {
		return
	}
	m.energy.LastUpdate = now

	mA, err := m.driver.MilliampsAC()
	if err != nil {
		m.log.WithError(err).Debug("current read failed")
		return
	}

	power := (mA - m.offset).Amps().Power(m.voltage)
	if power < 0 {
		power = 0
	}
	if power > m.energy.PeakPower {
		m.energy.PeakPower = power
	}
	m.energy.Cumulative += power.EnergyOver(PowerUpdateInterval)
	m.energy.LastPower = power
}

// Power returns the apparent power of the last active tick.
func (m *PowerMeter) Power() units.Watts {
	return m.energy.LastPower
}

// CumulativeEnergy returns the energy consumed since start.
func (m *PowerMeter) CumulativeEnergy() units.KilowattHours {
	return m.energy.Cumulative
}

// PeakPower returns the highest power seen since start.
func (m *PowerMeter) PeakPower() units.Watts {
	return m.energy.PeakPower
}

// Energy returns a copy of the accumulator state.
func (m *PowerMeter) Energy() Energy {
	return m.energy
}

// Current takes one offset-corrected driver reading outside the update cadence.
// The value is not clamped and is noisier than CurrentSensor's windowed RMS.
func (m *PowerMeter) Current() units.Amps {
	if !m.active {
		return 0
	}
	mA, err := m.driver.MilliampsAC()
	if err != nil {
		return 0
	}
	return (mA - m.offset).Amps()
}
