// Package adc reads the ADS1015 12-bit I2C converter that digitises the
// current transducers. Samples are rescaled to the 0..4095 range a 3.3 V
// microcontroller ADC would produce, so calibration constants carry over.
package adc

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/sweeney/tank-controller/internal/units"
)

// ADS1015 registers
const (
	regConversion byte = 0x00
	regConfig     byte = 0x01
)

// Config register bits
const (
	configOsSingle    uint16 = 0x8000
	configModeSingle  uint16 = 0x0100
	configMuxSingle0  uint16 = 0x4000
	configGainOne     uint16 = 0x0200 // +/- 4.096V
	configRate3300    uint16 = 0x00C0
	configCompDisable uint16 = 0x0003
)

const (
	fullScaleVolts = 4.096
	codeRange      = 2048.0

	convTimeout  = 10 * time.Millisecond
	convPollWait = 100 * time.Microsecond
)

// Bus is the subset of an I2C bus used by the converter.
type Bus interface {
	ReadFromReg(addr, reg byte, value []byte) error
	WriteToReg(addr, reg byte, value []byte) error
}

// ADS1015 performs single-shot conversions on the four single-ended inputs.
// It is not safe for concurrent use.
type ADS1015 struct {
	bus     Bus
	address byte
	vref    units.Volts
	sleep   func(time.Duration)
	now     func() time.Time
}

// New creates a converter at address. vref is the analog supply that
// corresponds to units.FullScale.
func New(bus Bus, address byte, vref units.Volts) *ADS1015 {
	return &ADS1015{
		bus:     bus,
		address: address,
		vref:    vref,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

func configFor(channel int) uint16 {
	return configOsSingle |
		configModeSingle |
		configMuxSingle0 | uint16(channel)<<12 |
		configGainOne |
		configRate3300 |
		configCompDisable
}

// ReadRaw runs one conversion on channel and returns it on the 12-bit 3.3 V scale.
func (a *ADS1015) ReadRaw(channel int) (units.Counts, error) {
	if channel < 0 || channel > 3 {
		return 0, errors.Errorf("ads1015: no channel %d", channel)
	}

	cfg := configFor(channel)
	if err := a.bus.WriteToReg(a.address, regConfig, []byte{byte(cfg >> 8), byte(cfg)}); err != nil {
		return 0, errors.Wrap(err, "ads1015: write config")
	}

	deadline := a.now().Add(convTimeout)
	buf := make([]byte, 2)
	for {
		if err := a.bus.ReadFromReg(a.address, regConfig, buf); err != nil {
			return 0, errors.Wrap(err, "ads1015: read config")
		}
		if binary.BigEndian.Uint16(buf)&configOsSingle != 0 {
			break
		}
		if a.now().After(deadline) {
			return 0, errors.Errorf("ads1015: conversion timeout on channel %d", channel)
		}
		a.sleep(convPollWait)
	}

	if err := a.bus.ReadFromReg(a.address, regConversion, buf); err != nil {
		return 0, errors.Wrap(err, "ads1015: read conversion")
	}
	// 12-bit result, left aligned.
	code := int16(binary.BigEndian.Uint16(buf)) >> 4
	return a.counts(code), nil
}

func (a *ADS1015) counts(code int16) units.Counts {
	volts := float64(code) / codeRange * fullScaleVolts
	c := units.Counts(volts / float64(a.vref) * float64(units.FullScale))
	if c < 0 {
		return 0
	}
	if c > units.FullScale {
		return units.FullScale
	}
	return c
}
