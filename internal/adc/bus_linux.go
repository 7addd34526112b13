//go:build linux

package adc

import (
	"github.com/pkg/errors"
	"github.com/reef-pi/rpi/i2c"

	"github.com/sweeney/tank-controller/internal/units"
)

// Device is an ADS1015 on the host I2C bus.
type Device struct {
	*ADS1015
	bus i2c.Bus
}

// Open opens the host I2C bus and attaches a converter at address.
func Open(address byte, vref units.Volts) (*Device, error) {
	bus, err := i2c.New()
	if err != nil {
		return nil, errors.Wrap(err, "open i2c bus")
	}
	return &Device{ADS1015: New(bus, address, vref), bus: bus}, nil
}

// Close releases the bus.
func (d *Device) Close() error {
	return d.bus.Close()
}
