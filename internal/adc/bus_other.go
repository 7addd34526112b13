//go:build !linux

package adc

import (
	"errors"

	"github.com/sweeney/tank-controller/internal/units"
)

// Device is not available on non-Linux platforms.
type Device struct {
	*ADS1015
}

// Open returns an error on non-Linux platforms.
func Open(byte, units.Volts) (*Device, error) {
	return nil, errors.New("adc: i2c not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (d *Device) Close() error {
	return nil
}
