// Package sensor turns raw transducer signals into calibrated physical readings.
//
// Each sensor is probed once at construction. A sensor that does not respond
// stays inert for the lifetime of the process: its accessors return safe
// defaults and its update operations do nothing.
package sensor

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrInvalidCalibration is returned when a calibration request is rejected.
var ErrInvalidCalibration = errors.New("invalid calibration")

// Calibration converts a raw magnitude into physical units.
type Calibration struct {
	// Scale divides a raw RMS magnitude to yield amps.
	Scale float64
	// Offset is the zero-signal baseline subtracted from every sample.
	Offset float64
}

// Reading is the result of one sampling pass.
type Reading struct {
	RawMagnitude float64
	Corrected    float64
	ValidSamples int
}

func componentLogger(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
