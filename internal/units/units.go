// Package units defines one type per physical quantity handled by the controller.
// Conversions between them are explicit methods so a milliamp value can never be
// passed where amps are expected.
package units

import (
	"math"
	"time"
)

// Counts is a raw ADC sample on a 12-bit scale.
type Counts int

// FullScale is the largest value an AnalogReader returns.
const FullScale Counts = 4095

// Milliamps is a current in mA.
type Milliamps float64

// Amps is a current in A.
type Amps float64

// Volts is an electric potential in V.
type Volts float64

// Watts is an apparent power in W.
type Watts float64

// KilowattHours is an energy in kWh.
type KilowattHours float64

// Centimeters is a distance in cm.
type Centimeters float64

// Percent is a fill level in the range [0, 100].
type Percent float64

// Sentinels returned when no valid reading is available.
const (
	NoDistance Centimeters = -1
	NoPercent  Percent     = -1
)

// Amps converts milliamps to amps.
func (m Milliamps) Amps() Amps {
	return Amps(m / 1000)
}

// Milliamps converts amps to milliamps.
func (a Amps) Milliamps() Milliamps {
	return Milliamps(a * 1000)
}

// Power returns the apparent power drawn at the given voltage.
func (a Amps) Power(v Volts) Watts {
	return Watts(float64(a) * float64(v))
}

// EnergyOver returns the energy delivered by a constant power over d.
func (w Watts) EnergyOver(d time.Duration) KilowattHours {
	wh := float64(w) * d.Hours()
	return KilowattHours(wh / 1000)
}

// Valid reports whether d is a real measurement rather than NoDistance.
func (d Centimeters) Valid() bool {
	return d >= 0
}

// Valid reports whether p is a real measurement rather than NoPercent.
func (p Percent) Valid() bool {
	return p >= 0
}

// usRoundTripCM is the echo time in microseconds for one centimetre of distance.
const usRoundTripCM = 57

// EchoDistance converts an ultrasonic round-trip time to a distance.
// A zero echo means no reading; any non-zero echo is at least 1 cm.
func EchoDistance(echo time.Duration) Centimeters {
	if echo <= 0 {
		return 0
	}
	us := float64(echo) / float64(time.Microsecond)
	cm := math.Round(us / usRoundTripCM)
	if cm < 1 {
		cm = 1
	}
	return Centimeters(cm)
}

// EchoTimeout returns the longest round trip that can still be within maxDistance.
func EchoTimeout(maxDistance Centimeters) time.Duration {
	return time.Duration(float64(maxDistance)*usRoundTripCM) * time.Microsecond
}
