// Package hal describes the hardware primitives the sensing core consumes.
// Real implementations live in internal/gpio and internal/adc.
// The fakes in this package allow testing without hardware.
package hal

import (
	"context"
	"time"

	"github.com/sweeney/tank-controller/internal/units"
)

// AnalogReader acquires raw samples from numbered analog input channels.
type AnalogReader interface {
	// ReadRaw returns one sample in the range [0, units.FullScale].
	ReadRaw(channel int) (units.Counts, error)
}

// Relay drives a single digital output.
type Relay interface {
	// Set drives the output high (true) or low (false).
	Set(on bool) error
}

// Ranger performs ultrasonic time-of-flight measurements.
type Ranger interface {
	// Ping fires one pulse and returns the round-trip echo time.
	// A zero duration with a nil error means the echo timed out, either because
	// ctx expired or because nothing answered within maxDistance.
	Ping(ctx context.Context, maxDistance units.Centimeters) (time.Duration, error)
}

// Clock provides monotonic time and a blocking delay.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock of the host.
type SystemClock struct{}

// Now returns time.Now, which carries a monotonic reading.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d.
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
