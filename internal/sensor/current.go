package sensor

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/tank-controller/internal/hal"
	"github.com/sweeney/tank-controller/internal/units"
)

// Current transformer sampling parameters.
const (
	OffsetSamples     = 1000
	OffsetSampleDelay = 50 * time.Microsecond
	RMSWindow         = 100 * time.Millisecond
	CalibrationPasses = 10
	CalibrationSettle = 100 * time.Millisecond

	// NoLoadThreshold suppresses induced noise on an idle line.
	NoLoadThreshold units.Amps = 0.50
)

// CurrentSensor measures RMS current through a current transformer.
// It is not safe for concurrent use.
type CurrentSensor struct {
	adc     hal.AnalogReader
	clock   hal.Clock
	channel int
	log     *logrus.Entry

	connected bool
	cal       Calibration
	current   units.Amps
}

// NewCurrentSensor probes the transformer on channel and, if it responds,
// learns its no-load offset. scale converts raw RMS counts to amps.
func NewCurrentSensor(adc hal.AnalogReader, clk hal.Clock, channel int, scale float64) *CurrentSensor {
	s := &CurrentSensor{
		adc:     adc,
		clock:   clk,
		channel: channel,
		log:     componentLogger("ct").WithField("channel", channel),
		cal:     Calibration{Scale: scale},
	}

	raw, err := adc.ReadRaw(channel)
	if err != nil {
		s.log.WithError(err).Warn("current sensor probe failed, skipping module")
		return s
	}
	if raw <= 0 {
		s.log.Warn("current sensor not detected, skipping module")
		return s
	}

	s.connected = true
	s.cal.Offset = s.learnOffset()
	s.log.WithField("offset", s.cal.Offset).Info("current sensor calibrated with no-load offset")
	return s
}

func (s *CurrentSensor) learnOffset() float64 {
	var (
		sum float64
		n   int
	)
	for i := 0; i < OffsetSamples; i++ {
		raw, err := s.adc.ReadRaw(s.channel)
		if err == nil {
			sum += float64(raw)
			n++
		}
		s.clock.Sleep(OffsetSampleDelay)
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// IsConnected reports whether the transformer answered at construction.
func (s *CurrentSensor) IsConnected() bool {
	return s.connected
}

// Calibration returns the current calibration profile.
func (s *CurrentSensor) Calibration() Calibration {
	return s.cal
}

// MeasureRMS samples for RMSWindow and returns the RMS deviation from the offset.
// Blocks the caller for the whole window.
func (s *CurrentSensor) MeasureRMS() Reading {
	if !s.connected {
		return Reading{}
	}

	var (
		sumSq float64
		n     int
	)
	start := s.clock.Now()
	for s.clock.Now().Sub(start) < RMSWindow {
		raw, err := s.adc.ReadRaw(s.channel)
		if err != nil {
			continue
		}
		d := float64(raw) - s.cal.Offset
		sumSq += d * d
		n++
	}
	if n == 0 {
		return Reading{}
	}

	rms := math.Sqrt(sumSq / float64(n))
	return Reading{
		RawMagnitude: rms,
		Corrected:    rms / s.cal.Scale,
		ValidSamples: n,
	}
}

// Update takes one RMS measurement and stores the corrected current.
func (s *CurrentSensor) Update() {
	if !s.connected {
		return
	}
	s.current = units.Amps(s.MeasureRMS().Corrected)
}

// Current returns the last measured current, or zero below NoLoadThreshold.
func (s *CurrentSensor) Current() units.Amps {
	if s.current < NoLoadThreshold {
		return 0
	}
	return s.current
}

// Calibrate recomputes the scale factor from a known load current.
// The caller must have a stable known load connected. It returns the new
// scale factor and false if the sensor is inert.
func (s *CurrentSensor) Calibrate(known units.Amps) (float64, bool) {
	if !s.connected {
		return 0, false
	}

	var sum float64
	for i := 0; i < CalibrationPasses; i++ {
		sum += s.MeasureRMS().RawMagnitude
		s.clock.Sleep(CalibrationSettle)
	}
	raw := sum / CalibrationPasses

	s.cal.Scale = raw / float64(known)
	s.log.WithFields(logrus.Fields{
		"known_amps": float64(known),
		"raw_rms":    raw,
		"scale":      s.cal.Scale,
	}).Info("new current calibration factor")
	return s.cal.Scale, true
}
