package sensor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/tank-controller/internal/hal"
	"github.com/sweeney/tank-controller/internal/units"
)

// Level sensor parameters.
const (
	MaxDistance  units.Centimeters = 400
	ProbeTimeout                   = 500 * time.Millisecond
	PingTimeout                    = 100 * time.Millisecond

	// probeDistance bounds the echo window of the presence probe.
	probeDistance units.Centimeters = 500
)

// LevelCalibration maps distances to fill percentage.
// Near is the distance to a full tank, Far the distance to an empty one.
type LevelCalibration struct {
	Near units.Centimeters
	Far  units.Centimeters
}

// DefaultLevelCalibration is used until Calibrate succeeds.
var DefaultLevelCalibration = LevelCalibration{Near: 5, Far: 50}

// LevelSensor measures the tank fill level with an ultrasonic ranger.
// It is not safe for concurrent use.
type LevelSensor struct {
	ranger hal.Ranger
	log    *logrus.Entry

	connected bool
	cal       LevelCalibration
}

// NewLevelSensor probes the ranger once and records whether it answered.
func NewLevelSensor(ranger hal.Ranger) *LevelSensor {
	s := &LevelSensor{
		ranger: ranger,
		log:    componentLogger("level"),
		cal:    DefaultLevelCalibration,
	}
	s.connected = s.IsConnected()
	if s.connected {
		s.log.Info("water level monitor detected")
	} else {
		s.log.Warn("water level sensor not detected, skipping module")
	}
	return s
}

// IsConnected fires a probe pulse. The result is not cached, so a sensor
// that stops answering later is reported as disconnected.
func (s *LevelSensor) IsConnected() bool {
	if s.ranger == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), ProbeTimeout)
	defer cancel()

	echo, err := s.ranger.Ping(ctx, probeDistance)
	if err != nil {
		s.log.WithError(err).Debug("probe ping failed")
		return false
	}
	return echo > 0
}

// Active reports whether the ranger answered at construction.
func (s *LevelSensor) Active() bool {
	return s.connected
}

// Level returns the distance to the water surface, or units.NoDistance if the
// sensor is inert or the echo timed out.
func (s *LevelSensor) Level() units.Centimeters {
	if !s.connected {
		return units.NoDistance
	}

	ctx, cancel := context.WithTimeout(context.Background(), PingTimeout)
	defer cancel()

	echo, err := s.ranger.Ping(ctx, MaxDistance)
	if err != nil {
		s.log.WithError(err).Debug("ping failed")
		return units.NoDistance
	}
	d := units.EchoDistance(echo)
	if d == 0 {
		return units.NoDistance
	}
	return d
}

// Calibrate sets the full and empty distances. near must be strictly less
// than far; otherwise the previous calibration is kept.
func (s *LevelSensor) Calibrate(near, far units.Centimeters) error {
	if !(near < far) {
		s.log.WithFields(logrus.Fields{"near": float64(near), "far": float64(far)}).
			Warn("invalid calibration: near distance must be less than far distance")
		return errors.Wrapf(ErrInvalidCalibration, "near %.2fcm must be less than far %.2fcm", near, far)
	}
	s.cal = LevelCalibration{Near: near, Far: far}
	s.log.WithFields(logrus.Fields{"full_cm": float64(near), "empty_cm": float64(far)}).Info("level calibration set")
	return nil
}

// Calibration returns the active calibration.
func (s *LevelSensor) Calibration() LevelCalibration {
	return s.cal
}

// LevelPercent takes a reading and maps it onto [0, 100].
// Returns units.NoPercent when no valid distance is available.
func (s *LevelSensor) LevelPercent() units.Percent {
	return s.Percent(s.Level())
}

// Percent maps an already measured distance onto [0, 100].
func (s *LevelSensor) Percent(d units.Centimeters) units.Percent {
	if !d.Valid() {
		return units.NoPercent
	}
	p := 100 * (s.cal.Far - d) / (s.cal.Far - s.cal.Near)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return units.Percent(p)
}
