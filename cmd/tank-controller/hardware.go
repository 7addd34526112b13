package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/tank-controller/internal/adc"
	"github.com/sweeney/tank-controller/internal/config"
	"github.com/sweeney/tank-controller/internal/gpio"
	"github.com/sweeney/tank-controller/internal/hal"
	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/sensor"
	"github.com/sweeney/tank-controller/internal/units"
)

// components are the sensors and the actuator driven by the control loop.
type components struct {
	pump    *logic.Controller
	current *sensor.CurrentSensor
	power   *sensor.PowerMeter
	level   *sensor.LevelSensor
}

// hardware owns the host devices behind the components.
type hardware struct {
	components
	board *gpio.Board
	adc   *adc.Device
}

// absentADC stands in for a converter that failed to open. Every read fails,
// so the analog sensors stay inert.
type absentADC struct{ err error }

func (a absentADC) ReadRaw(int) (units.Counts, error) { return 0, a.err }

func openBoard(cfg config.Config) (*gpio.Board, error) {
	board, err := gpio.Open(gpio.Pins{
		Chip:    cfg.Pins.Chip,
		Relay:   cfg.Pins.Relay,
		Trigger: cfg.Pins.Trigger,
		Echo:    cfg.Pins.Echo,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init gpio")
	}
	return board, nil
}

// openAnalog opens the ADC. A missing converter is not fatal: the returned
// reader fails every read and the device is nil.
func openAnalog(cfg config.Config) (*adc.Device, hal.AnalogReader) {
	dev, err := adc.Open(cfg.ADC.Address, units.Volts(cfg.ADC.Vref))
	if err != nil {
		logrus.WithField("component", "adc").WithError(err).Warn("adc unavailable, analog sensors disabled")
		return nil, absentADC{err: err}
	}
	return dev, dev
}

func newCurrentSensor(cfg config.Config, reader hal.AnalogReader) *sensor.CurrentSensor {
	return sensor.NewCurrentSensor(reader, hal.SystemClock{}, cfg.ADC.CTChannel, cfg.Sensors.CTScale)
}

func newPowerMeter(cfg config.Config, reader hal.AnalogReader) *sensor.PowerMeter {
	return sensor.NewPowerMeter(reader, hal.SystemClock{}, cfg.ADC.ACSChannel,
		units.Volts(cfg.Sensors.Voltage), cfg.Sensors.Sensitivity)
}

// newLevelSensor probes the ranger and applies the configured span.
func newLevelSensor(cfg config.Config, board *gpio.Board) (*sensor.LevelSensor, error) {
	var ranger hal.Ranger
	if board != nil && board.Ranger != nil {
		ranger = board.Ranger
	}
	level := sensor.NewLevelSensor(ranger)
	if err := level.Calibrate(units.Centimeters(cfg.Sensors.LevelNear), units.Centimeters(cfg.Sensors.LevelFar)); err != nil {
		return nil, err
	}
	return level, nil
}

// openHardware brings up every device. GPIO is required because the relay
// must be driven; the ADC is optional.
func openHardware(cfg config.Config) (*hardware, error) {
	board, err := openBoard(cfg)
	if err != nil {
		return nil, err
	}
	hw := &hardware{board: board}
	var reader hal.AnalogReader
	hw.adc, reader = openAnalog(cfg)

	hw.pump, err = logic.NewController(board.Relay)
	if err != nil {
		hw.Close()
		return nil, err
	}
	hw.level, err = newLevelSensor(cfg, board)
	if err != nil {
		hw.Close()
		return nil, err
	}
	hw.power = newPowerMeter(cfg, reader)
	hw.current = newCurrentSensor(cfg, reader)
	return hw, nil
}

// Close releases the devices. The GPIO lines fall back to pulled-down
// inputs, which also drops the relay.
func (h *hardware) Close() error {
	var firstErr error
	if h.adc != nil {
		if err := h.adc.Close(); err != nil {
			firstErr = err
		}
	}
	if h.board != nil {
		if err := h.board.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
