// Package config loads the controller settings from an optional YAML file.
// Every field has a default matching the reference hardware build, so an
// empty or missing file yields a working configuration.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Pins holds BCM GPIO line offsets.
type Pins struct {
	Chip    string `yaml:"chip"`
	Relay   int    `yaml:"relay"`
	Trigger int    `yaml:"trigger"`
	Echo    int    `yaml:"echo"`
}

// ADC describes the analog front end.
type ADC struct {
	Address byte    `yaml:"address"`
	Vref    float64 `yaml:"vref"`

	CTChannel  int `yaml:"ct_channel"`
	ACSChannel int `yaml:"acs_channel"`
}

// Sensors holds the transducer calibration constants.
type Sensors struct {
	CTScale     float64 `yaml:"ct_scale"`
	Voltage     float64 `yaml:"voltage"`
	Sensitivity float64 `yaml:"sensitivity"`
	LevelNear   float64 `yaml:"level_near"`
	LevelFar    float64 `yaml:"level_far"`
}

// Pump holds the control thresholds in fill percent.
type Pump struct {
	MaxLevel float64 `yaml:"max_level"`
	MinLevel float64 `yaml:"min_level"`
	AutoMode bool    `yaml:"auto_mode"`
}

// Config is the complete controller configuration.
type Config struct {
	DeviceID string `yaml:"device_id"`
	Broker   string `yaml:"broker"`
	HTTPAddr string `yaml:"http_addr"`

	Poll      time.Duration `yaml:"poll"`
	Telemetry time.Duration `yaml:"telemetry"`
	Debug     time.Duration `yaml:"debug"`

	Pins    Pins    `yaml:"pins"`
	ADC     ADC     `yaml:"adc"`
	Sensors Sensors `yaml:"sensors"`
	Pump    Pump    `yaml:"pump"`
}

// Default returns the settings of the reference build.
func Default() Config {
	return Config{
		DeviceID:  "tank-controller",
		Broker:    "tcp://192.168.1.200:1883",
		HTTPAddr:  ":8080",
		Poll:      250 * time.Millisecond,
		Telemetry: 15 * time.Second,
		Debug:     3 * time.Second,
		Pins: Pins{
			Chip:    "gpiochip0",
			Relay:   17,
			Trigger: 23,
			Echo:    24,
		},
		ADC: ADC{
			Address:    0x48,
			Vref:       3.3,
			CTChannel:  1,
			ACSChannel: 0,
		},
		Sensors: Sensors{
			CTScale:     1550.5,
			Voltage:     225,
			Sensitivity: 185,
			LevelNear:   5,
			LevelFar:    50,
		},
		Pump: Pump{
			MaxLevel: 95,
			MinLevel: 20,
			AutoMode: true,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Fields absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.DeviceID == "":
		return errors.Wrap(ErrInvalid, "device_id is empty")
	case c.Poll <= 0:
		return errors.Wrapf(ErrInvalid, "poll %v must be positive", c.Poll)
	case c.Telemetry < 0 || c.Debug < 0:
		return errors.Wrap(ErrInvalid, "telemetry and debug intervals must not be negative")
	case c.ADC.Vref <= 0:
		return errors.Wrapf(ErrInvalid, "adc vref %v must be positive", c.ADC.Vref)
	case !validChannel(c.ADC.CTChannel) || !validChannel(c.ADC.ACSChannel):
		return errors.Wrapf(ErrInvalid, "adc channels %d/%d out of range 0-3", c.ADC.CTChannel, c.ADC.ACSChannel)
	case c.ADC.CTChannel == c.ADC.ACSChannel:
		return errors.Wrapf(ErrInvalid, "ct and acs share adc channel %d", c.ADC.CTChannel)
	case c.Sensors.CTScale <= 0:
		return errors.Wrapf(ErrInvalid, "ct_scale %v must be positive", c.Sensors.CTScale)
	case c.Sensors.Sensitivity <= 0:
		return errors.Wrapf(ErrInvalid, "sensitivity %v must be positive", c.Sensors.Sensitivity)
	case c.Sensors.Voltage <= 0:
		return errors.Wrapf(ErrInvalid, "voltage %v must be positive", c.Sensors.Voltage)
	case !(c.Sensors.LevelNear < c.Sensors.LevelFar):
		return errors.Wrapf(ErrInvalid, "level_near %v must be less than level_far %v", c.Sensors.LevelNear, c.Sensors.LevelFar)
	case !(c.Pump.MinLevel < c.Pump.MaxLevel):
		return errors.Wrapf(ErrInvalid, "min_level %v must be less than max_level %v", c.Pump.MinLevel, c.Pump.MaxLevel)
	}
	return nil
}

func validChannel(ch int) bool {
	return ch >= 0 && ch <= 3
}
