package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sweeney/tank-controller/internal/sensor"
	"github.com/sweeney/tank-controller/internal/units"
)

func on(format string, a ...interface{}) string {
	return color.New(color.Bold, color.FgGreen).Sprint("ON") + "  " + fmt.Sprintf(format, a...)
}

func na() string {
	return color.New(color.Bold, color.FgYellow).Sprint("N/A")
}

func pumpString(running bool) string {
	if running {
		return color.New(color.Bold, color.FgGreen).Sprint("ON")
	}
	return color.New(color.Bold, color.FgRed).Sprint("OFF")
}

// printState takes one reading from every present sensor and prints a line each.
func printState(w io.Writer, c components) {
	if c.current.IsConnected() {
		c.current.Update()
		fmt.Fprintf(w, "CT:     %s\n", on("%.2f A", float64(c.current.Current())))
	} else {
		fmt.Fprintf(w, "CT:     %s\n", na())
	}

	if c.power.Active() {
		c.power.Update()
		fmt.Fprintf(w, "Power:  %s\n", on("%.2f W", float64(c.power.Power())))
	} else {
		fmt.Fprintf(w, "Power:  %s\n", na())
	}

	if c.level.Active() {
		d := c.level.Level()
		if p := c.level.Percent(d); p.Valid() {
			fmt.Fprintf(w, "Level:  %s\n", on("%.1f%% (%.2f cm)", float64(p), float64(d)))
		} else {
			fmt.Fprintf(w, "Level:  %s\n", on("no echo"))
		}
	} else {
		fmt.Fprintf(w, "Level:  %s\n", na())
	}

	fmt.Fprintf(w, "Pump:   %s\n", pumpString(c.pump.IsRunning()))
}

// NewPrintStateCommand .
func NewPrintStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print-state",
		Short: "Probe the sensors, print their state and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hw, err := openHardware(cfg)
			if err != nil {
				return err
			}
			defer hw.Close()

			printState(cmd.OutOrStdout(), hw.components)
			return nil
		},
	}
}

// NewCalibrateCommand .
func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Compute calibration values for the current and level sensors",
		Long: `Compute calibration values for the current and level sensors.
Results are printed and not persisted; copy them into the config file.`,
	}
	cmd.AddCommand(
		newCalibrateCurrentCommand(),
		newCalibrateLevelCommand(),
	)
	return cmd
}

func newCalibrateCurrentCommand() *cobra.Command {
	var knownAmps float64

	cmd := &cobra.Command{
		Use:   "current",
		Short: "Derive the CT scale factor from a known load",
		Long: `Derive the CT scale factor from a known load.
Connect a stable resistive load first. A 100 W bulb draws about 0.45 A at 220 V.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !(knownAmps > 0) {
				return errors.Errorf("--known-amps must be positive, got %v", knownAmps)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dev, reader := openAnalog(cfg)
			if dev == nil {
				return errors.New("adc unavailable")
			}
			defer dev.Close()

			scale, err := calibrateCurrent(newCurrentSensor(cfg, reader), units.Amps(knownAmps))
			if err != nil {
				return err
			}
			cmd.Printf("New CT calibration factor: %s\n", color.New(color.Bold).Sprintf("%.2f", scale))
			cmd.Printf("Set sensors.ct_scale: %.2f in the config file to keep it.\n", scale)
			return nil
		},
	}
	cmd.Flags().Float64Var(&knownAmps, "known-amps", 0, "current drawn by the reference load, in amps")
	cmd.MarkFlagRequired("known-amps")
	return cmd
}

func calibrateCurrent(ct *sensor.CurrentSensor, known units.Amps) (float64, error) {
	scale, ok := ct.Calibrate(known)
	if !ok {
		return 0, errors.New("current sensor not detected")
	}
	return scale, nil
}

func newCalibrateLevelCommand() *cobra.Command {
	var near, far float64

	cmd := &cobra.Command{
		Use:   "level",
		Short: "Check a level span against the current distance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			board, err := openBoard(cfg)
			if err != nil {
				return err
			}
			defer board.Close()

			cfg.Sensors.LevelNear, cfg.Sensors.LevelFar = near, far
			level, err := newLevelSensor(cfg, board)
			if err != nil {
				return err
			}
			return printLevelCalibration(cmd.OutOrStdout(), level)
		},
	}
	cmd.Flags().Float64Var(&near, "near", 0, "distance to the water surface of a full tank, in cm")
	cmd.Flags().Float64Var(&far, "far", 0, "distance to the water surface of an empty tank, in cm")
	cmd.MarkFlagRequired("near")
	cmd.MarkFlagRequired("far")
	return cmd
}

func printLevelCalibration(w io.Writer, level *sensor.LevelSensor) error {
	if !level.Active() {
		return errors.New("level sensor not detected")
	}
	cal := level.Calibration()
	d := level.Level()
	p := level.Percent(d)
	if !p.Valid() {
		return errors.New("no echo from the level sensor")
	}
	fmt.Fprintf(w, "Span %.2f cm (full) to %.2f cm (empty)\n", float64(cal.Near), float64(cal.Far))
	fmt.Fprintf(w, "Distance %.2f cm, level %s\n", float64(d), color.New(color.Bold).Sprintf("%.1f%%", float64(p)))
	return nil
}
