// Command tank-controller measures load current, power and tank level and
// drives the water pump relay, publishing state over MQTT and HTTP.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweeney/tank-controller/internal/config"
)

var (
	logLevel   = "info"
	configPath = ""

	brokerFlag   string
	httpFlag     string
	deviceIDFlag string
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "failed to parse log level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	// color.NoColor is false only when stdout is a terminal.
	if !color.NoColor {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}
	return nil
}

// loadConfig reads the config file and applies flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("broker") {
		cfg.Broker = brokerFlag
	}
	if flags.Changed("http") {
		cfg.HTTPAddr = httpFlag
	}
	if flags.Changed("device-id") {
		cfg.DeviceID = deviceIDFlag
	}
	return cfg, cfg.Validate()
}

// NewCommand builds the root command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tank-controller",
		Short:         "tank-controller runs the water pump and energy monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file (defaults are used when empty)")
	globalFlags.StringVar(&brokerFlag, "broker", "", "MQTT broker address (overrides the config file)")
	globalFlags.StringVar(&httpFlag, "http", "", "HTTP status address, empty to disable (overrides the config file)")
	globalFlags.StringVar(&deviceIDFlag, "device-id", "", "device id used in topics and the client id (overrides the config file)")

	cmd.AddCommand(
		NewRunCommand(),
		NewPrintStateCommand(),
		NewCalibrateCommand(),
	)
	return cmd
}

// NewRunCommand .
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the controller in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemon(cfg)
		},
	}
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		logrus.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}
