// Command pulse-sensor estimates a pulse rate from edges on a GPIO sensor
// line and blinks an LED at that rate, falling back to an adjustable idle
// pace when the signal is lost. Rates are published to MQTT.
//
// Usage:
//
//	pulse-sensor -i 17 -o 18 -g 27 -H tcp://192.168.1.200:1883
//	pulse-sensor -c /etc/pulse-sensor.yaml -v
//	pulse-sensor -c /etc/pulse-sensor.yaml --print-config
//	pulse-sensor version
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/pulse-sensor/internal/config"
)

// Version information, set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pulse-sensor",
		Short: "Blink an LED at the pulse rate read from a GPIO sensor",
		Long: `pulse-sensor watches a pulse sensor on a GPIO line, estimates the rate
from the edge timing and, once the rate has settled, blinks an output line
at that rate. Without a signal the output blinks at an idle pace which an
optional button steps up and down between its bounds.

Settings come from built-in defaults, then the --config YAML file, then
any flags given on the command line.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runRoot,
	}

	fs := cmd.Flags()
	fs.StringP("config", "c", "", "path to YAML config file")
	fs.IntP("sensor", "i", config.NoPin, "BCM pin of the pulse sensor (required)")
	fs.IntP("output", "o", config.NoPin, "BCM pin of the output LED (required)")
	fs.IntP("button", "g", config.NoPin, "BCM pin of the idle pace button (-1 = none)")
	fs.IntP("idle-rate", "b", 0, "idle blink rate in bpm")
	fs.Int("idle-step", 0, "idle rate change per button press")
	fs.VarP(new(config.Duration), "wait", "w", "settle time before a rate locks (e.g. 10s, or plain seconds)")
	fs.Var(new(config.Duration), "debounce", "minimum gap between button presses (e.g. 2s, or plain seconds)")
	fs.String("sensor-bias", "", "sensor line bias: down, up or none")
	fs.String("button-bias", "", "button line bias: up (button to ground), down or none")
	fs.BoolP("verbose", "v", false, "log per-event diagnostics")
	fs.BoolP("quiet", "q", false, "log errors only")
	fs.StringP("mqtt-host", "H", "", "MQTT broker URL (empty disables telemetry)")
	fs.StringP("mqtt-topic", "T", "", "MQTT topic for rates")
	fs.String("chip", "", "GPIO chip name")
	fs.String("http", "", "HTTP status address (empty disables)")
	fs.Bool("print-config", false, "print the effective configuration and exit")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pulse-sensor %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

func runRoot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	if printCfg, _ := cmd.Flags().GetBool("print-config"); printCfg {
		data, err := cfg.Marshal()
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel())
	return run(cmd.Context(), cfg, logger)
}

// loadConfig layers the config file and any flags the user set over the
// defaults. The result is not validated.
func loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if path, _ := fs.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if err := applyFlags(fs, &cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// applyFlags copies explicitly set flags into cfg.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var errs []error
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, err := fs.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	setString := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, err := fs.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	setDuration := func(name string, dst *config.Duration) {
		if fs.Changed(name) {
			if v, ok := fs.Lookup(name).Value.(*config.Duration); ok {
				*dst = *v
			}
		}
	}

	setInt("sensor", &cfg.SensorPin)
	setInt("output", &cfg.OutputPin)
	setInt("button", &cfg.ButtonPin)
	setString("sensor-bias", &cfg.SensorBias)
	setString("button-bias", &cfg.ButtonBias)
	setInt("idle-rate", &cfg.IdleRate)
	setInt("idle-step", &cfg.IdleStep)
	setDuration("wait", &cfg.Wait)
	setDuration("debounce", &cfg.Debounce)
	setBool("verbose", &cfg.Verbose)
	setBool("quiet", &cfg.Quiet)
	setString("mqtt-host", &cfg.MQTT.Broker)
	setString("mqtt-topic", &cfg.MQTT.Topic)
	setString("chip", &cfg.Chip)
	setString("http", &cfg.HTTP)

	return errors.Join(errs...)
}

// newLogger creates a JSON logger at the given level.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
