// Package config loads pulse-sensor settings from built-in defaults and an
// optional YAML file. Command-line flags are layered on top by the caller.
//
// Example configuration:
//
//	sensor_pin: 17
//	output_pin: 18
//	button_pin: 27
//	idle_rate: 30
//	wait: 10s
//	mqtt:
//	  broker: tcp://192.168.1.200:1883
//	  topic: pulse/bpm
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/pulse-sensor/internal/gpio"
	"github.com/sweeney/pulse-sensor/internal/logic"
	"github.com/sweeney/pulse-sensor/internal/mqtt"
)

var (
	// ErrMissingPin is returned by Validate when a required pin is unset.
	ErrMissingPin = errors.New("missing required pin")
	// ErrInvalid is returned by Validate for out-of-range settings.
	ErrInvalid = errors.New("invalid configuration")
)

// NoPin marks an unset pin.
const NoPin = -1

// Default telemetry queue settings.
const (
	DefaultQueue      = 64
	DefaultRatePerSec = 10
	DefaultWait       = 10 * time.Second
)

// Config is the daemon configuration. It maps directly to the YAML file.
type Config struct {
	// Chip is the GPIO character device name.
	Chip string `yaml:"chip"`

	// SensorPin and OutputPin are required BCM offsets.
	SensorPin int `yaml:"sensor_pin"`
	OutputPin int `yaml:"output_pin"`

	// ButtonPin is optional; NoPin disables idle pace adjustment.
	ButtonPin int `yaml:"button_pin"`

	// Input line bias: "down", "up" or "none". The button is read on
	// falling edges, so the default pull-up suits a button wired to ground.
	SensorBias string `yaml:"sensor_bias"`
	ButtonBias string `yaml:"button_bias"`

	IdleRate int `yaml:"idle_rate"`
	IdleMin  int `yaml:"idle_min"`
	IdleMax  int `yaml:"idle_max"`
	IdleStep int `yaml:"idle_step"`

	// Wait is the settle time before a rate locks. Accepts "10s" or a
	// plain number of seconds.
	Wait Duration `yaml:"wait"`

	// Debounce is the minimum gap between accepted button presses.
	Debounce Duration `yaml:"debounce"`

	Verbose bool `yaml:"verbose"`
	Quiet   bool `yaml:"quiet"`

	MQTT MQTT `yaml:"mqtt"`

	// HTTP is the status server address. Empty disables it.
	HTTP string `yaml:"http"`
}

// MQTT configures telemetry. An empty Broker disables it.
type MQTT struct {
	Broker      string  `yaml:"broker"`
	Topic       string  `yaml:"topic"`
	SystemTopic string  `yaml:"system_topic"`
	Queue       int     `yaml:"queue"`
	RatePerSec  float64 `yaml:"rate_per_sec"`
}

// Duration is a time.Duration that reads Go duration strings or integer
// seconds, from YAML or as a command-line flag value.
type Duration time.Duration

// ParseDuration parses "1m30s" style durations. A bare integer is a
// number of seconds.
func ParseDuration(s string) (Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(n) * time.Second), nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(parsed), nil
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration at line %d: want a scalar", node.Line)
	}
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// String returns the Go duration form.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Set implements pflag.Value.
func (d *Duration) Set(s string) error {
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Type implements pflag.Value.
func (d *Duration) Type() string {
	return "duration"
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration. The sensor and output pins
// are unset.
func Default() Config {
	return Config{
		Chip:       gpio.DefaultChip,
		SensorPin:  NoPin,
		OutputPin:  NoPin,
		ButtonPin:  NoPin,
		SensorBias: gpio.BiasPullDown.String(),
		ButtonBias: gpio.BiasPullUp.String(),
		IdleRate:   logic.DefaultIdleRate,
		IdleMin:    logic.DefaultIdleMin,
		IdleMax:    logic.DefaultIdleMax,
		IdleStep:   logic.DefaultIdleStep,
		Wait:       Duration(DefaultWait),
		Debounce:   Duration(logic.DefaultDebounce),
		MQTT: MQTT{
			Topic:       mqtt.DefaultTopic,
			SystemTopic: mqtt.DefaultSystemTopic,
			Queue:       DefaultQueue,
			RatePerSec:  DefaultRatePerSec,
		},
	}
}

// Load reads the YAML file at path over the defaults. It does not validate.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Keys missing from data keep their
// default values.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks the merged configuration. All problems are reported.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.SensorPin < 0 {
		errs = append(errs, fmt.Errorf("%w: sensor_pin", ErrMissingPin))
	}
	if c.OutputPin < 0 {
		errs = append(errs, fmt.Errorf("%w: output_pin", ErrMissingPin))
	}
	if c.ButtonPin < NoPin {
		invalid("button_pin %d", c.ButtonPin)
	}
	if c.SensorPin >= 0 && c.SensorPin == c.OutputPin {
		invalid("sensor_pin and output_pin are both %d", c.SensorPin)
	}
	if c.HasButton() && (c.ButtonPin == c.SensorPin || c.ButtonPin == c.OutputPin) {
		invalid("button_pin %d is already in use", c.ButtonPin)
	}

	if _, err := gpio.ParseBias(c.SensorBias); err != nil {
		invalid("sensor_bias: %v", err)
	}
	if _, err := gpio.ParseBias(c.ButtonBias); err != nil {
		invalid("button_bias: %v", err)
	}

	if c.Chip == "" {
		invalid("chip is empty")
	}
	if c.IdleMin < 1 {
		invalid("idle_min %d must be at least 1", c.IdleMin)
	}
	if c.IdleMin >= c.IdleMax {
		invalid("idle_min %d must be below idle_max %d", c.IdleMin, c.IdleMax)
	}
	if c.IdleRate < c.IdleMin || c.IdleRate > c.IdleMax {
		invalid("idle_rate %d outside [%d,%d]", c.IdleRate, c.IdleMin, c.IdleMax)
	}
	if c.IdleStep < 1 {
		invalid("idle_step %d must be at least 1", c.IdleStep)
	}
	if c.Wait <= 0 {
		invalid("wait %v must be positive", c.Wait.Duration())
	}
	if c.Debounce < 0 {
		invalid("debounce %v is negative", c.Debounce.Duration())
	}
	if c.Verbose && c.Quiet {
		invalid("verbose and quiet are mutually exclusive")
	}
	if c.MQTT.Queue < 1 {
		invalid("mqtt.queue %d must be at least 1", c.MQTT.Queue)
	}
	if c.MQTT.RatePerSec < 0 {
		invalid("mqtt.rate_per_sec %v is negative", c.MQTT.RatePerSec)
	}

	return errors.Join(errs...)
}

// HasButton reports whether a button pin is configured.
func (c Config) HasButton() bool {
	return c.ButtonPin >= 0
}

// Pace returns the idle pace controller settings.
func (c Config) Pace() logic.PaceConfig {
	return logic.PaceConfig{
		Rate:     c.IdleRate,
		Min:      c.IdleMin,
		Max:      c.IdleMax,
		Step:     c.IdleStep,
		Debounce: c.Debounce.Duration(),
	}
}

// LogLevel maps the verbosity switches to a slog level.
func (c Config) LogLevel() slog.Level {
	switch {
	case c.Verbose:
		return slog.LevelDebug
	case c.Quiet:
		return slog.LevelError
	}
	return slog.LevelWarn
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
