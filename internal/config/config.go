package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dshills/broker/internal/broker"
	"github.com/dshills/broker/internal/logging"
)

// Config is the complete daemon configuration.
type Config struct {
	Log     LogConfig     `toml:"log" yaml:"log" envPrefix:"LOG_"`
	Broker  BrokerConfig  `toml:"broker" yaml:"broker"`
	Scripts ScriptsConfig `toml:"scripts" yaml:"scripts" envPrefix:"SCRIPTS_"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level" env:"LEVEL"`
	Format string `toml:"format" yaml:"format" env:"FORMAT"`
}

// BrokerConfig configures the broker itself.
type BrokerConfig struct {
	// FailurePolicy is "continue" or "stop".
	FailurePolicy   string   `toml:"failure_policy" yaml:"failure_policy" env:"FAILURE_POLICY"`
	DefaultPriority int      `toml:"default_priority" yaml:"default_priority" env:"DEFAULT_PRIORITY"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// ScriptsConfig lists Lua scripts to host.
type ScriptsConfig struct {
	Paths    []string `toml:"paths" yaml:"paths" env:"PATHS" envSeparator:","`
	Watch    bool     `toml:"watch" yaml:"watch" env:"WATCH"`
	Debounce Duration `toml:"debounce" yaml:"debounce" env:"DEBOUNCE"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address. Empty disables the endpoint.
	Addr      string `toml:"addr" yaml:"addr" env:"ADDR"`
	Namespace string `toml:"namespace" yaml:"namespace" env:"NAMESPACE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatAuto,
		},
		Broker: BrokerConfig{
			FailurePolicy:   "continue",
			DefaultPriority: broker.DefaultPriority,
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Scripts: ScriptsConfig{
			Debounce: Duration(100 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Namespace: "broker",
		},
	}
}

// Validate checks every setting and returns the first problem found.
func (c *Config) Validate() error {
	if _, ok := logging.LookupLogLevel(c.Log.Level); !ok {
		return &ValidationError{Path: "log.level", Value: c.Log.Level, Message: "unknown log level"}
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatJSON, logging.FormatConsole, logging.FormatAuto:
	default:
		return &ValidationError{Path: "log.format", Value: c.Log.Format, Message: "must be json, console or auto"}
	}
	if _, err := broker.ParseFailurePolicy(c.Broker.FailurePolicy); err != nil {
		return &ValidationError{Path: "broker.failure_policy", Value: c.Broker.FailurePolicy, Message: "must be continue or stop"}
	}
	if c.Broker.ShutdownTimeout < 0 {
		return &ValidationError{Path: "broker.shutdown_timeout", Value: c.Broker.ShutdownTimeout, Message: "must not be negative"}
	}
	if c.Scripts.Debounce < 0 {
		return &ValidationError{Path: "scripts.debounce", Value: c.Scripts.Debounce, Message: "must not be negative"}
	}
	for i, p := range c.Scripts.Paths {
		if strings.TrimSpace(p) == "" {
			return &ValidationError{Path: fmt.Sprintf("scripts.paths[%d]", i), Value: p, Message: "empty path"}
		}
	}
	if c.Metrics.Addr != "" && c.Metrics.Namespace == "" {
		return &ValidationError{Path: "metrics.namespace", Value: c.Metrics.Namespace, Message: "required when metrics.addr is set"}
	}
	return nil
}

// LoggingConfig converts the log section for logging.New.
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLogLevel(c.Log.Level)
	lc.Format = strings.ToLower(c.Log.Format)
	return lc
}

// BrokerOptions converts the broker section into broker options.
// Validate must have succeeded.
func (c *Config) BrokerOptions() []broker.Option {
	policy, _ := broker.ParseFailurePolicy(c.Broker.FailurePolicy)
	return []broker.Option{
		broker.WithFailurePolicy(policy),
		broker.WithDefaultPriority(c.Broker.DefaultPriority),
	}
}

// Duration is a time.Duration that decodes from strings like "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}
