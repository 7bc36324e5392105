package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/broker/internal/broker"
	"github.com/dshills/broker/internal/logging"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Broker.DefaultPriority != broker.DefaultPriority {
		t.Errorf("DefaultPriority = %d, want %d", cfg.Broker.DefaultPriority, broker.DefaultPriority)
	}
	if cfg.Broker.ShutdownTimeout.Std() != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.Broker.ShutdownTimeout)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("", WithEnvFile(""), WithEnviron(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "broker.toml", `
[log]
level = "debug"
format = "json"

[broker]
failure_policy = "stop"
default_priority = 3
shutdown_timeout = "2s"

[scripts]
paths = ["a.lua", "b.lua"]
watch = true
debounce = "250ms"

[metrics]
addr = ":9090"
`)

	cfg, err := Load(path, WithEnvFile(""), WithEnviron(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Broker.FailurePolicy != "stop" || cfg.Broker.DefaultPriority != 3 {
		t.Errorf("Broker = %+v", cfg.Broker)
	}
	if cfg.Broker.ShutdownTimeout.Std() != 2*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.Broker.ShutdownTimeout)
	}
	if len(cfg.Scripts.Paths) != 2 || !cfg.Scripts.Watch {
		t.Errorf("Scripts = %+v", cfg.Scripts)
	}
	if cfg.Scripts.Debounce.Std() != 250*time.Millisecond {
		t.Errorf("Debounce = %v", cfg.Scripts.Debounce)
	}
	if cfg.Metrics.Addr != ":9090" || cfg.Metrics.Namespace != "broker" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "broker.yaml", `
log:
  level: warn
broker:
  default_priority: 7
scripts:
  paths:
    - handlers.lua
`)

	cfg, err := Load(path, WithEnvFile(""), WithEnviron(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Log.Format != logging.FormatAuto {
		t.Errorf("Log.Format = %q, want default", cfg.Log.Format)
	}
	if cfg.Broker.DefaultPriority != 7 {
		t.Errorf("DefaultPriority = %d", cfg.Broker.DefaultPriority)
	}
	if len(cfg.Scripts.Paths) != 1 || cfg.Scripts.Paths[0] != "handlers.lua" {
		t.Errorf("Scripts.Paths = %v", cfg.Scripts.Paths)
	}
}

func TestLoad_EmptyYAML(t *testing.T) {
	path := writeFile(t, "empty.yml", "")
	if _, err := Load(path, WithEnvFile(""), WithEnviron(map[string]string{})); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	noEnv := []LoadOption{WithEnvFile(""), WithEnviron(map[string]string{})}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), noEnv...)
		if !errors.Is(err, ErrFileNotFound) {
			t.Errorf("err = %v, want ErrFileNotFound", err)
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "broker.ini", "x=1")
		_, err := Load(path, noEnv...)
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("err = %v, want ErrUnsupportedFormat", err)
		}
	})

	t.Run("bad toml", func(t *testing.T) {
		path := writeFile(t, "broker.toml", "[log\nlevel=")
		_, err := Load(path, noEnv...)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("err = %v, want *ParseError", err)
		}
		if pe.Path != path {
			t.Errorf("ParseError.Path = %q, want %q", pe.Path, path)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeFile(t, "broker.yaml", "log:\n  colour: red\n")
		var pe *ParseError
		if _, err := Load(path, noEnv...); !errors.As(err, &pe) {
			t.Errorf("err = %v, want *ParseError", err)
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		path := writeFile(t, "broker.toml", "[broker]\nfailure_policy = \"retry\"\n")
		_, err := Load(path, noEnv...)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("err = %v, want *ValidationError", err)
		}
		if ve.Path != "broker.failure_policy" {
			t.Errorf("ValidationError.Path = %q", ve.Path)
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Error("ValidationError should match ErrValidationFailed")
		}
	})

	t.Run("bad env duration", func(t *testing.T) {
		_, err := Load("", WithEnvFile(""), WithEnviron(map[string]string{
			"BROKER_SHUTDOWN_TIMEOUT": "soon",
		}))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("err = %v, want *ParseError", err)
		}
	})
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "broker.toml", "[log]\nlevel = \"debug\"\n")

	cfg, err := Load(path, WithEnvFile(""), WithEnviron(map[string]string{
		"BROKER_LOG_LEVEL":        "error",
		"BROKER_DEFAULT_PRIORITY": "9",
		"BROKER_SCRIPTS_PATHS":    "x.lua,y.lua",
		"BROKER_SCRIPTS_WATCH":    "true",
		"BROKER_METRICS_ADDR":     "127.0.0.1:9100",
		"UNRELATED":               "ignored",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want error", cfg.Log.Level)
	}
	if cfg.Broker.DefaultPriority != 9 {
		t.Errorf("DefaultPriority = %d, want 9", cfg.Broker.DefaultPriority)
	}
	if len(cfg.Scripts.Paths) != 2 || cfg.Scripts.Paths[1] != "y.lua" {
		t.Errorf("Scripts.Paths = %v", cfg.Scripts.Paths)
	}
	if !cfg.Scripts.Watch {
		t.Error("Scripts.Watch should be true")
	}
	if cfg.Metrics.Addr != "127.0.0.1:9100" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "BROKER_LOG_FORMAT=console\nBROKER_LOG_LEVEL=warn\n")

	cfg, err := Load("", WithEnvFile(envFile), WithEnviron(map[string]string{
		"BROKER_LOG_LEVEL": "debug",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Log.Format = %q, want console from .env", cfg.Log.Format)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, environment should win over .env", cfg.Log.Level)
	}
}

func TestLoad_MissingDotEnv(t *testing.T) {
	missing := filepath.Join(t.TempDir(), ".env")
	if _, err := Load("", WithEnvFile(missing), WithEnviron(map[string]string{})); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		path   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"policy", func(c *Config) { c.Broker.FailurePolicy = "retry" }, "broker.failure_policy"},
		{"shutdown", func(c *Config) { c.Broker.ShutdownTimeout = -1 }, "broker.shutdown_timeout"},
		{"debounce", func(c *Config) { c.Scripts.Debounce = -1 }, "scripts.debounce"},
		{"script path", func(c *Config) { c.Scripts.Paths = []string{"a.lua", " "} }, "scripts.paths[1]"},
		{"namespace", func(c *Config) { c.Metrics.Addr = ":9090"; c.Metrics.Namespace = "" }, "metrics.namespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			var ve *ValidationError
			if err := cfg.Validate(); !errors.As(err, &ve) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if ve.Path != tt.path {
				t.Errorf("Path = %q, want %q", ve.Path, tt.path)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "JSON"
	cfg.Broker.FailurePolicy = "stop"

	lc := cfg.LoggingConfig()
	if lc.Level != logging.LogLevelDebug {
		t.Errorf("Level = %v, want debug", lc.Level)
	}
	if lc.Format != logging.FormatJSON {
		t.Errorf("Format = %q, want json", lc.Format)
	}

	if n := len(cfg.BrokerOptions()); n != 2 {
		t.Errorf("len(BrokerOptions()) = %d, want 2", n)
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("d = %v", d)
	}
	text, _ := d.MarshalText()
	if string(text) != "1m30s" {
		t.Errorf("MarshalText() = %q", text)
	}
	if err := d.UnmarshalText([]byte("later")); err == nil {
		t.Error("UnmarshalText(later) should fail")
	}
}
