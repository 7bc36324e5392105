package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BROKER_"

// DefaultEnvFile is the dotenv file read when no other is given.
const DefaultEnvFile = ".env"

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	envFile string
	environ map[string]string
}

// WithEnvFile reads dotenv settings from path instead of DefaultEnvFile.
// An empty path disables dotenv loading.
func WithEnvFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

// WithEnviron replaces the process environment as the variable source.
func WithEnviron(environ map[string]string) LoadOption {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// Load builds a Config from defaults, the file at path, a dotenv file and
// the environment, then validates it. An empty path skips the file layer.
// A path that does not exist is an error; a missing dotenv file is not.
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{envFile: DefaultEnvFile}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	vars, err := environment(o)
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: vars,
	}); err != nil {
		return nil, &ParseError{Path: "environment", Message: err.Error(), Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile decodes the file at path into cfg, keeping values the file
// does not set.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err != nil {
		return &ParseError{Path: path, Message: err.Error(), Err: err}
	}
	return nil
}

// environment merges the dotenv file under the real environment. Real
// variables win.
func environment(o loadOptions) (map[string]string, error) {
	vars := make(map[string]string)

	if o.envFile != "" {
		fileVars, err := godotenv.Read(o.envFile)
		switch {
		case err == nil:
			for k, v := range fileVars {
				vars[k] = v
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, &ParseError{Path: o.envFile, Message: err.Error(), Err: err}
		}
	}

	if o.environ != nil {
		for k, v := range o.environ {
			vars[k] = v
		}
		return vars, nil
	}

	for k, v := range env.ToMap(os.Environ()) {
		vars[k] = v
	}
	return vars, nil
}
