// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the client application configuration.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Store   StoreConfig   `yaml:"store"`
	Catalog CatalogConfig `yaml:"catalog"`
	Log     LogConfig     `yaml:"log"`
}

// ClientConfig represents per-client sync settings.
type ClientConfig struct {
	DisplayName string `yaml:"display_name"`
	// Drift below the threshold is left uncorrected to avoid audible
	// stutter; the useful range is narrow and validated.
	DriftThresholdMs int `yaml:"drift_threshold_ms" default:"1200" validate:"gte=1000,lte=1500"`
	EndedGraceMs     int `yaml:"ended_grace_ms" default:"3000" validate:"gte=0,lte=30000"`
}

// StoreConfig represents session store configuration.
type StoreConfig struct {
	Backend  string         `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
	Settings map[string]any `yaml:"settings"`
}

// CatalogConfig represents the static catalog configuration.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables take precedence for sensitive fields.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TUNEJAM_DISPLAY_NAME"); v != "" {
		c.Client.DisplayName = v
	}
	if v := os.Getenv("TUNEJAM_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		if c.Store.Settings == nil {
			c.Store.Settings = map[string]any{}
		}
		c.Store.Settings["addr"] = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		if c.Store.Settings == nil {
			c.Store.Settings = map[string]any{}
		}
		c.Store.Settings["password"] = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	if c.Store.Backend == "redis" {
		if _, ok := c.Store.Settings["addr"]; !ok {
			return errors.New("store.settings.addr is required for the redis backend")
		}
	}
	return nil
}

// DriftThreshold returns the drift threshold in seconds.
func (c *Config) DriftThreshold() float64 {
	return float64(c.Client.DriftThresholdMs) / 1000.0
}

// EndedGrace returns the session-ended grace delay.
func (c *Config) EndedGrace() time.Duration {
	return time.Duration(c.Client.EndedGraceMs) * time.Millisecond
}
