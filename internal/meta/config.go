package meta

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"jobstatsd/internal/metrics"
)

// Duration wraps time.Duration so that it decodes from strings like "50ms" in both YAML and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn" toml:"sentry_dsn"`
	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"`
}

// StatsdConfig is a top-level block for the statsd destination and metric formatting.
type StatsdConfig struct {
	Host          string    `yaml:"host" toml:"host"`
	Port          int       `yaml:"port" toml:"port"`
	Prefix        *string   `yaml:"prefix" toml:"prefix"`
	Timeout       *Duration `yaml:"timeout" toml:"timeout"`
	PreciseTiming bool      `yaml:"precise_timing" toml:"precise_timing"`
}

// Config describes all application configuration options.
type Config struct {
	Application *ApplicationConfig `yaml:"application" toml:"application"`
	Statsd      *StatsdConfig      `yaml:"statsd" toml:"statsd"`
}

// Supported log output formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// ParseConfig parses a Config struct instance from a file specified as a path on disk. Files with
// a .toml extension are decoded as TOML; anything else is decoded as YAML.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: err=%v", err)
	}

	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: error parsing config: err=%v", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return cfg, nil
}

// Settings produces the metrics configuration snapshot described by the config.
func (c *Config) Settings() metrics.Settings {
	settings := metrics.DefaultSettings()

	if c.Statsd == nil {
		return settings
	}

	settings.Destination = metrics.Destination{Host: c.Statsd.Host, Port: c.Statsd.Port}
	settings.PreciseTiming = c.Statsd.PreciseTiming

	if c.Statsd.Prefix != nil {
		settings.Prefix = *c.Statsd.Prefix
	}

	if c.Statsd.Timeout != nil {
		settings.Timeout = c.Statsd.Timeout.Duration
	}

	return settings
}

// applyDefaults fills in omitted blocks and values with the built-in defaults.
func (c *Config) applyDefaults() {
	if c.Application == nil {
		c.Application = &ApplicationConfig{}
	}

	if c.Application.LogLevel == "" {
		c.Application.LogLevel = "error"
	}

	if c.Application.LogFormat == "" {
		c.Application.LogFormat = LogFormatConsole
	}

	if c.Statsd == nil {
		c.Statsd = &StatsdConfig{}
	}

	if c.Statsd.Host == "" {
		c.Statsd.Host = metrics.DefaultHost
	}

	if c.Statsd.Port == 0 {
		c.Statsd.Port = metrics.DefaultPort
	}

	if c.Statsd.Prefix == nil {
		prefix := metrics.DefaultPrefix
		c.Statsd.Prefix = &prefix
	}

	if c.Statsd.Timeout == nil {
		c.Statsd.Timeout = &Duration{metrics.DefaultTimeout}
	}
}

// validate the contents of the configuration. Returns an error if validation failed; nil otherwise.
func (c *Config) validate() error {
	/* Application */

	if c.Application != nil {
		switch c.Application.LogFormat {
		case "", LogFormatConsole, LogFormatJSON:
		default:
			return fmt.Errorf("config: unknown log format: format=%s", c.Application.LogFormat)
		}
	}

	/* Statsd */

	// Users can omit the statsd block entirely to rely on defaults and environment overrides.
	if c.Statsd == nil {
		return nil
	}

	if c.Statsd.Port < 0 || c.Statsd.Port > 65535 {
		return fmt.Errorf("config: statsd port out of range: port=%d", c.Statsd.Port)
	}

	if c.Statsd.Prefix != nil && *c.Statsd.Prefix == "" {
		return fmt.Errorf("config: statsd prefix must not be empty")
	}

	if c.Statsd.Timeout != nil && c.Statsd.Timeout.Duration < 0 {
		return fmt.Errorf("config: statsd timeout must not be negative")
	}

	return nil
}
