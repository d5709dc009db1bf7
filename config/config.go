// Package config holds the broker configuration structures and the YAML
// file loader used by the example binary. Everything here can also be set
// programmatically through the ferretmq options.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level broker configuration.
type Config struct {
	// Address is the listen address as an AMQP URL, e.g. "0.0.0.0" or
	// "amqp://0.0.0.0:5672".
	Address string `yaml:"address"`

	// ContainerID names the AMQP container. Empty means a generated ID.
	ContainerID string `yaml:"container_id"`

	// CreditWindow is the number of messages the broker is prepared to
	// buffer per incoming link before the publisher must wait for more
	// credit.
	CreditWindow int `yaml:"credit_window"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig controls the broker's log output.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// JSON selects structured JSON logs instead of the colored
	// terminal logger.
	JSON bool `yaml:"json"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file or flags are given.
func Default() Config {
	return Config{
		Address:      "0.0.0.0",
		CreditWindow: 100,
		Logging:      LoggingConfig{Level: "info"},
		Metrics:      MetricsConfig{Address: ":9090", Path: "/metrics"},
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if c.CreditWindow <= 0 {
		return fmt.Errorf("credit_window must be positive, got %d", c.CreditWindow)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address must be set when metrics are enabled")
	}
	return nil
}
