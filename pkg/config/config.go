package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-watchdog/pkg/errors"
	"github.com/core-tools/hsu-watchdog/pkg/logging"
	"github.com/core-tools/hsu-watchdog/pkg/watchdog"
)

const DefaultCheckInterval = 30 * time.Second

// Config represents the top-level configuration file structure
type Config struct {
	Watchdog watchdog.Config   `yaml:"watchdog"`
	Logging  logging.ZapConfig `yaml:"logging,omitempty"`
	Control  ControlConfig     `yaml:"control,omitempty"`
}

// ControlConfig configures the optional gRPC health endpoint
type ControlConfig struct {
	// Port 0 disables the endpoint
	Port int `yaml:"port,omitempty"`
}

// LoadConfigFromFile loads the configuration from a YAML file and applies defaults
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	SetDefaults(&config)

	return &config, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config
	SetDefaults(&config)
	return &config
}

// SetDefaults fills in values left empty
func SetDefaults(config *Config) {
	if config.Watchdog.CheckInterval == 0 {
		config.Watchdog.CheckInterval = DefaultCheckInterval
	}

	defaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Output
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := config.Watchdog.Validate(); err != nil {
		return errors.NewValidationError("invalid watchdog configuration", err)
	}

	if _, err := logging.ParseLevel(config.Logging.Level); err != nil {
		return errors.NewValidationError("invalid logging configuration", err).WithContext("valid_levels", "debug, info, warn, error")
	}
	switch config.Logging.Format {
	case "json", "console":
	default:
		return errors.NewValidationError(fmt.Sprintf("invalid log format: %s", config.Logging.Format), nil).WithContext("valid_formats", "json, console")
	}

	if config.Control.Port < 0 || config.Control.Port > 65535 {
		return errors.NewValidationError(fmt.Sprintf("invalid port number: %d", config.Control.Port), nil).WithContext("valid_range", "0-65535")
	}

	return nil
}
