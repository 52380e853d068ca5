package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultMaxAllocationAttempts bounds cycle-number commit retries.
	DefaultMaxAllocationAttempts = 5

	// DefaultPageSize is the listing page size when none is requested.
	DefaultPageSize = 50

	// DefaultMaxPageSize caps the listing page size.
	DefaultMaxPageSize = 500

	// EnvPrefix prefixes environment variable overrides.
	EnvPrefix = "TESTCYCLE"
)

// Config is the root configuration for testcycle.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" mapstructure:"lifecycle"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// LifecycleConfig tunes the execution lifecycle controller.
type LifecycleConfig struct {
	MaxAllocationAttempts int `yaml:"max_allocation_attempts" mapstructure:"max_allocation_attempts"`
	DefaultPageSize       int `yaml:"default_page_size" mapstructure:"default_page_size"`
	MaxPageSize           int `yaml:"max_page_size" mapstructure:"max_page_size"`
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	c.Lifecycle.applyDefaults()
	c.API.applyDefaults()
}

func (c *LifecycleConfig) applyDefaults() {
	if c.MaxAllocationAttempts <= 0 {
		c.MaxAllocationAttempts = DefaultMaxAllocationAttempts
	}

	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = DefaultPageSize
	}

	if c.MaxPageSize <= 0 {
		c.MaxPageSize = DefaultMaxPageSize
	}
}

// Validate checks the configuration shared by every command.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global.log_level: %w", err)
	}

	return c.Lifecycle.Validate()
}

// Validate checks the lifecycle settings.
func (c *LifecycleConfig) Validate() error {
	if c.MaxAllocationAttempts < 1 {
		return fmt.Errorf("lifecycle.max_allocation_attempts must be at least 1")
	}

	if c.DefaultPageSize < 1 {
		return fmt.Errorf("lifecycle.default_page_size must be at least 1")
	}

	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf(
			"lifecycle.default_page_size (%d) exceeds lifecycle.max_page_size (%d)",
			c.DefaultPageSize, c.MaxPageSize,
		)
	}

	return nil
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.API.Database.Postgres.Password = redact(c.API.Database.Postgres.Password)

	if len(c.API.Auth.Basic.Users) > 0 {
		out.API.Auth.Basic.Users = make([]BasicAuthUser, len(c.API.Auth.Basic.Users))

		for i, u := range c.API.Auth.Basic.Users {
			u.Password = redact(u.Password)
			out.API.Auth.Basic.Users[i] = u
		}
	}

	return &out
}

func redact(v string) string {
	if v == "" {
		return ""
	}

	return "<redacted>"
}
