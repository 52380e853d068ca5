package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ethpandaops/testcycle/pkg/execution"
)

const (
	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultSessionTTL is the default login session lifetime.
	DefaultSessionTTL = "24h"

	// DefaultCleanupSchedule is the default schedule for purging expired
	// sessions.
	DefaultCleanupSchedule = "@every 15m"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "testcycle.db"
)

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server      APIServerConfig    `yaml:"server" mapstructure:"server"`
	Auth        APIAuthConfig      `yaml:"auth" mapstructure:"auth"`
	Database    APIDatabaseConfig  `yaml:"database" mapstructure:"database"`
	Metrics     APIMetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Memberships []MembershipConfig `yaml:"memberships,omitempty" mapstructure:"memberships"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Public        RateLimitTier `yaml:"public,omitempty" mapstructure:"public"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier. A
// non-positive budget leaves the tier unlimited.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings.
type APIAuthConfig struct {
	SessionTTL      string          `yaml:"session_ttl" mapstructure:"session_ttl"`
	AnonymousRead   bool            `yaml:"anonymous_read" mapstructure:"anonymous_read"`
	CleanupSchedule string          `yaml:"cleanup_schedule" mapstructure:"cleanup_schedule"`
	Basic           BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures username/password authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user from config.
type BasicAuthUser struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Role     string `yaml:"role" mapstructure:"role"`
}

// APIDatabaseConfig contains database connection settings.
type APIDatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// APIMetricsConfig toggles the Prometheus endpoint.
type APIMetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// MembershipConfig grants a user capabilities in one project. Entries are
// upserted into the membership table when the API starts.
type MembershipConfig struct {
	Username     string   `yaml:"username" mapstructure:"username"`
	ProjectID    int64    `yaml:"project_id" mapstructure:"project_id"`
	Capabilities []string `yaml:"capabilities" mapstructure:"capabilities"`
}

// Valid user roles.
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleReadonly = "readonly"
)

func (c *APIConfig) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Auth.CleanupSchedule == "" {
		c.Auth.CleanupSchedule = DefaultCleanupSchedule
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Postgres.Port == 0 {
			c.Database.Postgres.Port = 5432
		}

		if c.Database.Postgres.SSLMode == "" {
			c.Database.Postgres.SSLMode = "disable"
		}
	}

	for i := range c.Auth.Basic.Users {
		if c.Auth.Basic.Users[i].Role == "" {
			c.Auth.Basic.Users[i].Role = RoleUser
		}
	}
}

// ValidateAPI checks the configuration needed by the api command.
func (c *Config) ValidateAPI() error {
	if err := c.Validate(); err != nil {
		return err
	}

	api := &c.API

	if api.Server.Listen == "" {
		return fmt.Errorf("api.server.listen is required")
	}

	if _, err := time.ParseDuration(api.Auth.SessionTTL); err != nil {
		return fmt.Errorf("api.auth.session_ttl: %w", err)
	}

	if _, err := cron.ParseStandard(api.Auth.CleanupSchedule); err != nil {
		return fmt.Errorf("api.auth.cleanup_schedule: %w", err)
	}

	if api.Server.RateLimit.Enabled {
		for name, tier := range map[string]RateLimitTier{
			"auth":          api.Server.RateLimit.Auth,
			"public":        api.Server.RateLimit.Public,
			"authenticated": api.Server.RateLimit.Authenticated,
		} {
			if tier.RequestsPerMinute < 0 {
				return fmt.Errorf(
					"api.server.rate_limit.%s.requests_per_minute must not be negative", name)
			}
		}
	}

	if err := api.Database.validate(); err != nil {
		return err
	}

	if err := api.Auth.validate(); err != nil {
		return err
	}

	for i, m := range api.Memberships {
		if err := m.validate(); err != nil {
			return fmt.Errorf("api.memberships[%d]: %w", i, err)
		}
	}

	return nil
}

func (d *APIDatabaseConfig) validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("api.database.sqlite.path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" {
			return fmt.Errorf("api.database.postgres.host is required")
		}

		if d.Postgres.Database == "" {
			return fmt.Errorf("api.database.postgres.database is required")
		}
	default:
		return fmt.Errorf("api.database.driver: unsupported driver %q", d.Driver)
	}

	return nil
}

func (a *APIAuthConfig) validate() error {
	if !a.Basic.Enabled {
		return nil
	}

	if len(a.Basic.Users) == 0 {
		return fmt.Errorf("api.auth.basic: at least one user is required when enabled")
	}

	seen := make(map[string]struct{}, len(a.Basic.Users))

	for i, u := range a.Basic.Users {
		if u.Username == "" {
			return fmt.Errorf("api.auth.basic.users[%d]: username is required", i)
		}

		if _, ok := seen[u.Username]; ok {
			return fmt.Errorf("api.auth.basic.users[%d]: duplicate username %q", i, u.Username)
		}

		seen[u.Username] = struct{}{}

		if u.Password == "" {
			return fmt.Errorf("api.auth.basic.users[%d]: password is required", i)
		}

		switch u.Role {
		case RoleAdmin, RoleUser, RoleReadonly:
		default:
			return fmt.Errorf("api.auth.basic.users[%d]: unknown role %q", i, u.Role)
		}
	}

	return nil
}

func (m *MembershipConfig) validate() error {
	if m.Username == "" {
		return fmt.Errorf("username is required")
	}

	if m.ProjectID <= 0 {
		return fmt.Errorf("project_id must be positive")
	}

	if len(m.Capabilities) == 0 {
		return fmt.Errorf("at least one capability is required")
	}

	for _, name := range m.Capabilities {
		if _, err := execution.ParseCapability(name); err != nil {
			return err
		}
	}

	return nil
}

// SessionDuration returns the parsed session TTL. Call after ValidateAPI.
func (a *APIAuthConfig) SessionDuration() time.Duration {
	d, err := time.ParseDuration(a.SessionTTL)
	if err != nil {
		return 24 * time.Hour
	}

	return d
}
