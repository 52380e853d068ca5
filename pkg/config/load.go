package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Load reads and merges the configuration files at paths, in order, from
// the OS filesystem.
func Load(paths ...string) (*Config, error) {
	return LoadFs(afero.NewOsFs(), paths...)
}

// LoadFs reads and merges the configuration files at paths from fs. Later
// files override earlier ones. Environment variables prefixed with
// TESTCYCLE_ override both, with dots in keys replaced by underscores.
func LoadFs(fs afero.Fs, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerDefaults(v)

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// registerDefaults makes every scalar key known to viper so that an
// environment variable can set it even when no file mentions it.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("lifecycle.max_allocation_attempts", DefaultMaxAllocationAttempts)
	v.SetDefault("lifecycle.default_page_size", DefaultPageSize)
	v.SetDefault("lifecycle.max_page_size", DefaultMaxPageSize)

	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.server.cors_origins", []string{})
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.server.rate_limit.auth.requests_per_minute", 10)
	v.SetDefault("api.server.rate_limit.public.requests_per_minute", 60)
	v.SetDefault("api.server.rate_limit.authenticated.requests_per_minute", 300)

	v.SetDefault("api.auth.session_ttl", DefaultSessionTTL)
	v.SetDefault("api.auth.anonymous_read", false)
	v.SetDefault("api.auth.cleanup_schedule", DefaultCleanupSchedule)
	v.SetDefault("api.auth.basic.enabled", false)

	v.SetDefault("api.database.driver", DefaultDatabaseDriver)
	v.SetDefault("api.database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("api.database.postgres.host", "")
	v.SetDefault("api.database.postgres.port", 5432)
	v.SetDefault("api.database.postgres.user", "")
	v.SetDefault("api.database.postgres.password", "")
	v.SetDefault("api.database.postgres.database", "")
	v.SetDefault("api.database.postgres.ssl_mode", "disable")

	v.SetDefault("api.metrics.enabled", true)
}
