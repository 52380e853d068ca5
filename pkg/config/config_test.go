package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `
global:
  log_level: info
lifecycle:
  max_allocation_attempts: 3
api:
  server:
    listen: ":9090"
    cors_origins:
      - https://qa.example.com
  auth:
    session_ttl: 12h
    basic:
      enabled: true
      users:
        - username: alice
          password: s3cret
          role: admin
        - username: bob
          password: hunter2
  database:
    driver: sqlite
    sqlite:
      path: /var/lib/testcycle/testcycle.db
  memberships:
    - username: bob
      project_id: 1
      capabilities: [developer, reviewer]
`

func writeConfig(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()

	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestLoadFs_File(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/etc/testcycle/config.yaml", baseConfig)

	cfg, err := LoadFs(fs, "/etc/testcycle/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, 3, cfg.Lifecycle.MaxAllocationAttempts)
	assert.Equal(t, DefaultPageSize, cfg.Lifecycle.DefaultPageSize)
	assert.Equal(t, DefaultMaxPageSize, cfg.Lifecycle.MaxPageSize)
	assert.Equal(t, ":9090", cfg.API.Server.Listen)
	assert.Equal(t, []string{"https://qa.example.com"}, cfg.API.Server.CORSOrigins)
	assert.Equal(t, "12h", cfg.API.Auth.SessionTTL)
	assert.Equal(t, DefaultCleanupSchedule, cfg.API.Auth.CleanupSchedule)
	require.Len(t, cfg.API.Auth.Basic.Users, 2)
	assert.Equal(t, RoleUser, cfg.API.Auth.Basic.Users[1].Role)
	require.Len(t, cfg.API.Memberships, 1)
	assert.Equal(t, int64(1), cfg.API.Memberships[0].ProjectID)
	assert.Equal(t, []string{"developer", "reviewer"}, cfg.API.Memberships[0].Capabilities)
	assert.True(t, cfg.API.Metrics.Enabled)

	require.NoError(t, cfg.ValidateAPI())
}

func TestLoadFs_Defaults(t *testing.T) {
	cfg, err := LoadFs(afero.NewMemMapFs())
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultMaxAllocationAttempts, cfg.Lifecycle.MaxAllocationAttempts)
	assert.Equal(t, DefaultListen, cfg.API.Server.Listen)
	assert.Equal(t, DefaultDatabaseDriver, cfg.API.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.API.Database.SQLite.Path)
	require.NoError(t, cfg.ValidateAPI())
}

func TestLoadFs_MergesFilesInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/base.yaml", baseConfig)
	writeConfig(t, fs, "/override.yaml", `
global:
  log_level: debug
api:
  server:
    listen: ":7070"
`)

	cfg, err := LoadFs(fs, "/base.yaml", "/override.yaml")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, ":7070", cfg.API.Server.Listen)
	assert.Equal(t, 3, cfg.Lifecycle.MaxAllocationAttempts, "untouched keys survive the merge")
}

func TestLoadFs_MissingFile(t *testing.T) {
	_, err := LoadFs(afero.NewMemMapFs(), "/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nope.yaml")
}

func TestLoadFs_EnvVarOverrides(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/config.yaml", baseConfig)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, ":9090", cfg.API.Server.Listen)
			},
		},
		{
			name:    "string override - log_level",
			envVars: map[string]string{"TESTCYCLE_GLOBAL_LOG_LEVEL": "debug"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name:    "int override - max_allocation_attempts",
			envVars: map[string]string{"TESTCYCLE_LIFECYCLE_MAX_ALLOCATION_ATTEMPTS": "9"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9, cfg.Lifecycle.MaxAllocationAttempts)
			},
		},
		{
			name:    "bool override - anonymous_read",
			envVars: map[string]string{"TESTCYCLE_API_AUTH_ANONYMOUS_READ": "true"},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.API.Auth.AnonymousRead)
			},
		},
		{
			name:    "key absent from file - postgres host",
			envVars: map[string]string{"TESTCYCLE_API_DATABASE_POSTGRES_HOST": "db.internal"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "db.internal", cfg.API.Database.Postgres.Host)
			},
		},
		{
			name:    "slice override - cors_origins",
			envVars: map[string]string{"TESTCYCLE_API_SERVER_CORS_ORIGINS": "https://a.example,https://b.example"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t,
					[]string{"https://a.example", "https://b.example"},
					cfg.API.Server.CORSOrigins)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := LoadFs(fs, "/config.yaml")
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestValidateAPI(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			API: APIConfig{
				Auth: APIAuthConfig{
					Basic: BasicAuthConfig{
						Enabled: true,
						Users:   []BasicAuthUser{{Username: "alice", Password: "pw"}},
					},
				},
				Memberships: []MembershipConfig{
					{Username: "alice", ProjectID: 1, Capabilities: []string{"lead"}},
				},
			},
		}
		cfg.applyDefaults()

		return cfg
	}

	require.NoError(t, valid().ValidateAPI())

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Global.LogLevel = "loud" },
			wantErr: "global.log_level",
		},
		{
			name:    "zero allocation attempts",
			mutate:  func(cfg *Config) { cfg.Lifecycle.MaxAllocationAttempts = 0 },
			wantErr: "max_allocation_attempts",
		},
		{
			name:    "default page size above max",
			mutate:  func(cfg *Config) { cfg.Lifecycle.DefaultPageSize = 1000 },
			wantErr: "exceeds lifecycle.max_page_size",
		},
		{
			name:    "bad session ttl",
			mutate:  func(cfg *Config) { cfg.API.Auth.SessionTTL = "forever" },
			wantErr: "session_ttl",
		},
		{
			name:    "bad cleanup schedule",
			mutate:  func(cfg *Config) { cfg.API.Auth.CleanupSchedule = "whenever" },
			wantErr: "cleanup_schedule",
		},
		{
			name:    "unsupported driver",
			mutate:  func(cfg *Config) { cfg.API.Database.Driver = "mysql" },
			wantErr: "unsupported driver",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.API.Database.Driver = "postgres"
				cfg.API.Database.Postgres.Database = "testcycle"
			},
			wantErr: "postgres.host",
		},
		{
			name: "duplicate basic user",
			mutate: func(cfg *Config) {
				cfg.API.Auth.Basic.Users = append(cfg.API.Auth.Basic.Users,
					BasicAuthUser{Username: "alice", Password: "x", Role: RoleUser})
			},
			wantErr: "duplicate username",
		},
		{
			name:    "unknown role",
			mutate:  func(cfg *Config) { cfg.API.Auth.Basic.Users[0].Role = "owner" },
			wantErr: "unknown role",
		},
		{
			name:    "membership without project",
			mutate:  func(cfg *Config) { cfg.API.Memberships[0].ProjectID = 0 },
			wantErr: "api.memberships[0]: project_id",
		},
		{
			name:    "membership with unknown capability",
			mutate:  func(cfg *Config) { cfg.API.Memberships[0].Capabilities = []string{"janitor"} },
			wantErr: "janitor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateAPI()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := &Config{}
	cfg.API.Database.Postgres.Password = "pgpass"
	cfg.API.Auth.Basic.Users = []BasicAuthUser{{Username: "alice", Password: "pw"}}

	r := cfg.Redacted()

	assert.Equal(t, "<redacted>", r.API.Database.Postgres.Password)
	assert.Equal(t, "<redacted>", r.API.Auth.Basic.Users[0].Password)
	assert.Equal(t, "pw", cfg.API.Auth.Basic.Users[0].Password, "original is untouched")
	assert.Equal(t, "pgpass", cfg.API.Database.Postgres.Password)
}

func TestSessionDuration(t *testing.T) {
	a := APIAuthConfig{SessionTTL: "90m"}
	assert.Equal(t, "1h30m0s", a.SessionDuration().String())
}
