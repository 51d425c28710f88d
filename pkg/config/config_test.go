package config

import (
	"testing"
	"time"

	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("ROLED_TEST_STRING", "custom")
	t.Setenv("ROLED_TEST_BOOL", "1")
	t.Setenv("ROLED_TEST_INT", "42")
	t.Setenv("ROLED_TEST_BAD_INT", "forty-two")
	t.Setenv("ROLED_TEST_DURATION", "90s")
	t.Setenv("ROLED_TEST_BAD_DURATION", "soon")

	assert.Equal(t, "custom", getEnv("TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("TEST_UNSET", "default"))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.True(t, getEnvBool("TEST_UNSET", true))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_BAD_INT", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", 0))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_BAD_DURATION", time.Minute))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, storage.TypeMemory, cfg.Storage.Type)
	assert.Equal(t, "*/15 * * * *", cfg.Rebuild.Schedule)
	assert.Equal(t, 10*time.Minute, cfg.Rebuild.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Rebuild.LockTTL)
	assert.True(t, cfg.Rebuild.RunOnStartup)
	assert.Equal(t, time.Hour, cfg.Rebuild.StaleAfter)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
	assert.Equal(t, 1.0, cfg.Observability.OTelSampleRatio)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("ROLED_STORAGE_TYPE", "Postgres")
	t.Setenv("ROLED_POSTGRES_URL", "postgres://db/roles")
	t.Setenv("ROLED_POSTGRES_REPLICA_URLS", "postgres://r1/roles, postgres://r2/roles,")
	t.Setenv("ROLED_REDIS_URL", "redis://cache:6379")
	t.Setenv("ROLED_REDIS_DB", "2")
	t.Setenv("ROLED_CACHE_SIZE", "500")
	t.Setenv("ROLED_CACHE_TTL", "30s")
	t.Setenv("ROLED_REBUILD_SCHEDULE", "0 * * * *")
	t.Setenv("ROLED_REBUILD_TIMEOUT", "2m")
	t.Setenv("ROLED_LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, storage.TypePostgres, cfg.Storage.Type)
	assert.Equal(t, []string{"postgres://r1/roles", "postgres://r2/roles"}, cfg.Storage.PostgresReplicaURLs)
	assert.Equal(t, 2, cfg.Storage.RedisDB)
	assert.Equal(t, 500, cfg.Storage.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.Storage.CacheTTL)
	assert.Equal(t, "0 * * * *", cfg.Rebuild.Schedule)
	assert.Equal(t, 2*time.Minute, cfg.Rebuild.Timeout)
	assert.Equal(t, 7*time.Minute, cfg.Rebuild.LockTTL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	t.Setenv("ROLED_LOG_LEVEL", "chatty")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080", HealthPort: "9090"},
		Storage: storage.DefaultConfig(),
		Rebuild: RebuildConfig{
			Schedule: "*/15 * * * *",
			Timeout:  10 * time.Minute,
			LockTTL:  15 * time.Minute,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"missing health port", func(c *Config) { c.Server.HealthPort = "" }, "health port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "filesystem" }, "invalid storage type"},
		{"postgres without url", func(c *Config) { c.Storage.Type = storage.TypePostgres }, "postgres URL is required"},
		{
			"postgres with watch",
			func(c *Config) {
				c.Storage.Type = storage.TypePostgres
				c.Storage.PostgresURL = "postgres://db/roles"
				c.Storage.WatchFixture = true
			},
			"only supported with memory storage",
		},
		{"watch without fixture", func(c *Config) { c.Storage.WatchFixture = true }, "fixture path is required"},
		{"zero cache size", func(c *Config) { c.Storage.CacheSize = 0 }, "cache size must be positive"},
		{"cache disabled ignores size", func(c *Config) { c.Storage.CacheEnabled = false; c.Storage.CacheSize = 0 }, ""},
		{"bad schedule", func(c *Config) { c.Rebuild.Schedule = "every minute" }, "invalid rebuild schedule"},
		{"empty schedule disables scheduler", func(c *Config) { c.Rebuild.Schedule = "" }, ""},
		{"zero timeout", func(c *Config) { c.Rebuild.Timeout = 0 }, "rebuild timeout must be positive"},
		{
			"lock ttl shorter than timeout",
			func(c *Config) {
				c.Storage.RedisURL = "redis://cache:6379"
				c.Rebuild.LockTTL = time.Minute
			},
			"must exceed the rebuild timeout",
		},
		{
			"negative staleness threshold",
			func(c *Config) { c.Rebuild.StaleAfter = -time.Second },
			"must not be negative",
		},
		{
			"otel without endpoint",
			func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "roled"
			},
			"endpoint is required",
		},
		{
			"otel without service name",
			func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = "collector:4317"
			},
			"service name is required",
		},
		{
			"otel sample ratio out of range",
			func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = "collector:4317"
				c.Observability.OTelServiceName = "roled"
				c.Observability.OTelSampleRatio = 1.5
			},
			"sample ratio must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
