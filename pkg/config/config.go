package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/storage"
	"github.com/robfig/cron/v3"
)

const envPrefix = "ROLED_"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Rebuild scheduling and locking
	Rebuild RebuildConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s liveness and readiness)
	HealthPort string
}

// RebuildConfig controls when and how derived roles are rebuilt
type RebuildConfig struct {
	Schedule     string        // standard 5-field cron expression; empty disables the scheduler
	Timeout      time.Duration // upper bound for a single rebuild
	RunOnStartup bool
	LockKey      string        // Redis key of the shared rebuild lock
	LockTTL      time.Duration // must exceed Timeout
	StaleAfter   time.Duration // readiness degrades when the last success is older; 0 disables
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool    // Use insecure gRPC connection
	OTelSampleRatio    float64 // fraction of root traces kept, 0..1
}

// LoadConfig loads configuration from ROLED_* environment variables
func LoadConfig() (*Config, error) {
	observabilityCfg, err := loadObservabilityConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Rebuild:       loadRebuildConfig(),
		Observability: observabilityCfg,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Type = strings.ToLower(getEnv("STORAGE_TYPE", cfg.Type))

	// Memory config
	cfg.FixturePath = getEnv("FIXTURE_PATH", cfg.FixturePath)
	cfg.WatchFixture = getEnvBool("WATCH_FIXTURE", cfg.WatchFixture)

	// PostgreSQL config
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	if replicaURLs := getEnv("POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = splitList(replicaURLs)
	}
	if maxConns := getEnvInt("POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Role cache config
	cfg.CacheEnabled = getEnvBool("CACHE_ENABLED", cfg.CacheEnabled)
	if cacheSize := getEnvInt("CACHE_SIZE", 0); cacheSize > 0 {
		cfg.CacheSize = cacheSize
	}
	if cacheTTL := getEnvDuration("CACHE_TTL", 0); cacheTTL > 0 {
		cfg.CacheTTL = cacheTTL
	}

	return cfg
}

func loadRebuildConfig() RebuildConfig {
	timeout := getEnvDuration("REBUILD_TIMEOUT", 10*time.Minute)
	return RebuildConfig{
		Schedule:     getEnv("REBUILD_SCHEDULE", "*/15 * * * *"),
		Timeout:      timeout,
		RunOnStartup: getEnvBool("REBUILD_ON_STARTUP", true),
		LockKey:      getEnv("REBUILD_LOCK_KEY", "facilityrbac:rebuild-lock"),
		LockTTL:      getEnvDuration("REBUILD_LOCK_TTL", timeout+5*time.Minute),
		StaleAfter:   getEnvDuration("REBUILD_STALE_AFTER", time.Hour),
	}
}

func loadObservabilityConfig() (ObservabilityConfig, error) {
	level, err := observability.ParseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return ObservabilityConfig{}, err
	}

	return ObservabilityConfig{
		LogLevel:           level,
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "roled"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1),
	}, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case storage.TypeMemory:
		if c.Storage.WatchFixture && c.Storage.FixturePath == "" {
			return fmt.Errorf("fixture path is required to watch the fixture")
		}
	case storage.TypePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
		if c.Storage.WatchFixture {
			return fmt.Errorf("fixture watching is only supported with memory storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be %s or %s)", c.Storage.Type, storage.TypeMemory, storage.TypePostgres)
	}

	if c.Storage.CacheEnabled && c.Storage.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive when the role cache is enabled")
	}

	if c.Rebuild.Schedule != "" {
		if _, err := cron.ParseStandard(c.Rebuild.Schedule); err != nil {
			return fmt.Errorf("invalid rebuild schedule %q: %w", c.Rebuild.Schedule, err)
		}
	}
	if c.Rebuild.Timeout <= 0 {
		return fmt.Errorf("rebuild timeout must be positive")
	}
	if c.Rebuild.StaleAfter < 0 {
		return fmt.Errorf("rebuild staleness threshold must not be negative")
	}
	if c.Storage.RedisURL != "" && c.Rebuild.LockTTL <= c.Rebuild.Timeout {
		return fmt.Errorf("rebuild lock TTL (%s) must exceed the rebuild timeout (%s)", c.Rebuild.LockTTL, c.Rebuild.Timeout)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns ROLED_<key> or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean ROLED_<key> or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer ROLED_<key> or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration ROLED_<key> or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
