package storage

import "time"

// Backend types
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
)

// Config for storage backend
type Config struct {
	Type string // "memory", "postgres"

	// Memory config
	FixturePath  string // optional YAML fixture loaded at startup
	WatchFixture bool   // reload the fixture and rebuild on change

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string // read replicas for per-request role lookups
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config, used for the cross-process rebuild lock. Optional.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Derived role lookup cache
	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             TypeMemory,
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheSize:        10000,
		CacheTTL:         5 * time.Minute,
	}
}
