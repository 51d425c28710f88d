// Package config loads roled configuration from environment variables.
//
// Every variable carries the ROLED_ prefix and has a default, so an empty
// environment yields an in-memory deployment on ports 8080 and 9090.
//
// Server settings:
//
//	ROLED_HOST="0.0.0.0"
//	ROLED_PORT="8080"
//	ROLED_HEALTH_PORT="9090"
//	ROLED_READ_TIMEOUT="15s"
//	ROLED_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	ROLED_STORAGE_TYPE="postgres"  # memory, postgres
//	ROLED_FIXTURE_PATH="testdata/facility.yaml"
//	ROLED_WATCH_FIXTURE="true"     # memory storage only
//	ROLED_POSTGRES_URL="postgres://localhost/roles?sslmode=disable"
//	ROLED_POSTGRES_REPLICA_URLS="postgres://replica1/roles,postgres://replica2/roles"
//	ROLED_REDIS_URL="redis://localhost:6379"  # enables the shared rebuild lock
//	ROLED_CACHE_SIZE="10000"
//	ROLED_CACHE_TTL="5m"
//
// Rebuild settings:
//
//	ROLED_REBUILD_SCHEDULE="*/15 * * * *"  # empty disables scheduled rebuilds
//	ROLED_REBUILD_TIMEOUT="10m"
//	ROLED_REBUILD_LOCK_TTL="15m"
//
// Observability settings:
//
//	ROLED_LOG_LEVEL="info"  # debug, info, warn, error
//	ROLED_METRICS_ENABLED="true"
//	ROLED_OTEL_ENABLED="true"
//	ROLED_OTEL_ENDPOINT="otel-collector:4317"
//
// LoadConfig reads the environment and runs Validate:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		logrus.WithError(err).Fatal("Invalid configuration")
//	}
package config
