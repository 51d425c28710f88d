package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker reports on the role database, the lock store and the age of
// the derived role table
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	version string

	staleAfter  time.Duration
	lastRebuild atomic.Int64 // unix nanos of the last successful rebuild
	now         func() time.Time
}

// NewHealthChecker creates a new health checker. Either dependency may be nil
// when the service runs without it.
func NewHealthChecker(db *sql.DB, redis *redis.Client, version string) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redis,
		version: version,
		now:     time.Now,
	}
}

// TrackRebuilds makes readiness report degraded until a rebuild has been
// recorded, and again whenever the last one is older than staleAfter
func (h *HealthChecker) TrackRebuilds(staleAfter time.Duration) {
	h.staleAfter = staleAfter
}

// RecordRebuild notes a successful rebuild finishing at t
func (h *HealthChecker) RecordRebuild(t time.Time) {
	h.lastRebuild.Store(t.UnixNano())
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Liveness answers 200 while the process can serve HTTP
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": h.now(),
	})
}

// Readiness answers 503 only when the role database is unreachable. A missing
// lock store or stale roles still serve, as degraded.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// Check reports on every configured dependency
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    h.now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		dep := h.timed(ctx, h.checkDatabase)
		status.Dependencies["database"] = dep
		status.Status = worst(status.Status, dep.Status)
	}

	if h.redis != nil {
		dep := h.timed(ctx, func(ctx context.Context) (string, string) {
			if err := h.redis.Ping(ctx).Err(); err != nil {
				return StatusUnhealthy, err.Error()
			}
			return StatusHealthy, ""
		})
		status.Dependencies["redis"] = dep
		// Redis only guards rebuilds
		status.Status = worst(status.Status, capAt(dep.Status, StatusDegraded))
	}

	if h.staleAfter > 0 {
		dep := h.checkRebuildAge()
		status.Dependencies["derived_roles"] = dep
		status.Status = worst(status.Status, dep.Status)
	}

	return status
}

func (h *HealthChecker) timed(ctx context.Context, check func(context.Context) (string, string)) DependencyStatus {
	start := h.now()
	state, message := check(ctx)
	return DependencyStatus{
		Status:    state,
		Message:   message,
		Latency:   h.now().Sub(start),
		Timestamp: start,
	}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) (string, string) {
	if err := h.db.PingContext(ctx); err != nil {
		return StatusUnhealthy, err.Error()
	}

	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return StatusUnhealthy, "query failed: " + err.Error()
	}

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		return StatusDegraded, "connection pool exhausted"
	}
	return StatusHealthy, ""
}

func (h *HealthChecker) checkRebuildAge() DependencyStatus {
	now := h.now()
	dep := DependencyStatus{Status: StatusHealthy, Timestamp: now}

	last := h.lastRebuild.Load()
	if last == 0 {
		dep.Status = StatusDegraded
		dep.Message = "no successful rebuild yet"
		return dep
	}

	if age := now.Sub(time.Unix(0, last)); age > h.staleAfter {
		dep.Status = StatusDegraded
		dep.Message = fmt.Sprintf("last successful rebuild %s ago", age.Truncate(time.Second))
	}
	return dep
}

var statusRank = map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

func worst(a, b string) string {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

func capAt(status, ceiling string) string {
	if statusRank[status] > statusRank[ceiling] {
		return ceiling
	}
	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
