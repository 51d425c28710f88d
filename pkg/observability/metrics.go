package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rebuild outcomes used as the status label.
const (
	RebuildStatusSuccess = "success"
	RebuildStatusFailure = "failure"
	RebuildStatusSkipped = "skipped"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Derivation metrics
	RebuildsTotal           *prometheus.CounterVec
	RebuildDuration         prometheus.Histogram
	DerivedRoles            prometheus.Gauge
	RebuildDiagnosticsTotal *prometheus.CounterVec
	OrphanedRoles           *prometheus.GaugeVec

	// Authorization metrics
	MatrixDenialsTotal *prometheus.CounterVec

	// Cache metrics
	RoleCacheLookupsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilityrbac_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilityrbac_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		RebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilityrbac_rebuilds_total",
				Help: "Total number of derived role rebuilds by outcome",
			},
			[]string{"status"},
		),
		RebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "facilityrbac_rebuild_duration_seconds",
				Help:    "Derived role rebuild duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		DerivedRoles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "facilityrbac_derived_roles",
				Help: "Number of derived role rows written by the last successful rebuild",
			},
		),
		RebuildDiagnosticsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilityrbac_rebuild_diagnostics_total",
				Help: "Data anomalies observed during rebuilds",
			},
			[]string{"kind"},
		),
		OrphanedRoles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "facilityrbac_orphaned_roles",
				Help: "Derived role rows referencing missing users or organizations",
			},
			[]string{"kind"},
		),

		MatrixDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilityrbac_matrix_denials_total",
				Help: "Requests rejected by the permission matrix",
			},
			[]string{"topic"},
		),

		RoleCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilityrbac_role_cache_lookups_total",
				Help: "Derived role cache lookups by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RebuildsTotal,
		m.RebuildDuration,
		m.DerivedRoles,
		m.RebuildDiagnosticsTotal,
		m.OrphanedRoles,
		m.MatrixDenialsTotal,
		m.RoleCacheLookupsTotal,
	)

	return m
}

// RecordRebuild records one rebuild attempt. derived is only applied on success.
func (m *Metrics) RecordRebuild(status string, duration time.Duration, derived int) {
	if m == nil {
		return
	}
	m.RebuildsTotal.WithLabelValues(status).Inc()
	if status == RebuildStatusSkipped {
		return
	}
	m.RebuildDuration.Observe(duration.Seconds())
	if status == RebuildStatusSuccess {
		m.DerivedRoles.Set(float64(derived))
	}
}

// RecordDiagnostic counts a data anomaly of the given kind.
func (m *Metrics) RecordDiagnostic(kind string) {
	if m == nil {
		return
	}
	m.RebuildDiagnosticsTotal.WithLabelValues(kind).Inc()
}

// SetOrphans publishes the latest consistency check result.
func (m *Metrics) SetOrphans(missingUsers, missingOrganizations int) {
	if m == nil {
		return
	}
	m.OrphanedRoles.WithLabelValues("missing_user").Set(float64(missingUsers))
	m.OrphanedRoles.WithLabelValues("missing_organization").Set(float64(missingOrganizations))
}

// RecordMatrixDenial counts a request rejected for the given topic.
func (m *Metrics) RecordMatrixDenial(topic string) {
	if m == nil {
		return
	}
	m.MatrixDenialsTotal.WithLabelValues(topic).Inc()
}

// RecordCacheLookup counts a role cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.RoleCacheLookupsTotal.WithLabelValues(result).Inc()
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template so path IDs do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(serveMux *http.ServeMux, gatherer prometheus.Gatherer) {
	serveMux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
