package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/facilityrbac/pkg/derive"
	"github.com/platinummonkey/facilityrbac/pkg/httputil"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// newAPIRouter builds the public API: the permission matrix endpoints and the
// role administration endpoints. Every request gets a server span, which
// parents the rebuild and consistency spans. Synchronous rebuilds are held to
// writeTimeout.
func newAPIRouter(engine *derive.Engine, reader derive.RoleReader, metrics *observability.Metrics, logger *observability.Logger, rebuildTimeout, writeTimeout time.Duration) http.Handler {
	permissions := rbac.NewPermissionMiddleware(derive.NewRoleLookup(reader), metrics)

	router := mux.NewRouter()
	router.Use(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		observability.LoggerMiddleware(logger),
		rbac.TrustedHeaderIdentity,
		httputil.LoggingMiddleware,
		observability.HTTPMetricsMiddleware(metrics),
	)

	rbac.NewHandlers(permissions).RegisterRoutes(router)
	derive.NewHandlers(engine, permissions, rebuildTimeout).WithSyncTimeout(writeTimeout).RegisterRoutes(router)

	return otelhttp.NewHandler(router, "roled")
}

// newHealthMux serves health checks and metrics on the separate health port
func newHealthMux(checker *observability.HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	serveMux := http.NewServeMux()
	observability.RegisterHealthRoutes(serveMux, checker)
	observability.RegisterMetricsEndpoint(serveMux, gatherer)
	return serveMux
}
