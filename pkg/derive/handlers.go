package derive

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/facilityrbac/pkg/async"
	"github.com/platinummonkey/facilityrbac/pkg/httputil"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/rbac"
)

// AsyncRebuildResponse is returned when a rebuild is queued in the background
type AsyncRebuildResponse struct {
	Status string `json:"status"`
}

// Handlers exposes rebuild and consistency checks over HTTP
type Handlers struct {
	engine         *Engine
	permissions    *rbac.PermissionMiddleware
	rebuildTimeout time.Duration
	syncTimeout    time.Duration
}

// NewHandlers creates admin handlers. Every route requires platform admin rights.
func NewHandlers(engine *Engine, permissions *rbac.PermissionMiddleware, rebuildTimeout time.Duration) *Handlers {
	if rebuildTimeout == 0 {
		rebuildTimeout = 10 * time.Minute
	}
	return &Handlers{
		engine:         engine,
		permissions:    permissions,
		rebuildTimeout: rebuildTimeout,
		syncTimeout:    rebuildTimeout,
	}
}

// WithSyncTimeout bounds synchronous rebuilds by limit, usually the server's
// write timeout, so a response is never cut off mid-rebuild. Rebuilds that
// need longer go through ?async=true, which keeps the full rebuild timeout.
func (h *Handlers) WithSyncTimeout(limit time.Duration) *Handlers {
	if limit > 0 && limit < h.syncTimeout {
		h.syncTimeout = limit
	}
	return h
}

// RegisterRoutes registers the admin routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	admin := router.PathPrefix("/admin/roles").Subrouter()
	admin.Use(h.permissions.ResolveActiveRole, h.permissions.RequireTopic(rbac.TopicPlatformAdmin))

	admin.HandleFunc("/rebuild", h.Rebuild).Methods("POST")
	admin.HandleFunc("/consistency", h.Consistency).Methods("GET")
}

// Rebuild runs a rebuild and returns its result. With ?async=true the rebuild
// runs in the background and 202 is returned immediately. A synchronous
// rebuild that outlives its deadline answers 504 and keeps the previous roles.
func (h *Handlers) Rebuild(w http.ResponseWriter, r *http.Request) {
	runAsync, err := httputil.ParseQueryBool(r, "async", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if runAsync {
		async.SafeGo(context.WithoutCancel(r.Context()), h.rebuildTimeout, "role rebuild", func(ctx context.Context) error {
			_, err := h.engine.Rebuild(ctx)
			return err
		})
		httputil.WriteJSONOrError(w, http.StatusAccepted, AsyncRebuildResponse{Status: "accepted"}, "failed to encode response")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.syncTimeout)
	defer cancel()

	result, err := h.engine.Rebuild(ctx)
	if errors.Is(err, ErrRebuildInProgress) {
		httputil.WriteConflict(w, err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		httputil.WriteErrorMessage(w, http.StatusGatewayTimeout, "Role rebuild exceeded the request deadline, retry with ?async=true")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Role rebuild request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Role rebuild failed")
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, result, "failed to encode rebuild result")
}

// Consistency returns the orphan report
func (h *Handlers) Consistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.FindOrphans(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Consistency check failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Consistency check failed")
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, report, "failed to encode orphan report")
}
