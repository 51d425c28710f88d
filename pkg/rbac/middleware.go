package rbac

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/facilityrbac/pkg/contextkeys"
	"github.com/platinummonkey/facilityrbac/pkg/httputil"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
)

const (
	// UserIDHeader carries the authenticated user id from the fronting gateway
	UserIDHeader = "X-User-ID"
	// OrganizationIDHeader selects the organization the caller is acting in
	OrganizationIDHeader = "X-Organization-ID"
)

// ActiveRole is the role a caller holds in the organization they are acting in
type ActiveRole struct {
	UserID         int64     `json:"user_id"`
	OrganizationID int64     `json:"organization_id"`
	Role           Role      `json:"role"`
	Kind           orgs.Kind `json:"organization_kind"`
}

// ActiveRoleResolver resolves a caller's role in an organization. Callers without
// a derived role resolve to RoleNone.
type ActiveRoleResolver interface {
	ResolveActiveRole(ctx context.Context, userID, organizationID int64) (ActiveRole, error)
}

// WithActiveRole adds the active role to the context
func WithActiveRole(ctx context.Context, active ActiveRole) context.Context {
	return context.WithValue(ctx, contextkeys.ActiveRoleKey, active)
}

// ActiveRoleFromContext retrieves the active role from the context
func ActiveRoleFromContext(ctx context.Context) (ActiveRole, bool) {
	active, ok := ctx.Value(contextkeys.ActiveRoleKey).(ActiveRole)
	return active, ok
}

// TrustedHeaderIdentity copies the user id set by an authenticating gateway into
// the request context. Only mount it behind a gateway that strips client-supplied
// copies of the header.
func TrustedHeaderIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get(UserIDHeader); userID != "" {
			r = r.WithContext(contextkeys.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// PermissionMiddleware gates requests on the compiled permission matrix
type PermissionMiddleware struct {
	resolver ActiveRoleResolver
	metrics  *observability.Metrics
}

// NewPermissionMiddleware creates a new permission middleware. metrics may be nil.
func NewPermissionMiddleware(resolver ActiveRoleResolver, metrics *observability.Metrics) *PermissionMiddleware {
	return &PermissionMiddleware{
		resolver: resolver,
		metrics:  metrics,
	}
}

// ResolveActiveRole resolves the caller's role in the organization named by the
// org_id route variable or the X-Organization-ID header and stores it in the context
func (pm *PermissionMiddleware) ResolveActiveRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(contextkeys.GetUserID(r.Context()), 10, 64)
		if err != nil {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}

		orgIDStr, ok := mux.Vars(r)["org_id"]
		if !ok {
			orgIDStr = r.Header.Get(OrganizationIDHeader)
		}
		orgID, err := strconv.ParseInt(orgIDStr, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "Invalid organization ID")
			return
		}

		active, err := pm.resolver.ResolveActiveRole(r.Context(), userID, orgID)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("Failed to resolve active role")
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Permission check failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActiveRole(r.Context(), active)))
	})
}

// RequireTopic creates middleware that requires any right on a topic
func (pm *PermissionMiddleware) RequireTopic(topic Topic) func(http.Handler) http.Handler {
	return pm.require(topic, func(matrix Matrix) bool {
		return HasAnyRight(matrix, topic)
	})
}

// RequireTopicRights creates middleware that requires specific rights on a topic
func (pm *PermissionMiddleware) RequireTopicRights(topic Topic, want CRUD) func(http.Handler) http.Handler {
	return pm.require(topic, func(matrix Matrix) bool {
		return Allowed(matrix, topic, want)
	})
}

func (pm *PermissionMiddleware) require(topic Topic, allowed func(Matrix) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			active, ok := ActiveRoleFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !allowed(Compile(active.Role, active.Kind)) {
				pm.metrics.RecordMatrixDenial(string(topic))
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
