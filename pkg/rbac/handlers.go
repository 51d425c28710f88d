package rbac

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/facilityrbac/pkg/httputil"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
)

// MatrixResponse is the JSON shape of a compiled permission matrix
type MatrixResponse struct {
	Role   Role      `json:"role"`
	Kind   orgs.Kind `json:"organization_kind"`
	Matrix Matrix    `json:"matrix"`
}

// Handlers provides HTTP handlers for permission matrices
type Handlers struct {
	permissions *PermissionMiddleware
}

// NewHandlers creates new matrix handlers
func NewHandlers(permissions *PermissionMiddleware) *Handlers {
	return &Handlers{permissions: permissions}
}

// RegisterRoutes registers the matrix routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permissions/matrix", h.GetMatrix).Methods("GET")
	router.Handle("/permissions/me", h.permissions.ResolveActiveRole(http.HandlerFunc(h.GetMyMatrix))).Methods("GET")
	router.Handle("/orgs/{org_id}/permissions/me", h.permissions.ResolveActiveRole(http.HandlerFunc(h.GetMyMatrix))).Methods("GET")
}

// GetMatrix compiles the matrix for the role and kind query parameters
func (h *Handlers) GetMatrix(w http.ResponseWriter, r *http.Request) {
	role, err := ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	kind, err := orgs.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, MatrixResponse{
		Role:   role,
		Kind:   kind,
		Matrix: Compile(role, kind),
	}, "failed to encode matrix")
}

// GetMyMatrix returns the matrix for the caller's active role
func (h *Handlers) GetMyMatrix(w http.ResponseWriter, r *http.Request) {
	active, ok := ActiveRoleFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, MatrixResponse{
		Role:   active.Role,
		Kind:   active.Kind,
		Matrix: Compile(active.Role, active.Kind),
	}, "failed to encode matrix")
}
