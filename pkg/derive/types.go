package derive

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/facilityrbac/pkg/accounts"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
	"github.com/platinummonkey/facilityrbac/pkg/rbac"
)

// ErrRebuildInProgress is returned when another rebuild holds the rebuild lock
var ErrRebuildInProgress = errors.New("role rebuild already in progress")

// DerivedRole is a materialized role grant. At most one row exists per
// (UserID, OrganizationID) and Role is never rbac.RoleNone.
type DerivedRole struct {
	UserID             int64     `json:"user_id"`
	OrganizationID     int64     `json:"organization_id"`
	Role               rbac.Role `json:"role"`
	IsHomeOrganization bool      `json:"is_home_organization"`
}

// Source is the read side of a rebuild
type Source interface {
	orgs.Resolver

	// ListUsers returns users of the given class, or every user when class is nil.
	ListUsers(ctx context.Context, class *accounts.Class) ([]accounts.User, error)
	// ListOrganizations returns organizations of the given kind, or all when kind is nil.
	ListOrganizations(ctx context.Context, kind *orgs.Kind) ([]orgs.Organization, error)
}

// Store is the persistence collaborator the engine reads from and writes to.
type Store interface {
	Source

	// ReplaceDerivedRoles atomically swaps the derived role set. On error the
	// previous set must be left untouched.
	ReplaceDerivedRoles(ctx context.Context, rows []DerivedRole) error
	ListDerivedRoles(ctx context.Context) ([]DerivedRole, error)
}

// Snapshotter is implemented by stores that can freeze their inputs for one
// rebuild, so a concurrent reload cannot mix old and new data. Other stores
// are read call by call.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Source, error)
}

// RoleReader serves per-request role lookups.
type RoleReader interface {
	RolesForUser(ctx context.Context, userID int64) ([]DerivedRole, error)
	// GetOrganization returns nil, nil when the organization does not exist.
	GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error)
}

// DiagnosticKind classifies a data-quality problem found during a rebuild
type DiagnosticKind string

const (
	// DiagExternalLinkCount: an external user is not linked to exactly one organization
	DiagExternalLinkCount DiagnosticKind = "external_link_count"
	// DiagMissingPrimary: a delegate's primary account does not exist
	DiagMissingPrimary DiagnosticKind = "missing_primary"
	// DiagNoHomeOrganization: an operator or manager has no effective home organization
	DiagNoHomeOrganization DiagnosticKind = "no_home_organization"
	// DiagUnknownOrganization: a home or linked organization id does not exist
	DiagUnknownOrganization DiagnosticKind = "unknown_organization"
)

// Diagnostic describes one skipped user or link. Diagnostics never fail a rebuild.
type Diagnostic struct {
	Kind           DiagnosticKind `json:"kind"`
	UserID         int64          `json:"user_id"`
	OrganizationID int64          `json:"organization_id,omitempty"`
	Detail         string         `json:"detail"`
}

// RebuildResult summarizes a completed rebuild
type RebuildResult struct {
	RunID       string        `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	RowsWritten int           `json:"rows_written"`
	Diagnostics []Diagnostic  `json:"diagnostics"`
}

// OrphanReport lists derived rows whose user or organization no longer exists.
// A row missing both appears in both lists.
type OrphanReport struct {
	MissingUser         []DerivedRole `json:"missing_user"`
	MissingOrganization []DerivedRole `json:"missing_organization"`
}
