package derive

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/facilityrbac/pkg/accounts"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
	"github.com/platinummonkey/facilityrbac/pkg/rbac"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RebuildHook runs after a rebuild has been committed
type RebuildHook func(ctx context.Context, result *RebuildResult)

// EngineConfig holds the optional collaborators of an Engine
type EngineConfig struct {
	// Locker serializes rebuilds; defaults to a LocalLocker.
	Locker Locker
	// Logger defaults to the request-scoped logger of each call.
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
	// OnRebuild hooks run in order after every successful rebuild.
	OnRebuild []RebuildHook
}

// Engine rebuilds the derived role table and checks it for orphans
type Engine struct {
	store  Store
	config EngineConfig
}

// NewEngine creates a derivation engine over store
func NewEngine(store Store, config EngineConfig) *Engine {
	if config.Locker == nil {
		config.Locker = NewLocalLocker()
	}
	return &Engine{store: store, config: config}
}

func (e *Engine) logger(ctx context.Context) *observability.Logger {
	if e.config.Logger != nil {
		return observability.UpdateLoggerWithTraceContext(ctx, e.config.Logger)
	}
	return observability.FromContext(ctx)
}

func (e *Engine) record(ctx context.Context, status string, duration time.Duration, rows int) {
	e.config.Metrics.RecordRebuild(status, duration, rows)
	e.config.OTelMetrics.RecordRebuild(ctx, status, duration, rows)
}

// Rebuild regenerates every derived role from users, organizations and
// relations, then replaces the stored set in one atomic write. Data problems
// are reported as diagnostics; only lock and persistence failures return an
// error, and in that case the stored set is left as it was.
func (e *Engine) Rebuild(ctx context.Context) (*RebuildResult, error) {
	result := &RebuildResult{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now(),
		Diagnostics: []Diagnostic{},
	}

	unlock, err := e.config.Locker.TryLock(ctx)
	if err != nil {
		if errors.Is(err, ErrRebuildInProgress) {
			e.record(ctx, observability.RebuildStatusSkipped, 0, 0)
			e.logger(ctx).WithField("run_id", result.RunID).Warn("Role rebuild skipped, lock is held")
			return nil, err
		}
		return nil, fmt.Errorf("failed to acquire rebuild lock: %w", err)
	}

	ctx, span := observability.Tracer().Start(ctx, "derive.Rebuild",
		trace.WithAttributes(attribute.String("rebuild.run_id", result.RunID)))
	defer span.End()

	logger := e.logger(ctx).WithField("run_id", result.RunID)
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("Failed to release rebuild lock")
		}
	}()

	logger.Info("Starting role rebuild")

	var source Source = e.store
	if snapshotter, ok := e.store.(Snapshotter); ok {
		if source, err = snapshotter.Snapshot(ctx); err != nil {
			err = fmt.Errorf("failed to snapshot store: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.record(ctx, observability.RebuildStatusFailure, time.Since(result.StartedAt), 0)
			logger.WithError(err).Error("Role rebuild failed, previous roles kept")
			return nil, err
		}
	}

	run := &rebuildRun{
		store:   source,
		logger:  logger,
		metrics: e.config.Metrics,
		result:  result,
		acc:     make(accumulator),
	}
	rows, err := run.derive(ctx)
	if err == nil {
		if err = e.store.ReplaceDerivedRoles(ctx, rows); err != nil {
			err = fmt.Errorf("failed to replace derived roles: %w", err)
		}
	}
	result.Duration = time.Since(result.StartedAt)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.record(ctx, observability.RebuildStatusFailure, result.Duration, 0)
		logger.WithError(err).Error("Role rebuild failed, previous roles kept")
		return nil, err
	}

	result.RowsWritten = len(rows)
	span.SetAttributes(
		attribute.Int("rebuild.rows", result.RowsWritten),
		attribute.Int("rebuild.diagnostics", len(result.Diagnostics)),
	)
	e.record(ctx, observability.RebuildStatusSuccess, result.Duration, result.RowsWritten)
	logger.WithFields(map[string]interface{}{
		"rows":        result.RowsWritten,
		"diagnostics": len(result.Diagnostics),
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Role rebuild complete")

	for _, hook := range e.config.OnRebuild {
		hook(ctx, result)
	}

	return result, nil
}

type roleKey struct {
	userID int64
	orgID  int64
}

// accumulator keeps one row per (user, organization)
type accumulator map[roleKey]DerivedRole

// emit adds row unless it is RoleNone. On collision the higher role wins, and
// on equal roles the home organization row wins.
func (a accumulator) emit(row DerivedRole) {
	if row.Role == rbac.RoleNone {
		return
	}
	key := roleKey{userID: row.UserID, orgID: row.OrganizationID}
	current, exists := a[key]
	if !exists ||
		row.Role > current.Role ||
		(row.Role == current.Role && row.IsHomeOrganization && !current.IsHomeOrganization) {
		a[key] = row
	}
}

func (a accumulator) rows() []DerivedRole {
	rows := make([]DerivedRole, 0, len(a))
	for _, row := range a {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UserID != rows[j].UserID {
			return rows[i].UserID < rows[j].UserID
		}
		return rows[i].OrganizationID < rows[j].OrganizationID
	})
	return rows
}

// rebuildRun carries the state of one rebuild
type rebuildRun struct {
	store   Source
	logger  *observability.Logger
	metrics *observability.Metrics
	result  *RebuildResult

	organizations map[int64]orgs.Organization
	acc           accumulator
}

func (r *rebuildRun) diagnose(d Diagnostic) {
	r.result.Diagnostics = append(r.result.Diagnostics, d)
	r.metrics.RecordDiagnostic(string(d.Kind))
	r.logger.WithFields(map[string]interface{}{
		"kind":            string(d.Kind),
		"user_id":         d.UserID,
		"organization_id": d.OrganizationID,
	}).Warn(d.Detail)
}

func (r *rebuildRun) derive(ctx context.Context) ([]DerivedRole, error) {
	organizations, err := r.store.ListOrganizations(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	r.organizations = make(map[int64]orgs.Organization, len(organizations))
	for _, org := range organizations {
		r.organizations[org.ID] = org
	}

	if err := r.internalPass(ctx); err != nil {
		return nil, err
	}
	if err := r.externalPass(ctx); err != nil {
		return nil, err
	}
	if err := r.operatorPass(ctx); err != nil {
		return nil, err
	}

	return r.acc.rows(), nil
}

func (r *rebuildRun) listUsers(ctx context.Context, class accounts.Class) ([]accounts.User, error) {
	users, err := r.store.ListUsers(ctx, &class)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s users: %w", class, err)
	}
	return users, nil
}

// internalPass places every internal user in the root council. Root
// administrators fan out to every data owner and operator.
func (r *rebuildRun) internalPass(ctx context.Context) error {
	users, err := r.listUsers(ctx, accounts.ClassInternal)
	if err != nil {
		return err
	}

	if _, ok := r.organizations[orgs.RootCouncilID]; !ok && len(users) > 0 {
		for _, user := range users {
			r.diagnose(Diagnostic{
				Kind:           DiagUnknownOrganization,
				UserID:         user.ID,
				OrganizationID: orgs.RootCouncilID,
				Detail:         "root council does not exist, internal user skipped",
			})
		}
		return nil
	}

	for _, user := range users {
		role := rbac.ToRole(rbac.ParseLegacyRole(user.LegacyRole), true)
		r.acc.emit(DerivedRole{
			UserID:             user.ID,
			OrganizationID:     orgs.RootCouncilID,
			Role:               role,
			IsHomeOrganization: true,
		})

		if role != rbac.RoleRootAdmin {
			continue
		}
		for id, org := range r.organizations {
			if id == orgs.RootCouncilID {
				continue
			}
			if org.Kind != orgs.KindDataOwner && org.Kind != orgs.KindOperator {
				continue
			}
			r.acc.emit(DerivedRole{
				UserID:         user.ID,
				OrganizationID: id,
				Role:           rbac.RoleRootAdmin,
			})
		}
	}
	return nil
}

// externalPass grants external users their role in the single organization
// they are linked to.
func (r *rebuildRun) externalPass(ctx context.Context) error {
	users, err := r.listUsers(ctx, accounts.ClassExternal)
	if err != nil {
		return err
	}

	for _, user := range users {
		if len(user.LinkedOrganizationIDs) != 1 {
			r.diagnose(Diagnostic{
				Kind:   DiagExternalLinkCount,
				UserID: user.ID,
				Detail: fmt.Sprintf("external user linked to %d organizations, expected exactly 1", len(user.LinkedOrganizationIDs)),
			})
			continue
		}

		orgID := user.LinkedOrganizationIDs[0]
		if _, ok := r.organizations[orgID]; !ok {
			r.diagnose(Diagnostic{
				Kind:           DiagUnknownOrganization,
				UserID:         user.ID,
				OrganizationID: orgID,
				Detail:         "external user linked to an organization that does not exist",
			})
			continue
		}

		r.acc.emit(DerivedRole{
			UserID:             user.ID,
			OrganizationID:     orgID,
			Role:               rbac.ToRole(rbac.ParseLegacyRole(user.LegacyRole), true),
			IsHomeOrganization: true,
		})
	}
	return nil
}

// operatorPass grants operator and manager users their role at the effective
// home organization, then follows management relations from that home to each
// linked organization.
func (r *rebuildRun) operatorPass(ctx context.Context) error {
	operators, err := r.listUsers(ctx, accounts.ClassOperator)
	if err != nil {
		return err
	}
	managers, err := r.listUsers(ctx, accounts.ClassManager)
	if err != nil {
		return err
	}

	users := slices.Concat(operators, managers)
	byID := make(map[int64]accounts.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}

	for _, user := range users {
		home := user.HomeOrganizationID
		if user.IsDelegate() {
			primary, ok := byID[*user.DelegateOfUserID]
			if !ok {
				r.diagnose(Diagnostic{
					Kind:   DiagMissingPrimary,
					UserID: user.ID,
					Detail: fmt.Sprintf("delegate of user %d which does not exist", *user.DelegateOfUserID),
				})
				continue
			}
			home = primary.HomeOrganizationID
		}

		if home == 0 {
			r.diagnose(Diagnostic{
				Kind:   DiagNoHomeOrganization,
				UserID: user.ID,
				Detail: "user has no effective home organization",
			})
			continue
		}
		if _, ok := r.organizations[home]; !ok {
			r.diagnose(Diagnostic{
				Kind:           DiagUnknownOrganization,
				UserID:         user.ID,
				OrganizationID: home,
				Detail:         "home organization does not exist",
			})
			continue
		}

		r.acc.emit(DerivedRole{
			UserID:             user.ID,
			OrganizationID:     home,
			Role:               rbac.ToRole(rbac.ParseLegacyRole(user.LegacyRole), true),
			IsHomeOrganization: true,
		})

		for _, linked := range user.LinkedOrganizationIDs {
			if _, ok := r.organizations[linked]; !ok {
				r.diagnose(Diagnostic{
					Kind:           DiagUnknownOrganization,
					UserID:         user.ID,
					OrganizationID: linked,
					Detail:         "linked organization does not exist",
				})
				continue
			}

			rel, err := r.store.ResolveRelation(ctx, home, linked)
			if err != nil {
				return fmt.Errorf("failed to resolve relation %d -> %d: %w", home, linked, err)
			}
			if rel == nil {
				continue
			}

			role := rbac.RoleViewer
			if rel.IsAdmin {
				role = rbac.RoleAdmin
			}
			r.acc.emit(DerivedRole{
				UserID:         user.ID,
				OrganizationID: linked,
				Role:           role,
			})
		}
	}
	return nil
}
