package derive

import (
	"context"
	"fmt"

	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// FindOrphans reports derived rows whose user or organization no longer
// exists. It never modifies the store.
func (e *Engine) FindOrphans(ctx context.Context) (*OrphanReport, error) {
	ctx, span := observability.Tracer().Start(ctx, "derive.FindOrphans")
	defer span.End()

	report, err := e.findOrphans(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("orphans.missing_user", len(report.MissingUser)),
		attribute.Int("orphans.missing_organization", len(report.MissingOrganization)),
	)
	e.config.Metrics.SetOrphans(len(report.MissingUser), len(report.MissingOrganization))

	if len(report.MissingUser) > 0 || len(report.MissingOrganization) > 0 {
		e.logger(ctx).WithFields(map[string]interface{}{
			"missing_user":         len(report.MissingUser),
			"missing_organization": len(report.MissingOrganization),
		}).Warn("Derived roles reference missing users or organizations")
	}

	return report, nil
}

func (e *Engine) findOrphans(ctx context.Context) (*OrphanReport, error) {
	rows, err := e.store.ListDerivedRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list derived roles: %w", err)
	}
	users, err := e.store.ListUsers(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	organizations, err := e.store.ListOrganizations(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}

	userIDs := make(map[int64]struct{}, len(users))
	for _, user := range users {
		userIDs[user.ID] = struct{}{}
	}
	orgIDs := make(map[int64]struct{}, len(organizations))
	for _, org := range organizations {
		orgIDs[org.ID] = struct{}{}
	}

	report := &OrphanReport{
		MissingUser:         []DerivedRole{},
		MissingOrganization: []DerivedRole{},
	}
	for _, row := range rows {
		if _, ok := userIDs[row.UserID]; !ok {
			report.MissingUser = append(report.MissingUser, row)
		}
		if _, ok := orgIDs[row.OrganizationID]; !ok {
			report.MissingOrganization = append(report.MissingOrganization, row)
		}
	}
	return report, nil
}
