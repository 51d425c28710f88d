package derive

import (
	"context"
	"fmt"

	"github.com/platinummonkey/facilityrbac/pkg/rbac"
)

// RoleLookup resolves a caller's active role from the derived role table.
// It implements rbac.ActiveRoleResolver.
type RoleLookup struct {
	reader RoleReader
}

// NewRoleLookup creates a role lookup over reader
func NewRoleLookup(reader RoleReader) *RoleLookup {
	return &RoleLookup{reader: reader}
}

// ResolveActiveRole returns the caller's role in organizationID. An unknown
// organization or a missing row resolves to rbac.RoleNone.
func (l *RoleLookup) ResolveActiveRole(ctx context.Context, userID, organizationID int64) (rbac.ActiveRole, error) {
	active := rbac.ActiveRole{
		UserID:         userID,
		OrganizationID: organizationID,
		Role:           rbac.RoleNone,
	}

	org, err := l.reader.GetOrganization(ctx, organizationID)
	if err != nil {
		return active, fmt.Errorf("failed to get organization %d: %w", organizationID, err)
	}
	if org == nil {
		return active, nil
	}
	active.Kind = org.Kind

	roles, err := l.reader.RolesForUser(ctx, userID)
	if err != nil {
		return active, fmt.Errorf("failed to get roles for user %d: %w", userID, err)
	}
	for _, role := range roles {
		if role.OrganizationID == organizationID {
			active.Role = role.Role
			break
		}
	}

	return active, nil
}
