package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/facilityrbac/pkg/accounts"
	"github.com/platinummonkey/facilityrbac/pkg/derive"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
	"github.com/platinummonkey/facilityrbac/pkg/rbac"
)

// Store implements derive.Store and derive.RoleReader over PostgreSQL.
// Rebuild reads and writes go to the primary; per-request lookups go to a
// replica when one is configured.
type Store struct {
	conns *ConnectionManager
}

// NewStore creates a store over an open connection manager
func NewStore(conns *ConnectionManager) *Store {
	return &Store{conns: conns}
}

// NewStoreFromDB creates a store over a single database handle
func NewStoreFromDB(db *sql.DB) *Store {
	return NewStore(NewConnectionManagerFromDB(db))
}

// ListUsers implements derive.Store
func (s *Store) ListUsers(ctx context.Context, class *accounts.Class) ([]accounts.User, error) {
	db := s.conns.Primary()

	query := `
		SELECT id, account_class, legacy_role, home_organization_id, delegate_of_user_id
		FROM users
	`
	var args []interface{}
	if class != nil {
		query += " WHERE account_class = $1"
		args = append(args, string(*class))
	}
	query += " ORDER BY id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []accounts.User
	index := make(map[int64]int)
	for rows.Next() {
		var (
			user       accounts.User
			rawClass   string
			home       sql.NullInt64
			delegateOf sql.NullInt64
		)
		if err := rows.Scan(&user.ID, &rawClass, &user.LegacyRole, &home, &delegateOf); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if user.Class, err = accounts.ParseClass(rawClass); err != nil {
			return nil, fmt.Errorf("user %d: %w", user.ID, err)
		}
		user.HomeOrganizationID = home.Int64
		if delegateOf.Valid {
			id := delegateOf.Int64
			user.DelegateOfUserID = &id
		}
		index[user.ID] = len(users)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	rows.Close()

	if len(users) == 0 {
		return users, nil
	}
	if err := s.attachLinks(ctx, db, users, index); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) attachLinks(ctx context.Context, db *sql.DB, users []accounts.User, index map[int64]int) error {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, organization_id
		FROM user_organization_links
		ORDER BY user_id, organization_id
	`)
	if err != nil {
		return fmt.Errorf("failed to query organization links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, orgID int64
		if err := rows.Scan(&userID, &orgID); err != nil {
			return fmt.Errorf("failed to scan organization link: %w", err)
		}
		if i, ok := index[userID]; ok {
			users[i].LinkedOrganizationIDs = append(users[i].LinkedOrganizationIDs, orgID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate organization links: %w", err)
	}
	return nil
}

// ListOrganizations implements derive.Store
func (s *Store) ListOrganizations(ctx context.Context, kind *orgs.Kind) ([]orgs.Organization, error) {
	query := "SELECT id, name, kind FROM organizations"
	var args []interface{}
	if kind != nil {
		query += " WHERE kind = $1"
		args = append(args, string(*kind))
	}
	query += " ORDER BY id"

	rows, err := s.conns.Primary().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	var organizations []orgs.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		organizations = append(organizations, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizations: %w", err)
	}
	return organizations, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrganization(row rowScanner) (*orgs.Organization, error) {
	var (
		org     orgs.Organization
		rawKind string
	)
	if err := row.Scan(&org.ID, &org.Name, &rawKind); err != nil {
		return nil, err
	}
	kind, err := orgs.ParseKind(rawKind)
	if err != nil {
		return nil, fmt.Errorf("organization %d: %w", org.ID, err)
	}
	org.Kind = kind
	return &org, nil
}

// ResolveRelation implements orgs.Resolver
func (s *Store) ResolveRelation(ctx context.Context, parentID, childID int64) (*orgs.Relation, error) {
	rel := orgs.Relation{ParentID: parentID, ChildID: childID}
	err := s.conns.Primary().QueryRowContext(ctx, `
		SELECT is_admin_relation
		FROM organization_relations
		WHERE parent_organization_id = $1 AND child_organization_id = $2
	`, parentID, childID).Scan(&rel.IsAdmin)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to query relation: %w", err)
	}
	return &rel, nil
}

// ReplaceDerivedRoles implements derive.Store. The clear and every insert
// share one transaction; any failure rolls the whole swap back.
func (s *Store) ReplaceDerivedRoles(ctx context.Context, rows []derive.DerivedRole) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM derived_roles"); err != nil {
		return fmt.Errorf("failed to clear derived roles: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO derived_roles (user_id, organization_id, role, is_home_organization)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.UserID, row.OrganizationID, row.Role.String(), row.IsHomeOrganization); err != nil {
			return fmt.Errorf("failed to insert derived role for user %d in organization %d: %w", row.UserID, row.OrganizationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListDerivedRoles implements derive.Store
func (s *Store) ListDerivedRoles(ctx context.Context) ([]derive.DerivedRole, error) {
	return s.queryDerivedRoles(ctx, s.conns.Primary(), `
		SELECT user_id, organization_id, role, is_home_organization
		FROM derived_roles
		ORDER BY user_id, organization_id
	`)
}

// RolesForUser implements derive.RoleReader
func (s *Store) RolesForUser(ctx context.Context, userID int64) ([]derive.DerivedRole, error) {
	return s.queryDerivedRoles(ctx, s.conns.Replica(), `
		SELECT user_id, organization_id, role, is_home_organization
		FROM derived_roles
		WHERE user_id = $1
		ORDER BY organization_id
	`, userID)
}

func (s *Store) queryDerivedRoles(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]derive.DerivedRole, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query derived roles: %w", err)
	}
	defer rows.Close()

	var roles []derive.DerivedRole
	for rows.Next() {
		var (
			role    derive.DerivedRole
			rawRole string
		)
		if err := rows.Scan(&role.UserID, &role.OrganizationID, &rawRole, &role.IsHomeOrganization); err != nil {
			return nil, fmt.Errorf("failed to scan derived role: %w", err)
		}
		if role.Role, err = rbac.ParseRole(rawRole); err != nil {
			return nil, fmt.Errorf("derived role for user %d: %w", role.UserID, err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate derived roles: %w", err)
	}
	return roles, nil
}

// GetOrganization implements derive.RoleReader
func (s *Store) GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error) {
	row := s.conns.Replica().QueryRowContext(ctx, "SELECT id, name, kind FROM organizations WHERE id = $1", id)
	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// Import upserts organizations, relations and users in one transaction.
// A user's organization links are replaced by the ones given.
func (s *Store) Import(ctx context.Context, organizations []orgs.Organization, relations []orgs.Relation, users []accounts.User) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, org := range organizations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (id, name, kind) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, kind = excluded.kind
		`, org.ID, org.Name, string(org.Kind)); err != nil {
			return fmt.Errorf("failed to import organization %d: %w", org.ID, err)
		}
	}

	for _, rel := range relations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organization_relations (parent_organization_id, child_organization_id, is_admin_relation)
			VALUES ($1, $2, $3)
			ON CONFLICT (parent_organization_id, child_organization_id)
			DO UPDATE SET is_admin_relation = excluded.is_admin_relation
		`, rel.ParentID, rel.ChildID, rel.IsAdmin); err != nil {
			return fmt.Errorf("failed to import relation %d -> %d: %w", rel.ParentID, rel.ChildID, err)
		}
	}

	for _, user := range users {
		if err := importUser(ctx, tx, user); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func importUser(ctx context.Context, tx *sql.Tx, user accounts.User) error {
	var home, delegateOf sql.NullInt64
	if user.HomeOrganizationID != 0 {
		home = sql.NullInt64{Int64: user.HomeOrganizationID, Valid: true}
	}
	if user.DelegateOfUserID != nil {
		delegateOf = sql.NullInt64{Int64: *user.DelegateOfUserID, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, account_class, legacy_role, home_organization_id, delegate_of_user_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			account_class = excluded.account_class,
			legacy_role = excluded.legacy_role,
			home_organization_id = excluded.home_organization_id,
			delegate_of_user_id = excluded.delegate_of_user_id
	`, user.ID, string(user.Class), strings.TrimSpace(user.LegacyRole), home, delegateOf); err != nil {
		return fmt.Errorf("failed to import user %d: %w", user.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM user_organization_links WHERE user_id = $1", user.ID); err != nil {
		return fmt.Errorf("failed to clear links for user %d: %w", user.ID, err)
	}
	for _, orgID := range user.LinkedOrganizationIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_organization_links (user_id, organization_id) VALUES ($1, $2)
			ON CONFLICT (user_id, organization_id) DO NOTHING
		`, user.ID, orgID); err != nil {
			return fmt.Errorf("failed to link user %d to organization %d: %w", user.ID, orgID, err)
		}
	}
	return nil
}
