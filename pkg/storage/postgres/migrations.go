package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/facilityrbac/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the role store migrations in order. The SQL is kept
// to the subset PostgreSQL and SQLite share.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations and relations tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGINT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					kind TEXT NOT NULL CHECK (kind IN ('root_council', 'data_owner', 'operator'))
				);

				CREATE TABLE IF NOT EXISTS organization_relations (
					parent_organization_id BIGINT NOT NULL,
					child_organization_id BIGINT NOT NULL,
					is_admin_relation BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (parent_organization_id, child_organization_id)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create users and user_organization_links tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGINT PRIMARY KEY,
					account_class TEXT NOT NULL CHECK (account_class IN ('internal', 'external', 'operator', 'manager')),
					legacy_role TEXT NOT NULL DEFAULT '',
					home_organization_id BIGINT,
					delegate_of_user_id BIGINT
				);

				CREATE INDEX IF NOT EXISTS idx_users_account_class ON users(account_class);

				CREATE TABLE IF NOT EXISTS user_organization_links (
					user_id BIGINT NOT NULL,
					organization_id BIGINT NOT NULL,
					PRIMARY KEY (user_id, organization_id)
				);
			`,
		},
		{
			// No foreign keys: rows that outlive their user or organization
			// are reported by the consistency check, not cascaded away.
			Version:     3,
			Description: "Create derived_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS derived_roles (
					user_id BIGINT NOT NULL,
					organization_id BIGINT NOT NULL,
					role TEXT NOT NULL CHECK (role IN ('viewer', 'editor', 'admin', 'root_admin')),
					is_home_organization BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (user_id, organization_id)
				);

				CREATE INDEX IF NOT EXISTS idx_derived_roles_organization_id ON derived_roles(organization_id);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in role_migrations.
// Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	logger := observability.FromContext(ctx)

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS role_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM role_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO role_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
