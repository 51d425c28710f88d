/*
Package postgres stores organizations, users and derived roles in PostgreSQL.

Store implements the derivation engine's persistence contract. Rebuilds read
and write through the primary; ReplaceDerivedRoles clears and refills the
derived_roles table inside a single transaction. Per-request lookups read
from a replica when ConnectionManager has one.

The package also carries the pieces a multi-instance deployment needs around
the store: RedisLock serializes rebuilds across processes, and RoleCache keeps
recently resolved roles in an expirable LRU that is purged after each rebuild.

	cm, err := postgres.NewConnectionManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := postgres.RunMigrations(ctx, cm.Primary()); err != nil {
		return err
	}
	store := postgres.NewStore(cm)
*/
package postgres
