package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/facilityrbac/pkg/config"
	"github.com/platinummonkey/facilityrbac/pkg/derive"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/storage"
	"github.com/platinummonkey/facilityrbac/pkg/storage/memory"
	"github.com/platinummonkey/facilityrbac/pkg/storage/postgres"
)

type backendOptions struct {
	migrate bool
	seed    bool
	metrics *observability.Metrics
}

// backend bundles the store, its read path and the resources to release
type backend struct {
	store  derive.Store
	reader derive.RoleReader
	locker derive.Locker
	hooks  []derive.RebuildHook

	memory  *memory.Store
	db      *sql.DB
	redis   *redis.Client
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg *config.Config, opts backendOptions, logger *observability.Logger) (*backend, error) {
	be := &backend{}

	switch cfg.Storage.Type {
	case storage.TypeMemory:
		store := memory.New()
		if cfg.Storage.FixturePath != "" {
			fixture, err := memory.LoadFixture(cfg.Storage.FixturePath)
			if err != nil {
				return nil, err
			}
			if err := store.Load(fixture); err != nil {
				return nil, err
			}
			logger.WithFields(map[string]interface{}{
				"fixture":       cfg.Storage.FixturePath,
				"organizations": len(fixture.Organizations),
				"users":         len(fixture.Users),
			}).Info("Loaded fixture")
		}
		be.store, be.reader, be.memory = store, store, store

	case storage.TypePostgres:
		cm, err := postgres.NewConnectionManager(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		be.closers = append(be.closers, cm.Close)
		be.db = cm.Primary()
		cm.StartHealthCheckRoutine(ctx, 0)

		if opts.migrate {
			if err := postgres.RunMigrations(ctx, cm.Primary()); err != nil {
				be.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		store := postgres.NewStore(cm)
		if opts.seed {
			if err := seedFromFixture(ctx, store, cfg.Storage.FixturePath); err != nil {
				be.Close()
				return nil, err
			}
		}
		be.store, be.reader = store, store

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Storage.RedisURL != "" {
		client, err := postgres.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			be.Close()
			return nil, err
		}
		be.closers = append(be.closers, client.Close)
		be.redis = client
		be.locker = postgres.NewRedisLock(client, cfg.Rebuild.LockKey, cfg.Rebuild.LockTTL)
	}

	if cfg.Storage.CacheEnabled {
		cache := postgres.NewRoleCache(be.reader, cfg.Storage.CacheSize, cfg.Storage.CacheTTL, opts.metrics)
		be.reader = cache
		be.hooks = append(be.hooks, cache.RebuildHook())
	}

	return be, nil
}

func seedFromFixture(ctx context.Context, store *postgres.Store, path string) error {
	fixture, err := memory.LoadFixture(path)
	if err != nil {
		return err
	}
	if err := store.Import(ctx, fixture.Organizations, fixture.Relations, fixture.Users); err != nil {
		return fmt.Errorf("failed to seed fixture: %w", err)
	}
	observability.FromContext(ctx).WithField("fixture", path).Info("Seeded database from fixture")
	return nil
}
