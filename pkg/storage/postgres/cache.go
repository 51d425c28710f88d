package postgres

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/facilityrbac/pkg/derive"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
)

// RoleCache caches per-user derived roles and organizations in front of a
// derive.RoleReader. Entries expire after the TTL and the whole cache is
// purged after every committed rebuild.
type RoleCache struct {
	reader        derive.RoleReader
	roles         *lru.LRU[int64, []derive.DerivedRole]
	organizations *lru.LRU[int64, orgs.Organization]
	metrics       *observability.Metrics

	// generation advances on every Purge. A miss that started before a purge
	// must not store what it read.
	generation atomic.Uint64
}

// NewRoleCache wraps reader with an expirable LRU of size entries per kind
func NewRoleCache(reader derive.RoleReader, size int, ttl time.Duration, metrics *observability.Metrics) *RoleCache {
	if size < 1 {
		size = 1
	}
	return &RoleCache{
		reader:        reader,
		roles:         lru.NewLRU[int64, []derive.DerivedRole](size, nil, ttl),
		organizations: lru.NewLRU[int64, orgs.Organization](size, nil, ttl),
		metrics:       metrics,
	}
}

// RolesForUser implements derive.RoleReader
func (c *RoleCache) RolesForUser(ctx context.Context, userID int64) ([]derive.DerivedRole, error) {
	if roles, ok := c.roles.Get(userID); ok {
		c.metrics.RecordCacheLookup(true)
		return roles, nil
	}
	c.metrics.RecordCacheLookup(false)

	gen := c.generation.Load()
	roles, err := c.reader.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.generation.Load() == gen {
		c.roles.Add(userID, roles)
	}
	return roles, nil
}

// GetOrganization implements derive.RoleReader. Missing organizations are
// not cached.
func (c *RoleCache) GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error) {
	if org, ok := c.organizations.Get(id); ok {
		return &org, nil
	}

	gen := c.generation.Load()
	org, err := c.reader.GetOrganization(ctx, id)
	if err != nil || org == nil {
		return org, err
	}
	if c.generation.Load() == gen {
		c.organizations.Add(id, *org)
	}
	return org, nil
}

// Purge drops every cached entry
func (c *RoleCache) Purge() {
	c.generation.Add(1)
	c.roles.Purge()
	c.organizations.Purge()
}

// Len returns the number of cached users
func (c *RoleCache) Len() int {
	return c.roles.Len()
}

// RebuildHook returns a derive.RebuildHook that purges the cache
func (c *RoleCache) RebuildHook() derive.RebuildHook {
	return func(ctx context.Context, result *derive.RebuildResult) {
		c.Purge()
		observability.FromContext(ctx).WithField("run_id", result.RunID).Debug("Role cache purged")
	}
}
