package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/platinummonkey/facilityrbac/pkg/derive"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
	"github.com/platinummonkey/facilityrbac/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	roles     map[int64][]derive.DerivedRole
	orgs      map[int64]orgs.Organization
	roleCalls int
	orgCalls  int
	err       error
}

func (r *countingReader) RolesForUser(_ context.Context, userID int64) ([]derive.DerivedRole, error) {
	r.roleCalls++
	if r.err != nil {
		return nil, r.err
	}
	return r.roles[userID], nil
}

func (r *countingReader) GetOrganization(_ context.Context, id int64) (*orgs.Organization, error) {
	r.orgCalls++
	if r.err != nil {
		return nil, r.err
	}
	org, ok := r.orgs[id]
	if !ok {
		return nil, nil
	}
	return &org, nil
}

func newCountingReader() *countingReader {
	return &countingReader{
		roles: map[int64][]derive.DerivedRole{
			7: {{UserID: 7, OrganizationID: 10, Role: rbac.RoleEditor, IsHomeOrganization: true}},
		},
		orgs: map[int64]orgs.Organization{
			10: {ID: 10, Name: "Northshire", Kind: orgs.KindDataOwner},
		},
	}
}

func TestRoleCache_HitsAndMisses(t *testing.T) {
	reader := newCountingReader()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cache := NewRoleCache(reader, 16, time.Minute, metrics)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		roles, err := cache.RolesForUser(ctx, 7)
		require.NoError(t, err)
		require.Len(t, roles, 1)
	}
	assert.Equal(t, 1, reader.roleCalls)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RoleCacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RoleCacheLookupsTotal.WithLabelValues("miss")))
}

func TestRoleCache_Organizations(t *testing.T) {
	reader := newCountingReader()
	cache := NewRoleCache(reader, 16, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		org, err := cache.GetOrganization(ctx, 10)
		require.NoError(t, err)
		require.NotNil(t, org)
		assert.Equal(t, orgs.KindDataOwner, org.Kind)
	}
	assert.Equal(t, 1, reader.orgCalls)

	for i := 0; i < 2; i++ {
		org, err := cache.GetOrganization(ctx, 404)
		require.NoError(t, err)
		assert.Nil(t, org)
	}
	assert.Equal(t, 3, reader.orgCalls, "missing organizations are not cached")
}

func TestRoleCache_ErrorsAreNotCached(t *testing.T) {
	reader := newCountingReader()
	reader.err = errors.New("replica down")
	cache := NewRoleCache(reader, 16, time.Minute, nil)
	ctx := context.Background()

	_, err := cache.RolesForUser(ctx, 7)
	require.Error(t, err)

	reader.err = nil
	roles, err := cache.RolesForUser(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
	assert.Equal(t, 2, reader.roleCalls)
}

func TestRoleCache_RebuildHookPurges(t *testing.T) {
	reader := newCountingReader()
	cache := NewRoleCache(reader, 16, time.Minute, nil)
	ctx := context.Background()

	_, err := cache.RolesForUser(ctx, 7)
	require.NoError(t, err)
	_, err = cache.GetOrganization(ctx, 10)
	require.NoError(t, err)

	cache.RebuildHook()(ctx, &derive.RebuildResult{RunID: "run-1"})
	assert.Zero(t, cache.Len())

	_, err = cache.RolesForUser(ctx, 7)
	require.NoError(t, err)
	_, err = cache.GetOrganization(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.roleCalls)
	assert.Equal(t, 2, reader.orgCalls)
}

func TestRoleCache_Expiry(t *testing.T) {
	reader := newCountingReader()
	cache := NewRoleCache(reader, 16, 20*time.Millisecond, nil)
	ctx := context.Background()

	_, err := cache.RolesForUser(ctx, 7)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := cache.RolesForUser(ctx, 7)
		return err == nil && reader.roleCalls >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestRoleCache_WithLookup(t *testing.T) {
	cache := NewRoleCache(newCountingReader(), 16, time.Minute, nil)

	active, err := derive.NewRoleLookup(cache).ResolveActiveRole(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleEditor, active.Role)
	assert.Equal(t, orgs.KindDataOwner, active.Kind)
}

// blockingReader returns pre-rebuild rows once released
type blockingReader struct {
	countingReader
	entered chan struct{}
	release chan struct{}
}

func (r *blockingReader) RolesForUser(ctx context.Context, userID int64) ([]derive.DerivedRole, error) {
	r.entered <- struct{}{}
	<-r.release
	return r.countingReader.RolesForUser(ctx, userID)
}

func (r *blockingReader) GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error) {
	r.entered <- struct{}{}
	<-r.release
	return r.countingReader.GetOrganization(ctx, id)
}

func TestRoleCache_PurgeDuringMissDropsStaleRead(t *testing.T) {
	reader := &blockingReader{
		countingReader: *newCountingReader(),
		entered:        make(chan struct{}, 4),
		release:        make(chan struct{}),
	}
	reader.roles[7] = []derive.DerivedRole{{UserID: 7, OrganizationID: 10, Role: rbac.RoleAdmin}}
	cache := NewRoleCache(reader, 16, time.Minute, nil)
	ctx := context.Background()

	done := make(chan []derive.DerivedRole)
	go func() {
		roles, _ := cache.RolesForUser(ctx, 7)
		done <- roles
	}()
	<-reader.entered

	// the rebuild revokes the admin row and commits while the read is in flight
	reader.roles[7] = []derive.DerivedRole{{UserID: 7, OrganizationID: 10, Role: rbac.RoleViewer}}
	cache.RebuildHook()(ctx, &derive.RebuildResult{RunID: "run-2"})
	close(reader.release)

	inFlight := <-done
	require.Len(t, inFlight, 1)
	assert.Equal(t, rbac.RoleAdmin, inFlight[0].Role)
	assert.Zero(t, cache.Len(), "a read started before the purge must not be cached")

	roles, err := cache.RolesForUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, rbac.RoleViewer, roles[0].Role)
}

func TestRoleCache_PurgeDuringOrganizationMiss(t *testing.T) {
	reader := &blockingReader{
		countingReader: *newCountingReader(),
		entered:        make(chan struct{}, 4),
		release:        make(chan struct{}),
	}
	cache := NewRoleCache(reader, 16, time.Minute, nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		_, _ = cache.GetOrganization(ctx, 10)
		close(done)
	}()
	<-reader.entered
	cache.Purge()
	close(reader.release)
	<-done

	// the second lookup misses again and reaches the reader
	org, err := cache.GetOrganization(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, 2, reader.orgCalls)
}
