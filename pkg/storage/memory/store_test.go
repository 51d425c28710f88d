package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/platinummonkey/facilityrbac/pkg/accounts"
	"github.com/platinummonkey/facilityrbac/pkg/derive"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
	"github.com/platinummonkey/facilityrbac/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ derive.Store       = (*Store)(nil)
	_ derive.RoleReader  = (*Store)(nil)
	_ derive.Snapshotter = (*Store)(nil)
)

func loadedStore(t *testing.T) *Store {
	t.Helper()
	fixture, err := LoadFixture("testdata/facility.yaml")
	require.NoError(t, err)
	store := New()
	require.NoError(t, store.Load(fixture))
	return store
}

func TestStore_ListFiltersAndSorts(t *testing.T) {
	store := loadedStore(t)
	ctx := context.Background()

	all, err := store.ListUsers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	operators := accounts.ClassOperator
	ops, err := store.ListUsers(ctx, &operators)
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	dataOwners := orgs.KindDataOwner
	owned, err := store.ListOrganizations(ctx, &dataOwners)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, int64(10), owned[0].ID)
	assert.Equal(t, int64(11), owned[1].ID)
}

func TestStore_ResolveRelation(t *testing.T) {
	store := loadedStore(t)
	ctx := context.Background()

	rel, err := store.ResolveRelation(ctx, 20, 10)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.True(t, rel.IsAdmin)

	rel, err = store.ResolveRelation(ctx, 10, 20)
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestStore_ReplaceDerivedRoles(t *testing.T) {
	store := New()
	ctx := context.Background()

	first := []derive.DerivedRole{
		{UserID: 1, OrganizationID: 1, Role: rbac.RoleRootAdmin, IsHomeOrganization: true},
		{UserID: 1, OrganizationID: 10, Role: rbac.RoleAdmin},
	}
	require.NoError(t, store.ReplaceDerivedRoles(ctx, first))

	second := []derive.DerivedRole{{UserID: 2, OrganizationID: 1, Role: rbac.RoleEditor, IsHomeOrganization: true}}
	require.NoError(t, store.ReplaceDerivedRoles(ctx, second))

	rows, err := store.ListDerivedRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, rows)

	// callers cannot mutate the stored set through the returned slice
	rows[0].Role = rbac.RoleAdmin
	again, err := store.ListDerivedRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleEditor, again[0].Role)
}

func TestStore_ReplaceDerivedRolesFailureKeepsPrevious(t *testing.T) {
	store := New()
	ctx := context.Background()

	previous := []derive.DerivedRole{{UserID: 1, OrganizationID: 1, Role: rbac.RoleAdmin, IsHomeOrganization: true}}
	require.NoError(t, store.ReplaceDerivedRoles(ctx, previous))

	duplicate := []derive.DerivedRole{
		{UserID: 3, OrganizationID: 10, Role: rbac.RoleViewer},
		{UserID: 3, OrganizationID: 10, Role: rbac.RoleAdmin},
	}
	require.Error(t, store.ReplaceDerivedRoles(ctx, duplicate))

	boom := errors.New("boom")
	store.FailReplaceWith(boom)
	err := store.ReplaceDerivedRoles(ctx, nil)
	require.ErrorIs(t, err, boom)

	rows, err := store.ListDerivedRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, previous, rows)
}

func TestStore_RoleReader(t *testing.T) {
	store := loadedStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceDerivedRoles(ctx, []derive.DerivedRole{
		{UserID: 4, OrganizationID: 10, Role: rbac.RoleAdmin},
		{UserID: 4, OrganizationID: 20, Role: rbac.RoleAdmin, IsHomeOrganization: true},
		{UserID: 5, OrganizationID: 20, Role: rbac.RoleViewer, IsHomeOrganization: true},
	}))

	roles, err := store.RolesForUser(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	org, err := store.GetOrganization(ctx, 20)
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, orgs.KindOperator, org.Kind)

	org, err = store.GetOrganization(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, org)
}

func TestStore_DeleteLeavesDerivedRows(t *testing.T) {
	store := loadedStore(t)
	ctx := context.Background()

	engine := derive.NewEngine(store, derive.EngineConfig{})
	_, err := engine.Rebuild(ctx)
	require.NoError(t, err)

	store.DeleteUser(3)
	store.DeleteOrganization(11)

	report, err := engine.FindOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, report.MissingUser, 1)
	assert.Equal(t, int64(3), report.MissingUser[0].UserID)
	for _, row := range report.MissingOrganization {
		assert.Equal(t, int64(11), row.OrganizationID)
	}
	assert.NotEmpty(t, report.MissingOrganization)
}

func TestStore_RebuildEndToEnd(t *testing.T) {
	store := loadedStore(t)
	ctx := context.Background()

	result, err := derive.NewEngine(store, derive.EngineConfig{}).Rebuild(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Diagnostics)

	lookup := derive.NewRoleLookup(store)
	tests := []struct {
		user, org int64
		want      rbac.Role
	}{
		{1, 1, rbac.RoleRootAdmin},
		{1, 10, rbac.RoleRootAdmin},
		{1, 20, rbac.RoleRootAdmin},
		{2, 1, rbac.RoleEditor},
		{2, 10, rbac.RoleNone},
		{3, 10, rbac.RoleAdmin},
		{4, 20, rbac.RoleAdmin},
		{4, 10, rbac.RoleAdmin},
		{4, 11, rbac.RoleViewer},
		{5, 20, rbac.RoleViewer},
		{5, 10, rbac.RoleAdmin},
		{5, 999, rbac.RoleNone},
	}
	for _, tt := range tests {
		active, err := lookup.ResolveActiveRole(ctx, tt.user, tt.org)
		require.NoError(t, err)
		assert.Equal(t, tt.want, active.Role, "user %d org %d", tt.user, tt.org)
	}
}

func TestStore_SnapshotIgnoresLaterChanges(t *testing.T) {
	store := loadedStore(t)
	ctx := context.Background()

	snapshot, err := store.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Load(&Fixture{
		Organizations: []orgs.Organization{{ID: 1, Name: "Council", Kind: orgs.KindRootCouncil}},
	}))
	store.DeleteOrganization(1)

	users, err := snapshot.ListUsers(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, users, 5)

	organizations, err := snapshot.ListOrganizations(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, organizations, 4)

	rel, err := snapshot.ResolveRelation(ctx, 20, 10)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.True(t, rel.IsAdmin)

	current, err := store.ListOrganizations(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, current)
}
