package derive

import (
	"context"
	"testing"

	"github.com/platinummonkey/facilityrbac/pkg/accounts"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
	"github.com/platinummonkey/facilityrbac/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrphans(t *testing.T) {
	store := newFakeStore(baseOrganizations(), []accounts.User{
		{ID: 1, Class: accounts.ClassInternal, LegacyRole: "root"},
	}, nil)
	store.derived = []DerivedRole{
		{UserID: 1, OrganizationID: orgs.RootCouncilID, Role: rbac.RoleRootAdmin, IsHomeOrganization: true},
		{UserID: 1, OrganizationID: 404, Role: rbac.RoleRootAdmin},
		{UserID: 2, OrganizationID: dataOwnerA, Role: rbac.RoleViewer},
		{UserID: 3, OrganizationID: 405, Role: rbac.RoleAdmin},
	}
	before := append([]DerivedRole(nil), store.derived...)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	report, err := NewEngine(store, EngineConfig{Metrics: metrics}).FindOrphans(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []DerivedRole{
		{UserID: 2, OrganizationID: dataOwnerA, Role: rbac.RoleViewer},
		{UserID: 3, OrganizationID: 405, Role: rbac.RoleAdmin},
	}, report.MissingUser)
	assert.Equal(t, []DerivedRole{
		{UserID: 1, OrganizationID: 404, Role: rbac.RoleRootAdmin},
		{UserID: 3, OrganizationID: 405, Role: rbac.RoleAdmin},
	}, report.MissingOrganization)

	assert.Equal(t, before, store.derived, "consistency check must not mutate")
	assert.Zero(t, store.replaceCalls)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.OrphanedRoles.WithLabelValues("missing_user")))
}

func TestFindOrphans_AfterRebuildIsClean(t *testing.T) {
	store := newFakeStore(baseOrganizations(), []accounts.User{
		{ID: 1, Class: accounts.ClassInternal, LegacyRole: "root"},
		{ID: 2, Class: accounts.ClassExternal, LegacyRole: "external_editor", LinkedOrganizationIDs: []int64{dataOwnerA}},
	}, nil)
	engine := NewEngine(store, EngineConfig{})

	_, err := engine.Rebuild(context.Background())
	require.NoError(t, err)

	report, err := engine.FindOrphans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.MissingUser)
	assert.Empty(t, report.MissingOrganization)
}

func TestFindOrphans_StoreError(t *testing.T) {
	store := newFakeStore(baseOrganizations(), nil, nil)
	store.failListUsers = true

	_, err := NewEngine(store, EngineConfig{}).FindOrphans(context.Background())
	assert.ErrorIs(t, err, errInjected)
}
