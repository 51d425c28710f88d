package derive

import (
	"context"
	"errors"
	"sync"

	"github.com/platinummonkey/facilityrbac/pkg/accounts"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
)

var errInjected = errors.New("injected failure")

// fakeStore is a minimal Store with failure injection
type fakeStore struct {
	mu            sync.Mutex
	users         []accounts.User
	organizations []orgs.Organization
	relations     *orgs.RelationIndex
	derived       []DerivedRole

	failListUsers bool
	failListOrgs  bool
	failResolve   bool
	failReplace   bool
	blockReplace  bool // wait for the context to end
	replaceCalls  int
}

func newFakeStore(organizations []orgs.Organization, users []accounts.User, relations []orgs.Relation) *fakeStore {
	idx, err := orgs.NewRelationIndex(relations)
	if err != nil {
		panic(err)
	}
	return &fakeStore{users: users, organizations: organizations, relations: idx}
}

func (f *fakeStore) ListUsers(_ context.Context, class *accounts.Class) ([]accounts.User, error) {
	if f.failListUsers {
		return nil, errInjected
	}
	var out []accounts.User
	for _, u := range f.users {
		if class == nil || u.Class == *class {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOrganizations(_ context.Context, kind *orgs.Kind) ([]orgs.Organization, error) {
	if f.failListOrgs {
		return nil, errInjected
	}
	var out []orgs.Organization
	for _, o := range f.organizations {
		if kind == nil || o.Kind == *kind {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) ResolveRelation(ctx context.Context, parentID, childID int64) (*orgs.Relation, error) {
	if f.failResolve {
		return nil, errInjected
	}
	return f.relations.ResolveRelation(ctx, parentID, childID)
}

func (f *fakeStore) ReplaceDerivedRoles(ctx context.Context, rows []DerivedRole) error {
	if f.blockReplace {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	if f.failReplace {
		return errInjected
	}
	f.derived = append([]DerivedRole(nil), rows...)
	return nil
}

func (f *fakeStore) ListDerivedRoles(_ context.Context) ([]DerivedRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DerivedRole(nil), f.derived...), nil
}

func (f *fakeStore) RolesForUser(_ context.Context, userID int64) ([]DerivedRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []DerivedRole
	for _, row := range f.derived {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrganization(_ context.Context, id int64) (*orgs.Organization, error) {
	if f.failListOrgs {
		return nil, errInjected
	}
	for _, o := range f.organizations {
		if o.ID == id {
			org := o
			return &org, nil
		}
	}
	return nil, nil
}

func int64Ptr(v int64) *int64 { return &v }
