package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/platinummonkey/facilityrbac/pkg/accounts"
	"github.com/platinummonkey/facilityrbac/pkg/derive"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
)

// Store keeps organizations, users, relations and derived roles in maps
// guarded by a RWMutex. It implements derive.Store and derive.RoleReader.
type Store struct {
	mu            sync.RWMutex
	organizations map[int64]orgs.Organization
	users         map[int64]accounts.User
	relations     *orgs.RelationIndex
	derived       []derive.DerivedRole

	replaceErr error
}

// New creates an empty store
func New() *Store {
	relations, _ := orgs.NewRelationIndex(nil)
	return &Store{
		organizations: make(map[int64]orgs.Organization),
		users:         make(map[int64]accounts.User),
		relations:     relations,
	}
}

// Load replaces organizations, users and relations with the fixture
// contents. Derived roles are kept until the next rebuild.
func (s *Store) Load(fixture *Fixture) error {
	relations, err := orgs.NewRelationIndex(fixture.Relations)
	if err != nil {
		return fmt.Errorf("failed to index relations: %w", err)
	}

	organizations := make(map[int64]orgs.Organization, len(fixture.Organizations))
	for _, org := range fixture.Organizations {
		organizations[org.ID] = org
	}
	users := make(map[int64]accounts.User, len(fixture.Users))
	for _, user := range fixture.Users {
		users[user.ID] = user
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations = organizations
	s.users = users
	s.relations = relations
	return nil
}

// Snapshot implements derive.Snapshotter. The returned store holds copies of
// the organizations and users taken under one read lock; relation indexes are
// never mutated and are shared.
func (s *Store) Snapshot(_ context.Context) (derive.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := New()
	snapshot.organizations = maps.Clone(s.organizations)
	snapshot.users = maps.Clone(s.users)
	snapshot.relations = s.relations
	return snapshot, nil
}

// DeleteUser removes a user, leaving any derived rows behind
func (s *Store) DeleteUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

// DeleteOrganization removes an organization, leaving any derived rows behind
func (s *Store) DeleteOrganization(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.organizations, id)
}

// FailReplaceWith makes ReplaceDerivedRoles fail with err until reset with nil
func (s *Store) FailReplaceWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceErr = err
}

// ListUsers implements derive.Store
func (s *Store) ListUsers(_ context.Context, class *accounts.Class) ([]accounts.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]accounts.User, 0, len(s.users))
	for _, user := range s.users {
		if class == nil || user.Class == *class {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// ListOrganizations implements derive.Store
func (s *Store) ListOrganizations(_ context.Context, kind *orgs.Kind) ([]orgs.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	organizations := make([]orgs.Organization, 0, len(s.organizations))
	for _, org := range s.organizations {
		if kind == nil || org.Kind == *kind {
			organizations = append(organizations, org)
		}
	}
	sort.Slice(organizations, func(i, j int) bool { return organizations[i].ID < organizations[j].ID })
	return organizations, nil
}

// ResolveRelation implements orgs.Resolver
func (s *Store) ResolveRelation(ctx context.Context, parentID, childID int64) (*orgs.Relation, error) {
	s.mu.RLock()
	relations := s.relations
	s.mu.RUnlock()
	return relations.ResolveRelation(ctx, parentID, childID)
}

// ReplaceDerivedRoles implements derive.Store. The swap happens under the
// write lock so readers see either the old or the new set.
func (s *Store) ReplaceDerivedRoles(_ context.Context, rows []derive.DerivedRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replaceErr != nil {
		return s.replaceErr
	}

	seen := make(map[[2]int64]bool, len(rows))
	for _, row := range rows {
		key := [2]int64{row.UserID, row.OrganizationID}
		if seen[key] {
			return fmt.Errorf("duplicate derived role for user %d in organization %d", row.UserID, row.OrganizationID)
		}
		seen[key] = true
	}

	s.derived = append([]derive.DerivedRole(nil), rows...)
	return nil
}

// ListDerivedRoles implements derive.Store
func (s *Store) ListDerivedRoles(_ context.Context) ([]derive.DerivedRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]derive.DerivedRole(nil), s.derived...), nil
}

// RolesForUser implements derive.RoleReader
func (s *Store) RolesForUser(_ context.Context, userID int64) ([]derive.DerivedRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var roles []derive.DerivedRole
	for _, row := range s.derived {
		if row.UserID == userID {
			roles = append(roles, row)
		}
	}
	return roles, nil
}

// GetOrganization implements derive.RoleReader
func (s *Store) GetOrganization(_ context.Context, id int64) (*orgs.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.organizations[id]
	if !ok {
		return nil, nil
	}
	return &org, nil
}
