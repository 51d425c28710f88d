package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/platinummonkey/facilityrbac/pkg/accounts"
	"github.com/platinummonkey/facilityrbac/pkg/orgs"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML document used to seed a memory store:
//
//	organizations:
//	  - {id: 1, name: Root council, kind: root_council}
//	  - {id: 10, name: Northshire, kind: data_owner}
//	relations:
//	  - {parent: 20, child: 10, admin: true}
//	users:
//	  - {id: 1, class: internal, legacy_role: root}
//	  - {id: 7, class: operator, legacy_role: operator_admin, home: 20, linked: [10]}
type Fixture struct {
	Organizations []orgs.Organization `yaml:"organizations"`
	Relations     []orgs.Relation     `yaml:"relations"`
	Users         []accounts.User     `yaml:"users"`
}

// LoadFixture reads and validates a fixture file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	fixture, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("invalid fixture %s: %w", path, err)
	}
	return fixture, nil
}

// ParseFixture decodes a fixture document. Unknown fields, unknown kinds or
// classes, and duplicate ids are rejected.
func ParseFixture(data []byte) (*Fixture, error) {
	var fixture Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fixture); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}

	if err := fixture.validate(); err != nil {
		return nil, err
	}
	return &fixture, nil
}

func (f *Fixture) validate() error {
	orgIDs := make(map[int64]bool, len(f.Organizations))
	for i, org := range f.Organizations {
		kind, err := orgs.ParseKind(string(org.Kind))
		if err != nil {
			return fmt.Errorf("organization %d: %w", org.ID, err)
		}
		f.Organizations[i].Kind = kind
		if orgIDs[org.ID] {
			return fmt.Errorf("duplicate organization id %d", org.ID)
		}
		orgIDs[org.ID] = true
	}

	userIDs := make(map[int64]bool, len(f.Users))
	for i, user := range f.Users {
		class, err := accounts.ParseClass(string(user.Class))
		if err != nil {
			return fmt.Errorf("user %d: %w", user.ID, err)
		}
		f.Users[i].Class = class
		if userIDs[user.ID] {
			return fmt.Errorf("duplicate user id %d", user.ID)
		}
		userIDs[user.ID] = true
	}

	if _, err := orgs.NewRelationIndex(f.Relations); err != nil {
		return err
	}
	return nil
}
