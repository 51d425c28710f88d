package orgs

import (
	"errors"
	"fmt"
	"strings"
)

// RootCouncilID is the reserved id of the single root council organization
const RootCouncilID int64 = 1

// Kind represents the kind of tenant an organization is
type Kind string

const (
	KindRootCouncil Kind = "root_council"
	KindDataOwner   Kind = "data_owner"
	KindOperator    Kind = "operator"
)

// ErrUnknownKind is returned when parsing an unrecognized organization kind
var ErrUnknownKind = errors.New("unknown organization kind")

// Kinds returns every organization kind
func Kinds() []Kind {
	return []Kind{KindRootCouncil, KindDataOwner, KindOperator}
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindRootCouncil, KindDataOwner, KindOperator:
		return true
	}
	return false
}

// ParseKind parses a stored or user-supplied organization kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Organization represents a tenant node
type Organization struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`
}

// IsRootCouncil reports whether the organization is the root council
func (o Organization) IsRootCouncil() bool {
	return o.Kind == KindRootCouncil
}

// Relation is a directed management edge from a parent organization
// (normally an operator) to a child organization (normally a data owner).
type Relation struct {
	ParentID int64 `json:"parent_organization_id" yaml:"parent"`
	ChildID  int64 `json:"child_organization_id" yaml:"child"`
	IsAdmin  bool  `json:"is_admin_relation" yaml:"admin"`
}
