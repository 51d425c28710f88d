package orgs

import (
	"context"
	"fmt"
)

// Resolver looks up the management relation between two organizations.
// A nil relation with a nil error means no relation exists.
type Resolver interface {
	ResolveRelation(ctx context.Context, parentID, childID int64) (*Relation, error)
}

type relationKey struct {
	parent int64
	child  int64
}

// RelationIndex is an immutable in-memory Resolver over a fixed relation set
type RelationIndex struct {
	relations map[relationKey]Relation
}

// NewRelationIndex builds an index from a relation list. At most one relation
// may exist per ordered (parent, child) pair.
func NewRelationIndex(relations []Relation) (*RelationIndex, error) {
	idx := &RelationIndex{relations: make(map[relationKey]Relation, len(relations))}
	for _, rel := range relations {
		key := relationKey{parent: rel.ParentID, child: rel.ChildID}
		if _, exists := idx.relations[key]; exists {
			return nil, fmt.Errorf("duplicate relation %d -> %d", rel.ParentID, rel.ChildID)
		}
		idx.relations[key] = rel
	}
	return idx, nil
}

// ResolveRelation returns the relation from parentID to childID, or nil if none exists
func (idx *RelationIndex) ResolveRelation(_ context.Context, parentID, childID int64) (*Relation, error) {
	rel, ok := idx.relations[relationKey{parent: parentID, child: childID}]
	if !ok {
		return nil, nil
	}
	return &rel, nil
}

// Len returns the number of indexed relations
func (idx *RelationIndex) Len() int {
	return len(idx.relations)
}
