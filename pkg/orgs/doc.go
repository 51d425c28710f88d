// Package orgs defines the tenant hierarchy of the facility platform.
//
// # Overview
//
// There is exactly one root council (id 1), the home of every internal account.
// Data owners are councils that own facility data. Operators are service providers
// that manage one or more data owners on their behalf.
//
// Management is expressed as a directed Relation from the managing organization to
// the managed one. An admin relation grants admin-level oversight of the child, a
// non-admin relation grants viewer-level oversight only, and no relation grants nothing.
//
// # Resolving relations
//
//	idx, err := orgs.NewRelationIndex(relations)
//	rel, err := idx.ResolveRelation(ctx, operatorID, dataOwnerID)
//	if rel == nil {
//		// no management relation
//	}
//
// # Related Packages
//
//   - pkg/derive: walks relations to derive per-organization roles
//   - pkg/rbac: compiles permission matrices per organization kind
package orgs
