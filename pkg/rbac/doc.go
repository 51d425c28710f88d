// Package rbac holds the role lattice, the legacy role mapping, and the
// permission matrix compiler.
//
// # Roles
//
// Roles are totally ordered:
//
//	RootAdmin > Admin > Editor > Viewer > None
//
// Every legacy single-value role maps onto this lattice through ToRole, which
// takes an explicit isHome flag because several legacy values only grant
// rights in the user's own organization. ToLegacy is the inverse used when a
// role assigned in the new model has to be written back to the legacy column.
//
// # Permission Matrix
//
// Compile turns a (role, organization kind) pair into a CRUD tuple for every
// Topic. It is pure and total: unknown roles or kinds compile to a matrix that
// grants nothing.
//
//	matrix := rbac.Compile(rbac.RoleEditor, orgs.KindDataOwner)
//	if rbac.HasAnyRight(matrix, rbac.TopicFacilitySettingsFull) {
//		// allowed
//	}
//
// # HTTP
//
// PermissionMiddleware resolves the caller's active role for the organization
// in the route (or the X-Organization-ID header) and RequireTopic rejects
// requests whose compiled matrix has no right on the topic.
//
//	pm := rbac.NewPermissionMiddleware(resolver, metrics)
//	router.Handle("/admin/roles/rebuild",
//		pm.ResolveActiveRole(pm.RequireTopic(rbac.TopicPlatformAdmin)(handler)))
package rbac
