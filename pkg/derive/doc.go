// Package derive rebuilds the derived role table and audits it.
//
// # Rebuild
//
// Engine.Rebuild reads every user, organization and management relation from
// a Store and computes one role per (user, organization):
//
//   - Internal users hold their legacy role in the root council. Root
//     administrators additionally hold RootAdmin in every data owner and operator.
//   - External users hold their role in the single organization they are linked
//     to. Users with zero or several links are skipped with a diagnostic.
//   - Operator and manager users hold their role at their effective home (the
//     primary account's home for delegates), plus Admin or Viewer in each linked
//     organization the home manages through an admin or non-admin relation.
//
// The result replaces the stored set in one ReplaceDerivedRoles call. A
// Locker keeps rebuilds from overlapping; a held lock returns
// ErrRebuildInProgress.
//
// # Consistency
//
// Engine.FindOrphans lists derived rows that reference deleted users or
// organizations.
//
// # Serving
//
// RoleLookup implements rbac.ActiveRoleResolver on top of the derived table,
// Handlers exposes rebuild and consistency over HTTP, and Scheduler triggers
// rebuilds on a cron schedule.
package derive
