// Package storage holds the backend configuration shared by the role store
// implementations.
//
// Two backends implement derive.Store:
//
//   - storage/memory: maps guarded by a RWMutex, seeded from a YAML fixture.
//     Used for local development and tests.
//   - storage/postgres: lib/pq backed store. Derived roles are replaced inside
//     one transaction, and a Redis lock serializes rebuilds across replicas.
//
// Backend selection happens in cmd/roled from Config.Type.
package storage
