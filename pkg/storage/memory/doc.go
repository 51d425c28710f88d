/*
Package memory implements the role store entirely in memory.

Organizations, relations and users are seeded from a YAML fixture (see
Fixture). Derived roles are held until the next rebuild swaps them. The
store is safe for concurrent use and is the default backend for local
development and the engine's integration tests.
*/
package memory
