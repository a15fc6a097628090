// Package direct implements backend.Adapter over a directly connected
// relational store.
//
// The connection uses a fixed service credential, so the store enforces no
// row-level authorization of its own. Every query therefore carries the
// caller's predicate, compiled from the entity catalog by policysql:
//
//   - reads, updates and deletes compose the predicate into WHERE, so rows
//     the caller may not see are indistinguishable from absent rows
//   - inserts and updates test the candidate row against the predicate
//     (WITH CHECK semantics) inside the same transaction
//
// Two drivers are supported: "pgx" for Postgres and "sqlite3" for local
// files and tests. SQLite uses WAL mode and a single connection.
//
// After a write commits, the store hands a backend.Change to its Mirror,
// if one is set. Mirror failures never reach the caller.
package direct
