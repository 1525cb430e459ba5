// Package store is the SQLite query facade.
//
// It runs the queries the entity runtime issues for lazy loads (Find, Count,
// LoadFromPivotTable) against a database/sql connection using
// github.com/mattn/go-sqlite3. Queries are compiled by querysql; rows are
// mapped back to raw entity data keyed by property name. The store never
// writes entity data: flushing is outside the runtime core. Exec exists for
// schema and fixtures.
//
// # Determinism
//
// Every compiled query ends its ORDER BY with the primary key, so loads
// return the same order on every run and golden traces are stable.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
