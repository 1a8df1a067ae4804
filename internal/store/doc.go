// Package store executes model operations against a SQL backend.
//
// Connect picks the backend from the URL scheme:
//   - postgres://, postgresql:// : PostgreSQL through pgx (database/sql driver "pgx")
//   - sqlite::memory:, sqlite://path, sqlite:path : SQLite through go-sqlite3
//   - duckdb::memory:, duckdb://path, duckdb:path : DuckDB through duckdb-go
//
// A Conn owns exactly one database connection. Execute compiles the
// operation with querysql, binds its values with the connection's dialect
// and runs the statement. It never retries; the engine decides what a failure
// means.
//
// # Database Configuration
//
// SQLite connections are configured with:
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
