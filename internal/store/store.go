package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlsink/internal/dialect"
	"github.com/roach88/sqlsink/internal/querysql"
)

// ErrUnsupportedScheme is returned by Connect for an unknown URL scheme.
var ErrUnsupportedScheme = errors.New("unsupported database url scheme")

// Conn is an open connection to one backend.
// Conn is not safe for concurrent use; it is owned by the engine loop.
type Conn struct {
	db       *sql.DB
	dialect  dialect.Dialect
	compiler *querysql.SQLCompiler
}

// Connect opens a connection to the backend selected by the URL scheme and
// verifies it with a ping.
func Connect(ctx context.Context, url string) (*Conn, error) {
	d, dsn, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.Name(), err)
	}

	// One logical worker, one connection. This also keeps in-memory
	// SQLite databases alive for the lifetime of the Conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", d.Name(), err)
	}

	if d.Name() == "sqlite" {
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	return &Conn{
		db:       db,
		dialect:  d,
		compiler: querysql.NewSQLCompiler(d),
	}, nil
}

// ParseURL maps a connection URL to its dialect and driver DSN.
func ParseURL(url string) (dialect.Dialect, string, error) {
	scheme, rest, ok := strings.Cut(url, ":")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing scheme", ErrUnsupportedScheme)
	}

	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		// pgx accepts the URL form directly
		return dialect.Postgres{}, url, nil
	case "sqlite":
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			path = ":memory:"
		}
		return dialect.SQLite{}, path, nil
	case "duckdb":
		path := strings.TrimPrefix(rest, "//")
		if path == ":memory:" {
			path = ""
		}
		return dialect.DuckDB{}, path, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// Kind returns the dialect name of the connection.
func (c *Conn) Kind() string {
	return c.dialect.Name()
}

// Dialect returns the connection's dialect.
func (c *Conn) Dialect() dialect.Dialect {
	return c.dialect
}

// Close closes the database connection.
func (c *Conn) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - the sink itself only writes through Execute.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// logger returns the default logger annotated with the connection kind.
func (c *Conn) logger() *slog.Logger {
	return slog.Default().With("db", c.dialect.Name())
}
