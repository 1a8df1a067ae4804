package store

import (
	"context"
	"errors"
	"fmt"

	duckdb "github.com/duckdb/duckdb-go/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlsink/internal/bind"
	"github.com/roach88/sqlsink/internal/dialect"
	"github.com/roach88/sqlsink/internal/model"
	"github.com/roach88/sqlsink/internal/querysql"
)

// Execute writes op in a single statement.
//
// Binder failures are returned as *bind.ConversionError and abort the whole
// operation before anything is sent. Backend failures are wrapped with the
// operation kind. Nothing is retried here.
func (c *Conn) Execute(ctx context.Context, op model.Operation) error {
	kind := model.Kind(op)

	stmt, err := c.compiler.Compile(op)
	if err != nil {
		return fmt.Errorf("compile %s: %w", kind, err)
	}

	params, err := dialect.BindAll(c.dialect, stmt.Values)
	if err != nil {
		var ce *bind.ConversionError
		if errors.As(err, &ce) {
			c.logger().Error("unable to bind value",
				"column", ce.Column,
				"type", ce.Type.String(),
				"raw_value", ce.RawValue,
				"error", ce.Err)
		}
		return err
	}

	c.logger().Debug("sending", "query", stmt.SQL, "rows", op.Len())

	if _, err := c.db.ExecContext(ctx, stmt.SQL, params...); err != nil {
		return fmt.Errorf("execute %s: %w", kind, err)
	}

	return nil
}

// IsDataError reports whether err was caused by the operation itself rather
// than by the backend connection. Retrying a data error cannot succeed.
//
// Besides binder and compiler failures this covers constraint and value
// errors raised by the backend: SQLite constraint and type mismatch codes,
// Postgres SQLSTATE classes 21, 22 and 23, and DuckDB constraint, conversion
// and type mismatch errors.
func IsDataError(err error) bool {
	if bind.IsConversionError(err) ||
		errors.Is(err, querysql.ErrEmptyValues) ||
		errors.Is(err, querysql.ErrRowWidth) ||
		errors.Is(err, querysql.ErrMissingConflictKey) {
		return true
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint || se.Code == sqlite3.ErrMismatch
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return isDataClass(pe.Code)
	}

	var de *duckdb.Error
	if errors.As(err, &de) {
		switch de.Type {
		case duckdb.ErrorTypeConstraint, duckdb.ErrorTypeConversion, duckdb.ErrorTypeMismatchType:
			return true
		}
	}
	return false
}

// isDataClass reports whether a SQLSTATE belongs to the cardinality
// violation (21), data exception (22) or integrity constraint (23) class.
// The first two characters of a SQLSTATE name its class.
func isDataClass(sqlstate string) bool {
	if len(sqlstate) != 5 {
		return false
	}
	switch sqlstate[:2] {
	case "21", "22", "23":
		return true
	}
	return false
}
