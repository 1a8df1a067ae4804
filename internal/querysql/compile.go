package querysql

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/sqlsink/internal/dialect"
	"github.com/roach88/sqlsink/internal/model"
)

var (
	// ErrEmptyValues is returned for an operation with nothing to insert.
	ErrEmptyValues = errors.New("operation has no values")

	// ErrRowWidth is returned when a batch row does not match its header.
	ErrRowWidth = errors.New("batch row width does not match columns")

	// ErrMissingConflictKey is returned for an upsert without a conflict key.
	ErrMissingConflictKey = errors.New("upsert requires a conflict key")
)

// Statement is a compiled statement and the values to bind, in order.
type Statement struct {
	SQL    string
	Values []model.Value
}

// SQLCompiler compiles operations to parameterized SQL for one dialect.
// Values are never interpolated; identifiers always are.
type SQLCompiler struct {
	dialect dialect.Dialect
}

// NewSQLCompiler creates a compiler for d.
func NewSQLCompiler(d dialect.Dialect) *SQLCompiler {
	return &SQLCompiler{dialect: d}
}

// Compile converts op to SQL and its bind order.
// Empty operations and operations without values are rejected.
func (c *SQLCompiler) Compile(op model.Operation) (Statement, error) {
	switch o := op.(type) {
	case model.Insert:
		return c.compileInsert(o)
	case model.Upsert:
		return c.compileUpsert(o)
	case model.BatchInsert:
		return c.compileBatchInsert(o)
	case model.BatchUpsert:
		return c.compileBatchUpsert(o)
	case model.Empty, nil:
		return Statement{}, ErrEmptyValues
	default:
		return Statement{}, fmt.Errorf("unsupported operation type: %T", op)
	}
}

// compileInsert builds INSERT INTO t (a,b) VALUES ($1,$2).
// Column order equals value order.
func (c *SQLCompiler) compileInsert(ins model.Insert) (Statement, error) {
	if len(ins.Values) == 0 {
		return Statement{}, ErrEmptyValues
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		ins.Table,
		strings.Join(model.Columns(ins.Values), ","),
		c.tuple(1, len(ins.Values)))

	return Statement{SQL: sql, Values: ins.Values}, nil
}

// compileUpsert builds the insert plus a conflict clause whose SET
// expressions bind fresh parameters. The values are therefore bound twice:
// once for the VALUES tuple and once for the SET clause.
func (c *SQLCompiler) compileUpsert(ups model.Upsert) (Statement, error) {
	if len(ups.Values) == 0 {
		return Statement{}, ErrEmptyValues
	}
	if ups.ConflictKey == "" {
		return Statement{}, ErrMissingConflictKey
	}

	width := len(ups.Values)
	values := make([]model.Value, 0, 2*width)
	values = append(values, ups.Values...)

	var assignments []string
	for _, v := range c.assignable(ups.Values, ups.ConflictKey) {
		values = append(values, v)
		assignments = append(assignments,
			fmt.Sprintf("%s=%s", v.Column, c.dialect.Placeholder(len(values))))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s %s",
		ups.Table,
		strings.Join(model.Columns(ups.Values), ","),
		c.tuple(1, width),
		conflictClause(ups.ConflictKey, assignments))

	return Statement{SQL: sql, Values: values}, nil
}

// compileBatchInsert builds one VALUES clause with a tuple per row.
// Tuple i occupies placeholders [i*w+1, i*w+w].
func (c *SQLCompiler) compileBatchInsert(b model.BatchInsert) (Statement, error) {
	values, tuples, err := c.batchValues(b.Columns, b.Rows)
	if err != nil {
		return Statement{}, err
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		b.Table,
		strings.Join(b.Columns, ","),
		tuples)

	return Statement{SQL: sql, Values: values}, nil
}

// compileBatchUpsert combines the multi-tuple VALUES clause with a conflict
// clause that refers to the incoming row by name, so each row is bound once.
func (c *SQLCompiler) compileBatchUpsert(b model.BatchUpsert) (Statement, error) {
	if b.ConflictKey == "" {
		return Statement{}, ErrMissingConflictKey
	}
	values, tuples, err := c.batchValues(b.Columns, b.Rows)
	if err != nil {
		return Statement{}, err
	}

	var assignments []string
	for _, col := range b.Columns {
		if !c.dialect.AssignsConflictColumns() && inConflictKey(col, b.ConflictKey) {
			continue
		}
		assignments = append(assignments,
			fmt.Sprintf("%s=%s", col, c.dialect.ExcludedColumn(col)))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s %s",
		b.Table,
		strings.Join(b.Columns, ","),
		tuples,
		conflictClause(b.ConflictKey, assignments))

	return Statement{SQL: sql, Values: values}, nil
}

// batchValues flattens rows in order and renders their tuples.
func (c *SQLCompiler) batchValues(columns []string, rows [][]model.Value) ([]model.Value, string, error) {
	width := len(columns)
	if width == 0 || len(rows) == 0 {
		return nil, "", ErrEmptyValues
	}

	values := make([]model.Value, 0, width*len(rows))
	tuples := make([]string, 0, len(rows))
	for i, r := range rows {
		if len(r) != width {
			return nil, "", fmt.Errorf("%w: row %d has %d values, want %d", ErrRowWidth, i, len(r), width)
		}
		tuples = append(tuples, c.tuple(i*width+1, width))
		values = append(values, r...)
	}

	return values, strings.Join(tuples, ","), nil
}

// tuple renders "(p_first,...,p_first+n-1)".
func (c *SQLCompiler) tuple(first, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = c.dialect.Placeholder(first + i)
	}
	return "(" + strings.Join(ps, ",") + ")"
}

// assignable returns the values that may appear in the SET clause.
func (c *SQLCompiler) assignable(values []model.Value, conflictKey string) []model.Value {
	if c.dialect.AssignsConflictColumns() {
		return values
	}
	out := make([]model.Value, 0, len(values))
	for _, v := range values {
		if !inConflictKey(v.Column, conflictKey) {
			out = append(out, v)
		}
	}
	return out
}

// conflictClause renders the ON CONFLICT clause. With nothing left to
// assign the conflicting row is kept as is.
func conflictClause(conflictKey string, assignments []string) string {
	if len(assignments) == 0 {
		return fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", conflictKey)
	}
	return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", conflictKey, strings.Join(assignments, ","))
}

// inConflictKey reports whether column is one of the comma-joined key columns.
func inConflictKey(column, conflictKey string) bool {
	keys := strings.Split(conflictKey, ",")
	for i := range keys {
		keys[i] = strings.TrimSpace(keys[i])
	}
	return slices.Contains(keys, column)
}
