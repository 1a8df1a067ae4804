package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	duckdb "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlsink/internal/bind"
	"github.com/roach88/sqlsink/internal/model"
	"github.com/roach88/sqlsink/internal/querysql"
)

const bigTableDDL = `CREATE TABLE big_table (
	bool_col BOOLEAN,
	char_col INTEGER,
	smallint_col SMALLINT,
	int_col INTEGER,
	bigint_col BIGINT,
	float_col REAL,
	double_col DOUBLE PRECISION,
	bytes_col BLOB,
	numeric_col REAL,
	timestamp_col TEXT,
	date_col TEXT,
	time_col TEXT,
	text_col TEXT,
	uuid_col BLOB PRIMARY KEY,
	json_col TEXT
)`

const testUUID = "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"

func bigRow(text string) []model.Value {
	return []model.Value{
		{Column: "bool_col", RawValue: "true", Type: model.Bool},
		{Column: "char_col", RawValue: "-7", Type: model.Char},
		{Column: "smallint_col", RawValue: "1234", Type: model.SmallInt},
		{Column: "int_col", RawValue: "123456", Type: model.Int},
		{Column: "bigint_col", RawValue: "1234567890123", Type: model.BigInt},
		{Column: "float_col", RawValue: "3.123", Type: model.Float},
		{Column: "double_col", RawValue: "2.718281828", Type: model.DoublePrecision},
		{Column: "bytes_col", RawValue: "raw-bytes", Type: model.Bytes},
		{Column: "numeric_col", RawValue: "12.5", Type: model.Numeric},
		{Column: "timestamp_col", RawValue: "2023-01-02 03:04:05.5", Type: model.Timestamp},
		{Column: "date_col", RawValue: "2023-01-02", Type: model.Date},
		{Column: "time_col", RawValue: "03:04:05", Type: model.Time},
		{Column: "text_col", RawValue: text, Type: model.Text},
		{Column: "uuid_col", RawValue: testUUID, Type: model.UUID},
		{Column: "json_col", RawValue: `{ "k": [1, 2] }`, Type: model.JSON},
	}
}

type bigTableRow struct {
	Bool      bool
	Char      int64
	SmallInt  int64
	Int       int64
	BigInt    int64
	Float     float32
	Double    float64
	Bytes     []byte
	Numeric   float64
	Timestamp string
	Date      string
	Time      string
	Text      string
	UUID      []byte
	JSON      string
}

func readBigRows(t *testing.T, c *Conn) []bigTableRow {
	t.Helper()
	rows, err := c.db.Query(`SELECT bool_col, char_col, smallint_col, int_col, bigint_col,
		float_col, double_col, bytes_col, numeric_col, timestamp_col, date_col, time_col,
		text_col, uuid_col, json_col FROM big_table`)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	var out []bigTableRow
	for rows.Next() {
		var r bigTableRow
		if err := rows.Scan(&r.Bool, &r.Char, &r.SmallInt, &r.Int, &r.BigInt,
			&r.Float, &r.Double, &r.Bytes, &r.Numeric, &r.Timestamp, &r.Date, &r.Time,
			&r.Text, &r.UUID, &r.JSON); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		out = append(out, r)
	}
	return out
}

func TestExecute_InsertAllTypes(t *testing.T) {
	c := createTestConn(t)
	mustExec(t, c, bigTableDDL)

	err := c.Execute(context.Background(), model.Insert{Table: "big_table", Values: bigRow("first")})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	got := readBigRows(t, c)
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	r := got[0]

	if !r.Bool || r.Char != -7 || r.SmallInt != 1234 || r.Int != 123456 || r.BigInt != 1234567890123 {
		t.Errorf("integer columns mismatch: %+v", r)
	}
	if r.Float != float32(3.123) {
		t.Errorf("float_col = %v, want 3.123", r.Float)
	}
	if r.Double != 2.718281828 {
		t.Errorf("double_col = %v", r.Double)
	}
	if string(r.Bytes) != "raw-bytes" {
		t.Errorf("bytes_col = %q", r.Bytes)
	}
	if r.Numeric != 12.5 {
		t.Errorf("numeric_col = %v", r.Numeric)
	}
	if r.Timestamp != "2023-01-02 03:04:05.5" {
		t.Errorf("timestamp_col = %q", r.Timestamp)
	}
	if r.Date != "2023-01-02" {
		t.Errorf("date_col = %q", r.Date)
	}
	if r.Time != "03:04:05" {
		t.Errorf("time_col = %q", r.Time)
	}
	if r.Text != "first" {
		t.Errorf("text_col = %q", r.Text)
	}
	if id, err := uuid.FromBytes(r.UUID); err != nil || id.String() != testUUID {
		t.Errorf("uuid_col = %x (%v)", r.UUID, err)
	}
	if r.JSON != `{"k":[1,2]}` {
		t.Errorf("json_col = %q", r.JSON)
	}
}

func TestExecute_UpsertAllTypesUpdatesInPlace(t *testing.T) {
	c := createTestConn(t)
	mustExec(t, c, bigTableDDL)
	ctx := context.Background()

	for _, text := range []string{"first", "first", "second"} {
		op := model.Upsert{Table: "big_table", Values: bigRow(text), ConflictKey: "uuid_col"}
		if err := c.Execute(ctx, op); err != nil {
			t.Fatalf("Execute(%s) failed: %v", text, err)
		}
	}

	got := readBigRows(t, c)
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Text != "second" {
		t.Errorf("text_col = %q, want second", got[0].Text)
	}
}

// runScenario inserts ten rows, upserts them unchanged, then upserts them with
// column b shifted, checking the table after each pass.
func runScenario(t *testing.T, c *Conn, table string, write func(ops []model.Operation)) {
	t.Helper()
	const n, shift = 10, 100

	build := func(upsert bool, shift int) []model.Operation {
		ops := make([]model.Operation, 0, n)
		for i := range n {
			if upsert {
				ops = append(ops, model.Upsert{Table: table, Values: createTestRow(i, shift), ConflictKey: "id"})
			} else {
				ops = append(ops, model.Insert{Table: table, Values: createTestRow(i, shift)})
			}
		}
		return ops
	}

	check := func(stage string, shift int) {
		rows := readTestRows(t, c, table)
		if len(rows) != n {
			t.Fatalf("%s: expected %d rows, got %d", stage, n, len(rows))
		}
		for i, r := range rows {
			want := testRow{ID: int64(i), A: int64(i), B: int64(i + shift)}
			if r != want {
				t.Errorf("%s: row %d = %+v, want %+v", stage, i, r, want)
			}
		}
	}

	write(build(false, 0))
	check("insert", 0)

	write(build(true, 0))
	check("upsert unchanged", 0)

	write(build(true, shift))
	check("upsert shifted", shift)
}

func TestExecute_SingleRowScenario(t *testing.T) {
	c := createTestConn(t)
	mustExec(t, c, "CREATE TABLE t (id INTEGER PRIMARY KEY, a BIGINT, b SMALLINT)")
	ctx := context.Background()

	runScenario(t, c, "t", func(ops []model.Operation) {
		for _, op := range ops {
			if err := c.Execute(ctx, op); err != nil {
				t.Fatalf("Execute() failed: %v", err)
			}
		}
	})
}

func TestExecute_BatchScenario(t *testing.T) {
	c := createTestConn(t)
	mustExec(t, c, "CREATE TABLE t (id INTEGER PRIMARY KEY, a BIGINT, b SMALLINT)")
	ctx := context.Background()

	runScenario(t, c, "t", func(ops []model.Operation) {
		acc := model.NewAccumulator()
		for _, op := range ops {
			if err := acc.Push(op); err != nil {
				t.Fatalf("Push() failed: %v", err)
			}
		}
		if acc.Len() != len(ops) {
			t.Fatalf("accumulator holds %d rows, want %d", acc.Len(), len(ops))
		}
		if err := c.Execute(ctx, acc.Operation()); err != nil {
			t.Fatalf("Execute(%s) failed: %v", model.Kind(acc.Operation()), err)
		}
	})
}

func TestExecute_ConversionErrorWritesNothing(t *testing.T) {
	c := createTestConn(t)
	mustExec(t, c, "CREATE TABLE t (id INTEGER PRIMARY KEY, a BIGINT, b SMALLINT)")

	bad := createTestRow(3, 0)
	bad[2].RawValue = "not-a-number"

	op := model.BatchInsert{
		Table:   "t",
		Columns: []string{"id", "a", "b"},
		Rows:    [][]model.Value{createTestRow(1, 0), createTestRow(2, 0), bad},
	}

	err := c.Execute(context.Background(), op)
	var ce *bind.ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if ce.Column != "b" || ce.Type != model.SmallInt {
		t.Errorf("unexpected error context: %+v", ce)
	}
	if !IsDataError(err) {
		t.Error("conversion error should be a data error")
	}

	if rows := readTestRows(t, c, "t"); len(rows) != 0 {
		t.Errorf("expected no rows written, got %d", len(rows))
	}
}

func TestExecute_BackendErrorIsNotDataError(t *testing.T) {
	c := createTestConn(t)

	err := c.Execute(context.Background(), model.Insert{Table: "missing", Values: createTestRow(1, 0)})
	if err == nil {
		t.Fatal("expected error for missing table")
	}
	if IsDataError(err) {
		t.Errorf("backend error classified as data error: %v", err)
	}
}

func TestExecute_ConstraintViolationIsDataError(t *testing.T) {
	c := createTestConn(t)
	mustExec(t, c, "CREATE TABLE t (id INTEGER PRIMARY KEY, a BIGINT NOT NULL, b SMALLINT CHECK (b >= 0))")
	ctx := context.Background()

	if err := c.Execute(ctx, model.Insert{Table: "t", Values: createTestRow(1, 0)}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	duplicate := c.Execute(ctx, model.Insert{Table: "t", Values: createTestRow(1, 5)})
	if duplicate == nil {
		t.Fatal("expected duplicate primary key to fail")
	}
	if !IsDataError(duplicate) {
		t.Errorf("duplicate key not classified as data error: %v", duplicate)
	}

	negative := c.Execute(ctx, model.Insert{Table: "t", Values: createTestRow(2, -10)})
	if negative == nil {
		t.Fatal("expected CHECK constraint to fail")
	}
	if !IsDataError(negative) {
		t.Errorf("check violation not classified as data error: %v", negative)
	}

	if rows := readTestRows(t, c, "t"); len(rows) != 1 || rows[0].B != 1 {
		t.Errorf("rejected inserts must not change the table, got %+v", rows)
	}
}

func TestExecute_DuckDBConstraintViolationIsDataError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.duckdb")
	c, err := Connect(context.Background(), "duckdb://"+path)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer c.Close()

	mustExec(t, c, "CREATE TABLE t (id INTEGER PRIMARY KEY, a BIGINT, b SMALLINT)")
	ctx := context.Background()

	if err := c.Execute(ctx, model.Insert{Table: "t", Values: createTestRow(1, 0)}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	err = c.Execute(ctx, model.Insert{Table: "t", Values: createTestRow(1, 0)})
	if err == nil {
		t.Fatal("expected duplicate primary key to fail")
	}
	if !IsDataError(err) {
		t.Errorf("duplicate key not classified as data error: %v", err)
	}
}

func TestIsDataError(t *testing.T) {
	testCases := []struct {
		err  error
		want bool
	}{
		{&bind.ConversionError{Column: "x", Type: model.Int}, true},
		{fmt.Errorf("compile insert: %w", querysql.ErrEmptyValues), true},
		{fmt.Errorf("compile batch_insert: %w", querysql.ErrRowWidth), true},
		{fmt.Errorf("compile upsert: %w", querysql.ErrMissingConflictKey), true},
		{errors.New("connection reset by peer"), false},
		{context.DeadlineExceeded, false},
		{fmt.Errorf("execute insert: %w", sqlite3.Error{Code: sqlite3.ErrConstraint}), true},
		{fmt.Errorf("execute insert: %w", sqlite3.Error{Code: sqlite3.ErrMismatch}), true},
		{fmt.Errorf("execute insert: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), false},
		{fmt.Errorf("execute insert: %w", sqlite3.Error{Code: sqlite3.ErrError}), false},
		{&pgconn.PgError{Code: "23505"}, true}, // unique_violation
		{&pgconn.PgError{Code: "23502"}, true}, // not_null_violation
		{&pgconn.PgError{Code: "22P02"}, true}, // invalid_text_representation
		{&pgconn.PgError{Code: "21000"}, true}, // cardinality_violation
		{&pgconn.PgError{Code: "42P01"}, false}, // undefined_table
		{&pgconn.PgError{Code: "57P01"}, false}, // admin_shutdown
		{&pgconn.PgError{Code: "08006"}, false}, // connection_failure
		{&duckdb.Error{Type: duckdb.ErrorTypeConstraint}, true},
		{&duckdb.Error{Type: duckdb.ErrorTypeConversion}, true},
		{&duckdb.Error{Type: duckdb.ErrorTypeCatalog}, false},
		{&duckdb.Error{Type: duckdb.ErrorTypeConnection}, false},
	}

	for _, tc := range testCases {
		if got := IsDataError(tc.err); got != tc.want {
			t.Errorf("IsDataError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestExecute_DuckDBScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.duckdb")
	c, err := Connect(context.Background(), "duckdb://"+path)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer c.Close()

	mustExec(t, c, "CREATE TABLE t (id INTEGER PRIMARY KEY, a BIGINT, b SMALLINT)")
	ctx := context.Background()

	runScenario(t, c, "t", func(ops []model.Operation) {
		acc := model.NewAccumulator()
		for _, op := range ops {
			if err := acc.Push(op); err != nil {
				t.Fatalf("Push() failed: %v", err)
			}
		}
		if err := c.Execute(ctx, acc.Operation()); err != nil {
			t.Fatalf("Execute(%s) failed: %v", model.Kind(acc.Operation()), err)
		}
	})
}
