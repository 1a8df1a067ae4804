package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/sqlsink/internal/model"
)

// createTestConn opens a file-backed SQLite connection for testing.
func createTestConn(t *testing.T) *Conn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	c, err := Connect(context.Background(), "sqlite://"+path)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// mustExec runs DDL or fixture statements directly.
func mustExec(t *testing.T, c *Conn, query string) {
	t.Helper()
	if _, err := c.db.Exec(query); err != nil {
		t.Fatalf("exec %q failed: %v", query, err)
	}
}

// createTestRow builds a (id, a, b) row where a = id and b = id + shift.
func createTestRow(id, shift int) []model.Value {
	return []model.Value{
		{Column: "id", RawValue: fmt.Sprint(id), Type: model.Int},
		{Column: "a", RawValue: fmt.Sprint(id), Type: model.BigInt},
		{Column: "b", RawValue: fmt.Sprint(id + shift), Type: model.SmallInt},
	}
}

type testRow struct {
	ID, A, B int64
}

// readTestRows returns all rows of table ordered by id.
func readTestRows(t *testing.T, c *Conn, table string) []testRow {
	t.Helper()
	rows, err := c.db.Query(fmt.Sprintf("SELECT id, a, b FROM %s ORDER BY id", table))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	var out []testRow
	for rows.Next() {
		var r testRow
		if err := rows.Scan(&r.ID, &r.A, &r.B); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows failed: %v", err)
	}
	return out
}
