package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/sqlsink/internal/backoff"
	"github.com/roach88/sqlsink/internal/engine"
	"github.com/roach88/sqlsink/internal/model"
	"github.com/roach88/sqlsink/internal/querysql"
	"github.com/roach88/sqlsink/internal/store"
)

// errInjected is returned for executes failed on purpose by FailExecutes.
var errInjected = errors.New("injected connection failure")

// Backoff parameters keep scenarios fast while still crossing the ceiling
// within a few retries: 1, 2, 3, 5, 8 and 13ms are slept, 21ms is fatal.
const (
	backoffMin = time.Millisecond
	backoffMax = 20 * time.Millisecond
)

// Run executes a test scenario and returns the result.
//
// Each scenario gets its own database connection; with the default URL that
// is a fresh in-memory SQLite database. Execution flow:
//  1. Connect and run the setup statements
//  2. Stream the flow through the engine until end of stream
//  3. Dump every written table
//  4. Evaluate assertions
//
// A fatal engine stop is reported as a failed result, not as an error.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	url := scenario.URL
	if url == "" {
		url = DefaultURL
	}

	conn, err := store.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	for i, stmt := range scenario.Setup {
		if _, err := conn.DB().ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	msgs, err := scenario.Messages()
	if err != nil {
		return nil, err
	}
	q := engine.NewQueueSize(len(msgs))
	for _, m := range msgs {
		if err := q.Enqueue(ctx, m); err != nil {
			return nil, err
		}
	}
	q.Close()

	result := NewResult()
	rec := &recorder{
		conn:     conn,
		compiler: querysql.NewSQLCompiler(conn.Dialect()),
		result:   result,
		failures: scenario.FailExecutes,
	}

	eng := engine.New(engine.Config{
		URL:        url,
		BackoffMax: backoffMax,
		BatchSize:  scenario.BatchSize,
		// Batches flush by size or at end of stream only, so traces are
		// deterministic.
		BatchInterval: time.Hour,
	}, q, backoff.NewFibonacci(backoffMin), engine.WithConnector(rec.connect))

	if err := eng.Run(ctx); err != nil {
		if !engine.IsFatal(err) {
			return nil, fmt.Errorf("engine: %w", err)
		}
		result.AddError(err.Error())
	}
	result.Received = eng.Received()

	for _, table := range scenario.Tables() {
		rows, err := dumpTable(ctx, conn.DB(), table)
		if err != nil {
			return nil, fmt.Errorf("dump %s: %w", table, err)
		}
		result.State[table] = rows
	}

	actx := &AssertionContext{Conn: conn, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// recorder is the engine's Executor. It shares one connection across
// reconnects, records every attempt and injects failures.
type recorder struct {
	conn     *store.Conn
	compiler *querysql.SQLCompiler
	result   *Result
	failures int
	seq      int64
}

func (r *recorder) connect(context.Context, string) (engine.Executor, error) {
	return r, nil
}

func (r *recorder) Execute(ctx context.Context, op model.Operation) error {
	r.seq++
	event := TraceEvent{
		Seq:   r.seq,
		Kind:  model.Kind(op),
		Table: model.Table(op),
		Rows:  op.Len(),
	}
	if stmt, err := r.compiler.Compile(op); err == nil {
		event.SQL = stmt.SQL
	}

	var err error
	if r.failures > 0 {
		r.failures--
		err = errInjected
	} else {
		err = r.conn.Execute(ctx, op)
	}

	switch {
	case err == nil:
		event.Outcome = OutcomeOK
	case errors.Is(err, errInjected):
		event.Outcome = OutcomeRetried
	case store.IsDataError(err):
		event.Outcome = OutcomeDropped
	default:
		event.Outcome = OutcomeFailed
	}
	r.result.Trace = append(r.result.Trace, event)
	return err
}

// Close is a no-op; the connection outlives engine reconnects.
func (r *recorder) Close() error { return nil }

func (r *recorder) Kind() string { return r.conn.Kind() }

// dumpTable reads every row of table ordered by its first column.
func dumpTable(ctx context.Context, db *sql.DB, table string) ([]map[string]any, error) {
	if !validIdentifier.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY 1", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// scanRow scans the current row into a column map with normalized values.
func scanRow(rows *sql.Rows) (map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col] = normalize(values[i])
	}
	return row, nil
}

// normalize maps driver values onto JSON-friendly ones.
func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	case int8:
		return int64(val)
	default:
		return val
	}
}
