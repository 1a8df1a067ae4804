package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlsink/internal/backoff"
	"github.com/roach88/sqlsink/internal/bind"
	"github.com/roach88/sqlsink/internal/model"
	"github.com/roach88/sqlsink/internal/store"
	"github.com/roach88/sqlsink/internal/testutil"
)

func insertRow(table string, id int) model.Operation {
	return model.Insert{Table: table, Values: []model.Value{
		{Column: "id", RawValue: fmt.Sprint(id), Type: model.Int},
		{Column: "name", RawValue: fmt.Sprintf("row-%d", id), Type: model.Text},
	}}
}

func upsertRow(table string, id int) model.Operation {
	return model.Upsert{Table: table, ConflictKey: "id", Values: []model.Value{
		{Column: "id", RawValue: fmt.Sprint(id), Type: model.Int},
		{Column: "name", RawValue: fmt.Sprintf("row-%d", id), Type: model.Text},
	}}
}

// recordingBackoff wraps a strategy and counts resets.
type recordingBackoff struct {
	backoff.Strategy
	mu     sync.Mutex
	resets int
}

func (r *recordingBackoff) Reset() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
	r.Strategy.Reset()
}

// transitions collects state changes reported by the hook.
type transitions struct {
	mu     sync.Mutex
	states []State
}

func (tr *transitions) hook(_, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.states = append(tr.states, to)
}

func (tr *transitions) list() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.states...)
}

type harness struct {
	engine  *Engine
	queue   *Queue
	backend *testutil.FakeBackend
	states  *transitions
}

func newHarness(t *testing.T, cfg Config, b backoff.Strategy) *harness {
	t.Helper()
	h := &harness{
		queue:   NewQueue(),
		backend: testutil.NewFakeBackend(),
		states:  &transitions{},
	}
	if b == nil {
		b = backoff.Fixed(time.Millisecond)
	}
	connector := func(ctx context.Context, url string) (Executor, error) {
		c, err := h.backend.Connect(ctx, url)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	h.engine = New(cfg, h.queue, b, WithConnector(connector), WithStateHook(h.states.hook))
	return h
}

func (h *harness) send(t *testing.T, ops ...model.Operation) {
	t.Helper()
	for _, op := range ops {
		require.NoError(t, h.queue.Enqueue(context.Background(), testutil.MustEncode(t, op)))
	}
}

// run runs the engine to completion and fails the test if it hangs.
func (h *harness) run(t *testing.T, ctx context.Context) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
		return nil
	}
}

func TestEngine_New_AppliesDefaults(t *testing.T) {
	e := New(Config{URL: "sqlite::memory:"}, NewQueue(), backoff.Fixed(0))

	assert.Equal(t, DefaultBackoffMax, e.cfg.BackoffMax)
	assert.Equal(t, DefaultBatchInterval, e.cfg.BatchInterval)
	assert.Equal(t, StateDisconnected, e.State())
}

func TestEngine_DeliversInOrder(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.send(t, insertRow("t", 1), upsertRow("t", 2), insertRow("u", 3))
	h.queue.Close()

	require.NoError(t, h.run(t, context.Background()))

	assert.Equal(t, []model.Operation{insertRow("t", 1), upsertRow("t", 2), insertRow("u", 3)}, h.backend.Executed())
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, h.states.list())
}

func TestEngine_SkipsMalformedMessages(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	require.NoError(t, h.queue.Enqueue(ctx, []byte("not json")))
	require.NoError(t, h.queue.Enqueue(ctx, []byte(`{"Delete":{"table":"t"}}`)))
	h.send(t, insertRow("t", 1))
	h.queue.Close()

	require.NoError(t, h.run(t, ctx))

	assert.Len(t, h.backend.Executed(), 1)
	assert.Equal(t, int64(3), h.engine.Received())
}

func TestEngine_ReconnectsWithBackoff(t *testing.T) {
	h := newHarness(t, Config{BackoffMax: time.Second}, nil)
	h.backend.FailConnects(2)
	h.send(t, insertRow("t", 1))
	h.queue.Close()

	require.NoError(t, h.run(t, context.Background()))

	assert.Equal(t, 3, h.backend.Connects())
	assert.Len(t, h.backend.Executed(), 1)
	assert.Equal(t, []State{
		StateConnecting, StateBackoff,
		StateConnecting, StateBackoff,
		StateConnecting, StateConnected,
		StateDisconnected,
	}, h.states.list())
}

func TestEngine_RetriesFailedOperationUnchangedAndResetsBackoff(t *testing.T) {
	b := &recordingBackoff{Strategy: backoff.NewFibonacci(time.Millisecond)}
	h := newHarness(t, Config{BackoffMax: time.Second}, b)
	h.backend.FailExecutes(3)
	h.send(t, insertRow("t", 7))
	h.queue.Close()

	require.NoError(t, h.run(t, context.Background()))

	assert.Equal(t, []model.Operation{insertRow("t", 7)}, h.backend.Executed())
	assert.Equal(t, 4, h.backend.Attempts())
	assert.Equal(t, 4, h.backend.Connects(), "each failed execute replaces the connection")
	assert.Equal(t, time.Millisecond, b.Next(), "backoff should be back at its minimum")
	assert.Positive(t, b.resets)
}

func TestEngine_FatalWhenBackoffExceedsCeiling(t *testing.T) {
	h := newHarness(t, Config{BackoffMax: 30 * time.Millisecond}, backoff.NewFibonacci(10*time.Millisecond))
	h.backend.SetDown(true)
	h.send(t, insertRow("t", 1))

	err := h.run(t, context.Background())

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, testutil.ErrUnavailable)
	assert.Equal(t, StateFatalStop, h.engine.State())
	// 10, 20, 30 are slept; 50 is over the ceiling
	assert.Equal(t, 4, h.backend.Connects())
	assert.Equal(t, int64(0), h.engine.Received(), "queue must not be consumed while disconnected")
	assert.Equal(t, 1, h.queue.Len())
	assert.Equal(t, int64(0), h.engine.Pending())
}

func TestEngine_PersistentRejectionIsFatal(t *testing.T) {
	rejected := errors.New("UNIQUE constraint failed: t.id")
	b := &recordingBackoff{Strategy: backoff.NewFibonacci(10 * time.Millisecond)}
	h := newHarness(t, Config{BackoffMax: 30 * time.Millisecond}, b)
	h.backend.RejectWith(func(model.Operation) error { return rejected })
	h.send(t, insertRow("t", 1), insertRow("t", 2))
	h.queue.Close()

	err := h.run(t, context.Background())

	require.Error(t, err)
	assert.True(t, IsFatal(err), "a backend that keeps rejecting must end in a fatal stop, got %v", err)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, StateFatalStop, h.engine.State())
	// Reconnecting does not rewind the backoff: 10, 20, 30 are slept, 50 is
	// over the ceiling.
	assert.Equal(t, 4, h.backend.Attempts())
	assert.Equal(t, 4, h.backend.Connects())
	assert.Equal(t, 1, b.resets, "only the first connect may reset the backoff")
	assert.Empty(t, h.backend.Executed())
	assert.Equal(t, int64(1), h.engine.Received())
	assert.Equal(t, int64(1), h.engine.Pending())
	assert.Equal(t, 1, h.queue.Len())
}

func TestEngine_DroppedOperationResetsBackoff(t *testing.T) {
	b := &recordingBackoff{Strategy: backoff.NewFibonacci(time.Millisecond)}
	h := newHarness(t, Config{BackoffMax: time.Second}, b)
	h.backend.RejectWith(func(op model.Operation) error {
		if model.Table(op) == "bad" {
			return &bind.ConversionError{Column: "id", Type: model.Int, RawValue: "x"}
		}
		return nil
	})
	h.backend.FailExecutes(2)
	h.send(t, insertRow("bad", 1), insertRow("t", 2))
	h.queue.Close()

	require.NoError(t, h.run(t, context.Background()))

	// Two transient failures on the first message, then it is dropped.
	assert.Equal(t, []model.Operation{insertRow("t", 2)}, h.backend.Executed())
	assert.Equal(t, 4, h.backend.Attempts())
	assert.Equal(t, time.Millisecond, b.Next(), "backoff should be back at its minimum")
}

func TestEngine_FatalKeepsOpenBatchPending(t *testing.T) {
	h := newHarness(t, Config{BackoffMax: 5 * time.Millisecond, BatchSize: 10, BatchInterval: time.Hour},
		backoff.NewFibonacci(5*time.Millisecond))
	h.backend.RejectWith(func(model.Operation) error { return errors.New("disk full") })
	h.send(t, insertRow("t", 1), insertRow("t", 2), insertRow("t", 3))
	h.queue.Close()

	err := h.run(t, context.Background())

	require.True(t, IsFatal(err), "got %v", err)
	assert.Equal(t, int64(3), h.engine.Pending(), "the unwritten batch is reported")
	assert.Equal(t, 0, h.queue.Len())
}

func TestEngine_DataErrorDropsOperationWithoutReconnect(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.backend.RejectWith(func(op model.Operation) error {
		if model.Table(op) == "bad" {
			return &bind.ConversionError{Column: "id", Type: model.Int, RawValue: "x"}
		}
		return nil
	})
	h.send(t, insertRow("t", 1), insertRow("bad", 2), insertRow("t", 3))
	h.queue.Close()

	require.NoError(t, h.run(t, context.Background()))

	assert.Equal(t, []model.Operation{insertRow("t", 1), insertRow("t", 3)}, h.backend.Executed())
	assert.Equal(t, 1, h.backend.Connects())
}

func TestEngine_BatchFlushBySize(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 3, BatchInterval: time.Hour}, nil)
	for i := range 7 {
		h.send(t, insertRow("t", i))
	}
	h.queue.Close()

	require.NoError(t, h.run(t, context.Background()))

	ops := h.backend.Executed()
	require.Len(t, ops, 3)
	assert.IsType(t, model.BatchInsert{}, ops[0])
	assert.Equal(t, 3, ops[0].Len())
	assert.Equal(t, 3, ops[1].Len())
	assert.Equal(t, insertRow("t", 6), ops[2], "remainder is flushed at end of stream")
}

func TestEngine_BatchFlushByInterval(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 100, BatchInterval: 20 * time.Millisecond}, nil)
	h.send(t, insertRow("t", 1), insertRow("t", 2))

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background()) }()

	require.Eventually(t, func() bool { return h.backend.Rows() == 2 }, 2*time.Second, 5*time.Millisecond)

	h.queue.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, 2, h.backend.Rows())
}

func TestEngine_BatchFlushesBeforeIncompatibleOperation(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 10, BatchInterval: time.Hour}, nil)
	h.send(t,
		insertRow("t", 1), insertRow("t", 2),
		upsertRow("t", 3), upsertRow("t", 4),
		insertRow("u", 5),
	)
	h.queue.Close()

	require.NoError(t, h.run(t, context.Background()))

	ops := h.backend.Executed()
	require.Len(t, ops, 3)
	assert.Equal(t, "batch_insert", model.Kind(ops[0]))
	assert.Equal(t, "batch_upsert", model.Kind(ops[1]))
	assert.Equal(t, insertRow("u", 5), ops[2])
}

func TestEngine_FailedBatchIsRetriedWhole(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2, BatchInterval: time.Hour}, nil)
	h.backend.FailExecutes(1)
	h.send(t, insertRow("t", 1), insertRow("t", 2))
	h.queue.Close()

	require.NoError(t, h.run(t, context.Background()))

	ops := h.backend.Executed()
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].Len())
	assert.Equal(t, 2, h.backend.Attempts())
}

func TestEngine_DataErrorDropsWholeBatch(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2, BatchInterval: time.Hour}, nil)
	h.backend.RejectWith(func(op model.Operation) error {
		if op.Len() == 2 {
			return &bind.ConversionError{Column: "id", Type: model.Int, RawValue: "x"}
		}
		return nil
	})
	h.send(t, insertRow("t", 1), insertRow("t", 2), insertRow("t", 3))
	h.queue.Close()

	require.NoError(t, h.run(t, context.Background()))

	assert.Equal(t, []model.Operation{insertRow("t", 3)}, h.backend.Executed())
}

func TestEngine_StopsOnContextCancel(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.send(t, insertRow("t", 1))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := h.run(t, ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsFatal(err))
	assert.Len(t, h.backend.Executed(), 1)
	assert.Equal(t, StateDisconnected, h.engine.State())
}

func TestEngine_StopsOnContextCancelDuringBackoff(t *testing.T) {
	h := newHarness(t, Config{BackoffMax: time.Hour}, backoff.Fixed(time.Minute))
	h.backend.SetDown(true)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := h.run(t, ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.backend.Connects())
}

func TestEngine_EndToEndSQLite(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "sink.db")

	setup, err := store.Connect(context.Background(), url)
	require.NoError(t, err)
	_, err = setup.DB().Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	require.NoError(t, setup.Close())

	q := NewQueue()
	e := New(Config{URL: url, BatchSize: 4, BatchInterval: time.Hour}, q, backoff.Fixed(time.Millisecond))

	ctx := context.Background()
	for i := range 10 {
		require.NoError(t, q.Enqueue(ctx, testutil.MustEncode(t, insertRow("t", i))))
	}
	for i := range 10 {
		require.NoError(t, q.Enqueue(ctx, testutil.MustEncode(t, upsertRow("t", i))))
	}
	q.Close()

	require.NoError(t, e.Run(context.Background()))

	check, err := store.Connect(context.Background(), url)
	require.NoError(t, err)
	defer check.Close()

	var count int
	require.NoError(t, check.DB().QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 10, count)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "fatal_stop", StateFatalStop.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestFatalError(t *testing.T) {
	cause := &model.ContractViolationError{State: "insert", Incoming: "upsert", Reason: "mixed"}
	err := fmt.Errorf("run: %w", &FatalError{Reason: "invalid batch", Err: cause})

	assert.True(t, IsFatal(err))
	assert.True(t, model.IsContractViolation(err))
	assert.Contains(t, err.Error(), "fatal: invalid batch")
	assert.False(t, IsFatal(cause))
}
