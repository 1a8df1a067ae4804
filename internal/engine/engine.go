package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/sqlsink/internal/backoff"
	"github.com/roach88/sqlsink/internal/model"
	"github.com/roach88/sqlsink/internal/store"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultBackoffMax    = 1000 * time.Second
	DefaultBatchInterval = time.Second
)

// Executor runs operations against one open backend connection.
// *store.Conn implements it.
type Executor interface {
	Execute(ctx context.Context, op model.Operation) error
	Close() error
}

// Connector opens a new Executor for url.
type Connector func(ctx context.Context, url string) (Executor, error)

// Config holds the engine parameters.
type Config struct {
	// URL is passed to the Connector. It may carry credentials and is
	// never logged.
	URL string

	// BackoffMax is the ceiling: a backoff delay above it is fatal.
	BackoffMax time.Duration

	// BatchSize enables the batching window when > 0.
	BatchSize int

	// BatchInterval is the time after which a non-empty batch is flushed
	// regardless of its size.
	BatchInterval time.Duration
}

// Engine is the single-writer delivery loop.
//
// It pulls raw messages from a Queue, decodes them into operations,
// optionally folds them into batches and executes them over a connection it
// keeps alive with backoff and reconnect.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine
//   - State(): safe from any goroutine
//   - the Queue is fed from any goroutine
type Engine struct {
	cfg         Config
	queue       *Queue
	backoff     backoff.Strategy
	connect     Connector
	isDataError func(error) bool
	onState     func(from, to State)

	state   atomic.Int32
	seq     *Clock
	pending atomic.Int64 // decoded but not yet written or dropped

	// Owned by the Run goroutine.
	conn Executor
	acc  *model.Accumulator

	// retrying is set from a failed execute until the operation goes
	// through or is dropped. Reconnects keep the backoff growing meanwhile.
	retrying bool
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithConnector replaces the default store-backed connector.
func WithConnector(c Connector) Option {
	return func(e *Engine) {
		e.connect = c
	}
}

// WithStateHook registers fn to be called on every state transition.
// fn runs on the Run goroutine and must not block.
func WithStateHook(fn func(from, to State)) Option {
	return func(e *Engine) {
		e.onState = fn
	}
}

// New creates an Engine reading from q and delaying reconnects with b.
func New(cfg Config, q *Queue, b backoff.Strategy, opts ...Option) *Engine {
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = DefaultBatchInterval
	}

	e := &Engine{
		cfg:         cfg,
		queue:       q,
		backoff:     b,
		connect:     connectStore,
		isDataError: store.IsDataError,
		seq:         NewClock(),
		acc:         model.NewAccumulator(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// connectStore is the default Connector.
func connectStore(ctx context.Context, url string) (Executor, error) {
	c, err := store.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the current connection state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Received returns the number of messages taken from the queue so far.
func (e *Engine) Received() int64 {
	return e.seq.Current()
}

// Pending returns the number of messages taken from the queue that have
// been neither written nor dropped: the operation being delivered or the
// messages folded into the open batch. After a fatal stop these were never
// written.
func (e *Engine) Pending() int64 {
	return e.pending.Load()
}

func (e *Engine) setState(to State) {
	from := State(e.state.Swap(int32(to)))
	if from == to {
		return
	}
	slog.Debug("state change", "from", from.String(), "to", to.String())
	if e.onState != nil {
		e.onState(from, to)
	}
}

// Run delivers messages until the queue is closed and drained, a fatal
// error occurs or ctx is cancelled.
//
// The queue is only consumed while connected. Cancellation is observed while
// waiting for messages, for the batch interval or during a backoff sleep;
// a statement already sent always runs to completion.
//
// Returns nil at end of stream once everything accumulated has been
// delivered, a *FatalError, or ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"batch_size", e.cfg.BatchSize,
		"batch_interval", e.cfg.BatchInterval,
		"backoff_max", e.cfg.BackoffMax,
	)
	defer func() {
		e.disconnect()
		if e.State() != StateFatalStop {
			e.setState(StateDisconnected)
		}
	}()

	var err error
	if e.cfg.BatchSize > 0 {
		err = e.runBatched(ctx)
	} else {
		err = e.runSingle(ctx)
	}

	switch {
	case err == nil:
		slog.Info("engine stopping: end of stream", "received", e.Received())
	case IsFatal(err):
		e.setState(StateFatalStop)
		slog.Error("engine stopped",
			"error", err,
			"received", e.Received(),
			"pending", e.Pending(),
			"queued", e.queue.Len(),
		)
	default:
		slog.Info("engine stopping: context cancelled")
	}
	return err
}

// runSingle executes every decoded operation on its own.
func (e *Engine) runSingle(ctx context.Context) error {
	for {
		if err := e.ensureConnected(ctx); err != nil {
			return err
		}

		msg, ok, err := e.next(ctx, nil)
		if err != nil {
			return err
		}
		if !ok {
			if e.queue.Drained() {
				return nil
			}
			continue
		}

		op, ok := e.decode(msg)
		if !ok {
			continue
		}
		e.pending.Store(1)
		if err := e.deliver(ctx, op); err != nil {
			return err
		}
		e.pending.Store(0)
	}
}

// runBatched races inbound messages against the batch interval.
func (e *Engine) runBatched(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		if err := e.ensureConnected(ctx); err != nil {
			return err
		}

		msg, ok, err := e.next(ctx, ticker.C)
		if err != nil {
			return err
		}
		if !ok {
			if e.queue.Drained() {
				return e.flush(ctx)
			}
			// interval elapsed
			if err := e.flush(ctx); err != nil {
				return err
			}
			continue
		}

		op, ok := e.decode(msg)
		if !ok {
			continue
		}
		if err := e.accumulate(ctx, op); err != nil {
			return err
		}
	}
}

// next returns the next message. It returns ok=false without error when the
// stream has ended or tick fired first.
func (e *Engine) next(ctx context.Context, tick <-chan time.Time) ([]byte, bool, error) {
	for {
		// A due tick wins over a busy queue so a steady stream cannot
		// starve the interval flush.
		select {
		case <-tick:
			return nil, false, nil
		default:
		}

		if msg, ok := e.queue.TryDequeue(); ok {
			return msg, true, nil
		}
		if e.queue.Drained() {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-tick:
			return nil, false, nil
		case <-e.queue.Wait():
		}
	}
}

// decode parses one message, logging and skipping it when malformed.
func (e *Engine) decode(msg []byte) (model.Operation, bool) {
	seq := e.seq.Next()
	op, err := model.DecodeOperation(msg)
	if err != nil {
		slog.Warn("skipping malformed message", "seq", seq, "error", err)
		return nil, false
	}
	slog.Debug("received", "seq", seq, "kind", model.Kind(op), "table", model.Table(op))
	return op, true
}

// accumulate pushes op into the batch, flushing first when op cannot join it
// and afterwards when the batch is full.
func (e *Engine) accumulate(ctx context.Context, op model.Operation) error {
	if !e.acc.Accepts(op) {
		if err := e.flush(ctx); err != nil {
			return err
		}
	}

	if err := e.acc.Push(op); err != nil {
		return &FatalError{Reason: "invalid batch", Err: err}
	}
	e.pending.Add(1)

	if e.acc.Len() >= e.cfg.BatchSize {
		return e.flush(ctx)
	}
	return nil
}

// flush delivers the accumulated operation and clears the accumulator.
// A batch that cannot be delivered yet stays in place.
func (e *Engine) flush(ctx context.Context) error {
	if e.acc.IsEmpty() {
		return nil
	}
	if err := e.deliver(ctx, e.acc.Operation()); err != nil {
		return err
	}
	e.acc.Clear()
	e.pending.Store(0)
	return nil
}

// deliver executes op, reconnecting and retrying on backend failures until
// it succeeds, turns out to be a data error, or the backoff ceiling is
// reached. A data error drops op and returns nil.
//
// The backoff is only reset once op has gone through or been dropped.
func (e *Engine) deliver(ctx context.Context, op model.Operation) error {
	for {
		if err := e.ensureConnected(ctx); err != nil {
			return err
		}

		err := e.conn.Execute(context.WithoutCancel(ctx), op)
		if err == nil {
			e.settle()
			return nil
		}

		if e.isDataError(err) {
			e.settle()
			slog.Error("dropping operation",
				"kind", model.Kind(op),
				"table", model.Table(op),
				"rows", op.Len(),
				"error", err,
			)
			return nil
		}

		e.retrying = true
		e.disconnect()
		if err := e.wait(ctx, fmt.Errorf("execute %s: %w", model.Kind(op), err)); err != nil {
			return err
		}
	}
}

// settle ends a retry sequence once the backend has answered op.
func (e *Engine) settle() {
	e.retrying = false
	e.backoff.Reset()
}

// ensureConnected returns once a connection is open, backing off between
// failed attempts.
func (e *Engine) ensureConnected(ctx context.Context) error {
	for e.conn == nil {
		e.setState(StateConnecting)

		conn, err := e.connect(ctx, e.cfg.URL)
		if err == nil {
			e.conn = conn
			if !e.retrying {
				e.backoff.Reset()
			}
			e.setState(StateConnected)
			if k, ok := conn.(interface{ Kind() string }); ok {
				slog.Info("connected to database", "kind", k.Kind())
			}
			return nil
		}

		if err := e.wait(ctx, fmt.Errorf("connect: %w", err)); err != nil {
			return err
		}
	}
	return nil
}

// wait sleeps for the next backoff delay. It returns a *FatalError when the
// delay exceeds the ceiling.
func (e *Engine) wait(ctx context.Context, cause error) error {
	d := e.backoff.Next()
	if d > e.cfg.BackoffMax {
		return &FatalError{
			Reason: fmt.Sprintf("next backoff %s exceeds maximum %s", d, e.cfg.BackoffMax),
			Err:    cause,
		}
	}

	e.setState(StateBackoff)
	slog.Warn("database unavailable", "error", cause, "retry_in", d)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// disconnect closes and forgets the current connection.
func (e *Engine) disconnect() {
	if e.conn == nil {
		return
	}
	if err := e.conn.Close(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("close failed", "error", err)
	}
	e.conn = nil
}
