// Package testutil provides in-memory test doubles for the delivery engine.
package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/roach88/sqlsink/internal/model"
)

// ErrUnavailable is returned by a FakeBackend that is down.
var ErrUnavailable = errors.New("backend unavailable")

// FakeBackend is a scriptable in-memory database.
//
// It records every successfully executed operation and can be taken down,
// made to fail a number of connects or executes, or reject operations with a
// caller-chosen error.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeBackend struct {
	mu           sync.Mutex
	down         bool
	failConnects int
	failExecutes int
	reject       func(model.Operation) error
	connects     int
	attempts     int
	executed     []model.Operation
}

// NewFakeBackend creates a backend that is up and accepts everything.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

// SetDown makes every connect and execute fail until called with false.
func (b *FakeBackend) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// FailConnects makes the next n connects fail.
func (b *FakeBackend) FailConnects(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failConnects = n
}

// FailExecutes makes the next n executes fail as if the connection died.
func (b *FakeBackend) FailExecutes(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failExecutes = n
}

// RejectWith installs fn; a non-nil result is returned from Execute and the
// operation is not recorded.
func (b *FakeBackend) RejectWith(fn func(model.Operation) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject = fn
}

// Connect opens a FakeConn.
func (b *FakeBackend) Connect(ctx context.Context, _ string) (*FakeConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.connects++
	if b.down {
		return nil, ErrUnavailable
	}
	if b.failConnects > 0 {
		b.failConnects--
		return nil, ErrUnavailable
	}
	return &FakeConn{backend: b}, nil
}

// Connects returns the number of connect attempts.
func (b *FakeBackend) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Attempts returns the number of execute attempts, successful or not.
func (b *FakeBackend) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Executed returns a copy of the successfully executed operations.
func (b *FakeBackend) Executed() []model.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Operation, len(b.executed))
	copy(out, b.executed)
	return out
}

// Rows returns the total number of rows written.
func (b *FakeBackend) Rows() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, op := range b.executed {
		n += op.Len()
	}
	return n
}

// FakeConn is one connection to a FakeBackend.
type FakeConn struct {
	backend *FakeBackend
	closed  bool
}

// Execute records op unless the backend is scripted to fail.
func (c *FakeConn) Execute(_ context.Context, op model.Operation) error {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	if c.closed {
		return errors.New("connection closed")
	}
	if b.down {
		return ErrUnavailable
	}
	if b.failExecutes > 0 {
		b.failExecutes--
		return ErrUnavailable
	}
	if b.reject != nil {
		if err := b.reject(op); err != nil {
			return err
		}
	}

	b.executed = append(b.executed, op)
	return nil
}

// Close marks the connection closed.
func (c *FakeConn) Close() error {
	c.closed = true
	return nil
}

// Kind identifies the backend in logs.
func (c *FakeConn) Kind() string {
	return "fake"
}

// MustEncode returns the wire form of op.
func MustEncode(t testing.TB, op model.Operation) []byte {
	t.Helper()
	data, err := model.EncodeOperation(op)
	if err != nil {
		t.Fatalf("encode %s: %v", model.Kind(op), err)
	}
	return data
}
