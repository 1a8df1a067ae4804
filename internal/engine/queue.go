package engine

import (
	"context"
	"errors"
	"sync"
)

// DefaultQueueCapacity is the capacity used by NewQueue.
const DefaultQueueCapacity = 1024

// ErrQueueClosed is returned by Enqueue once the queue has been closed.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a thread-safe bounded FIFO of raw inbound messages.
//
// Enqueue blocks while the queue is full, so a transport stops reading when
// the backend is slow or unreachable. Transports call Enqueue and Close from
// their own goroutine; only the Engine's Run loop dequeues.
//
// The queue uses channels for signaling to enable context-aware waiting on
// both sides.
type Queue struct {
	mu       sync.Mutex
	messages [][]byte
	capacity int
	closed   bool
	signal   chan struct{} // Signals message availability (buffered, size 1)
	space    chan struct{} // Signals free capacity (buffered, size 1)
	done     chan struct{} // Closed by Close
}

// NewQueue creates an empty queue holding up to DefaultQueueCapacity
// messages.
func NewQueue() *Queue {
	return NewQueueSize(DefaultQueueCapacity)
}

// NewQueueSize creates an empty queue holding up to capacity messages.
// A capacity below one is treated as one.
func NewQueueSize(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		messages: make([][]byte, 0, min(capacity, 64)),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Enqueue adds a message to the back of the queue, blocking while the queue
// is full. It returns ErrQueueClosed if the queue is or becomes closed, and
// ctx.Err() if ctx ends first; the message is not queued in either case.
func (q *Queue) Enqueue(ctx context.Context, msg []byte) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if len(q.messages) < q.capacity {
			q.messages = append(q.messages, msg)
			notify(q.signal)
			// Hand the remaining room on to the next blocked producer.
			if len(q.messages) < q.capacity {
				notify(q.space)
			}
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrQueueClosed
		case <-q.space:
		}
	}
}

// notify performs a non-blocking send: the buffer of 1 coalesces signals.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// TryDequeue attempts to dequeue without blocking.
// Returns (nil, false) if the queue is empty.
func (q *Queue) TryDequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil, false
	}

	msg := q.messages[0]

	// Nil out the slot so the backing array does not pin the payload.
	q.messages[0] = nil

	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}

	notify(q.space)
	return msg, true
}

// Wait returns a channel that signals when messages may be available.
// The channel is closed once the queue is closed. Use with select:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Drained reports whether the queue is closed and empty, i.e. the end of the
// stream has been reached.
func (q *Queue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.messages) == 0
}

// Close signals that no more messages will be enqueued and releases blocked
// producers. Messages already queued remain available to TryDequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
	close(q.done)
}
