// Package engine implements the sink's delivery loop.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// One goroutine (Run) owns the connection, the accumulator and the backoff
// state. Transports never touch them; they only feed the Queue.
//
// Message Processing Flow:
//  1. Transports enqueue raw NDJSON lines and close the Queue at end of stream
//  2. Run makes sure a connection is open before taking anything off the Queue
//  3. Each message is decoded into a model.Operation (malformed ones are skipped)
//  4. Without batching the operation is executed as is; with BatchSize > 0 it
//     is folded into a model.Accumulator which is flushed by size or interval
//  5. A failed execute closes the connection, backs off, reconnects and
//     retries the same operation
//
// Connection States:
//
//	Disconnected -> Connecting -> Connected
//	Connecting   -> Backoff(d) -> Connecting
//	Connected    -> Backoff(d) on execute failure
//	Backoff(d)   -> FatalStop when d exceeds Config.BackoffMax
//
// Delivery is at-least-once: a batch is cleared only after it was executed.
// Data errors (values that cannot be bound, malformed statements) are logged
// and the operation is dropped, since resending it cannot succeed.
package engine
