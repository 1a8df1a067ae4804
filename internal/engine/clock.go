package engine

import "sync/atomic"

// Clock numbers inbound messages in arrival order.
//
// The sequence number is attached to every log line about a message so a
// skipped or dropped record can be located in the input stream. It carries
// no ordering semantics beyond that.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
