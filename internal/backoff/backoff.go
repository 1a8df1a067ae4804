// Package backoff provides the delay strategies used between reconnect
// attempts.
//
// A Strategy is owned by a single goroutine. Next returns the delay to wait
// before the next attempt and advances the sequence; Reset rewinds it after a
// successful connection.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"time"

	expbackoff "github.com/cenkalti/backoff/v4"
	retry "github.com/sethvargo/go-retry"
)

// Strategy names accepted by New.
const (
	StrategyFibonacci   = "fibonacci"
	StrategyExponential = "exponential"
)

// ErrUnknownStrategy is returned by New for an unrecognised strategy name.
var ErrUnknownStrategy = errors.New("unknown backoff strategy")

// Strategy produces a growing sequence of delays.
type Strategy interface {
	Next() time.Duration
	Reset()
}

// New returns the named strategy starting at min.
// factor is only used by the exponential strategy.
func New(name string, min time.Duration, factor float64) (Strategy, error) {
	if min <= 0 {
		return nil, fmt.Errorf("backoff minimum must be positive, got %s", min)
	}

	switch name {
	case "", StrategyFibonacci:
		return NewFibonacci(min), nil
	case StrategyExponential:
		if factor <= 1 {
			return nil, fmt.Errorf("exponential backoff factor must be > 1, got %g", factor)
		}
		return NewExponential(min, factor), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Fibonacci yields min, 2*min, 3*min, 5*min, 8*min, ...
type Fibonacci struct {
	min time.Duration
	seq retry.Backoff
}

// NewFibonacci creates a Fibonacci strategy with unit min.
func NewFibonacci(min time.Duration) *Fibonacci {
	f := &Fibonacci{min: min}
	f.Reset()
	return f
}

// Next returns the current delay and advances the sequence.
// Once the sequence overflows it stays at math.MaxInt64.
func (f *Fibonacci) Next() time.Duration {
	d, stop := f.seq.Next()
	if stop || d <= 0 {
		return math.MaxInt64
	}
	return d
}

// Reset rewinds the sequence to its first element.
func (f *Fibonacci) Reset() {
	f.seq = retry.NewFibonacci(f.min)
}

// Exponential yields min, min*factor, min*factor^2, ... without jitter.
type Exponential struct {
	b *expbackoff.ExponentialBackOff
}

// NewExponential creates an Exponential strategy.
func NewExponential(min time.Duration, factor float64) *Exponential {
	b := expbackoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.Multiplier = factor
	b.RandomizationFactor = 0
	b.MaxInterval = math.MaxInt64
	b.MaxElapsedTime = 0 // never give up; the engine owns the ceiling
	b.Reset()
	return &Exponential{b: b}
}

// Next returns the current delay and advances the sequence.
func (e *Exponential) Next() time.Duration {
	d := e.b.NextBackOff()
	if d == expbackoff.Stop || d < 0 {
		return math.MaxInt64
	}
	return d
}

// Reset rewinds the sequence to min.
func (e *Exponential) Reset() {
	e.b.Reset()
}

// Fixed always yields the same delay. Useful in tests.
type Fixed time.Duration

// Next returns the fixed delay.
func (f Fixed) Next() time.Duration { return time.Duration(f) }

// Reset is a no-op.
func (Fixed) Reset() {}
