package engine

import (
	"errors"
	"fmt"
)

// FatalError stops the engine. It is returned by Run when reconnecting is no
// longer worthwhile or when the batching policy broke an accumulator
// invariant. The process should report it and exit.
type FatalError struct {
	// Reason is a short human-readable description.
	Reason string

	// Err is the underlying cause: the last connection error, or a
	// *model.ContractViolationError.
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fatal: %s", e.Reason)
	}
	return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
