package model

import (
	"errors"
	"fmt"
)

// ContractViolationError reports an Accumulator transition that the caller
// must never request, such as pushing an Upsert into an Insert batch.
// It signals a bug in the batching policy and is treated as fatal.
type ContractViolationError struct {
	State    string // Kind of the accumulated operation
	Incoming string // Kind of the pushed operation
	Reason   string
}

// Error implements the error interface.
func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("accumulator contract violation: cannot push %s into %s: %s",
		e.Incoming, e.State, e.Reason)
}

// IsContractViolation returns true if err is or wraps a ContractViolationError.
func IsContractViolation(err error) bool {
	var cv *ContractViolationError
	return errors.As(err, &cv)
}
