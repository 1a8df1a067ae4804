package bind

import (
	"errors"
	"fmt"

	"github.com/roach88/sqlsink/internal/model"
)

// ConversionError reports a raw value that does not parse as its declared type.
// It is a data error, not a connection error: retrying the same value cannot
// succeed.
type ConversionError struct {
	Column   string
	Type     model.TypeTag
	RawValue string
	Err      error
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert column %q value %q to %s: %v", e.Column, e.RawValue, e.Type, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// IsConversionError returns true if err is or wraps a ConversionError.
func IsConversionError(err error) bool {
	var ce *ConversionError
	return errors.As(err, &ce)
}
