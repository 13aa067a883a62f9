package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError rejects malformed input before any mutation. The
// caller is expected to retry with corrected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for the given field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError anywhere in
// its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
