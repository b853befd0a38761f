package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthorized is returned when an identity is not bound to the claimed fleet code.
	// The message is deliberately the same for unknown identities and wrong codes.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrFleetCodeNotFound is returned when no fleet device owns the connection code
	ErrFleetCodeNotFound = errors.New("invalid connection code")

	// ErrTakeoverRejected is returned when takeover is disabled and the code is bound to another identity
	ErrTakeoverRejected = errors.New("connection code is already in use by another driver")
)

// ValidationError is a client-fixable input problem, reported before any write
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
