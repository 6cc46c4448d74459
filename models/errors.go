package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is a transient remote failure; callers retry it.
	ErrUnavailable = errors.New("order store unavailable")
	// ErrNotFound means the order no longer exists remotely.
	ErrNotFound = errors.New("order not found")
)

// ValidationError is a caller-side contract violation. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// IsValidation -> true when err wraps a *ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
