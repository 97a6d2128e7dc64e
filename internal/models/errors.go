package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the store, coordinator and transport layers.
var (
	// ErrOrderNotFound indicates an unknown order id or hash.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidState indicates a transition attempted from a state other
	// than the expected one (e.g. submit on an already-signed order).
	ErrInvalidState = errors.New("order in invalid state")

	// ErrOrderHashExists indicates a collision on the unique order hash.
	ErrOrderHashExists = errors.New("order hash already exists")
)

// ValidationError marks malformed or out-of-range client input.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Param, e.Reason)
}

// NewValidationError builds a ValidationError for a named parameter.
func NewValidationError(param, reason string) *ValidationError {
	return &ValidationError{Param: param, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
