package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidIssue    = errors.New("invalid issue")
	ErrMissingField    = errors.New("missing field")
	ErrSchemaViolation = errors.New("schema violation")
	ErrUpstream        = errors.New("upstream unavailable")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// NotFoundError names the missing entity and unwraps to ErrNotFound.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
