// Package services implements the persistence layer: tenants, tasks, runs,
// steps and audit events over the shared pgx pool. Run status transitions
// are compare-and-set so terminal states stay absorbing under concurrent
// writers.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition is returned when a run status change conflicts
	// with the current status (terminal states are absorbing)
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrBudgetExceeded is returned when a tenant's monthly token budget
	// cannot cover the requested run budget
	ErrBudgetExceeded = errors.New("tenant token budget exceeded")

	// ErrTaskInactive is returned when a run targets a deactivated task
	ErrTaskInactive = errors.New("task is not active")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
