// Package services provides the application layer between transport handlers
// and the orchestration core.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidSortField  = errors.New("invalid sort field")
	ErrInvalidSortOrder  = errors.New("invalid sort order")
	ErrInvalidStatus     = errors.New("invalid workflow status")
	ErrEmptyOwnerID      = errors.New("owner ID cannot be empty")
	ErrWorkflowNil       = errors.New("workflow cannot be nil")
	ErrDefinitionInvalid = errors.New("invalid workflow definition")
	ErrTriggerInvalid    = errors.New("invalid trigger configuration")

	// Business logic conflicts (409 Conflict).
	ErrWorkflowNotDraft       = errors.New("workflow is not editable")
	ErrWorkflowNotActivatable = errors.New("workflow cannot be activated from its current status")
	ErrWorkflowArchived       = errors.New("workflow is archived")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrDefinitionInvalid) ||
		errors.Is(err, ErrTriggerInvalid)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowNotDraft) ||
		errors.Is(err, ErrWorkflowNotActivatable) ||
		errors.Is(err, ErrWorkflowArchived)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
