// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/guildhall/guildhall/pkg/schema"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest     = errors.New("invalid request")
	ErrGuildIDRequired    = errors.New("guild ID is required")
	ErrNameRequired       = errors.New("workflow name is required")
	ErrCommandNameInvalid = errors.New("command name is invalid")
	ErrCommandTypeInvalid = errors.New("command type is invalid")

	// ErrGraphInvalid marks graphs rejected by the graph validator (422 Unprocessable Entity).
	ErrGraphInvalid = errors.New("workflow graph is invalid")

	// Re-exported persistence errors so callers need a single import.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	ErrVersionConflict  = persistence.ErrVersionConflict
	ErrCommandNameTaken = persistence.ErrCommandNameTaken
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

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// GraphValidationError carries every violation the graph validator found.
type GraphValidationError struct {
	Result models.ValidationResult
}

func (e *GraphValidationError) Error() string {
	return fmt.Sprintf("%s: %d violation(s)", ErrGraphInvalid, len(e.Result.Errors))
}

func (e *GraphValidationError) Unwrap() error {
	return ErrGraphInvalid
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrGuildIDRequired) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrCommandNameInvalid) ||
		errors.Is(err, ErrCommandTypeInvalid) ||
		errors.Is(err, schema.ErrInvalidShape)
}

// IsGraphInvalid checks if an error carries graph violations (HTTP 422).
func IsGraphInvalid(err error) bool {
	return errors.Is(err, ErrGraphInvalid)
}

// IsConflictError checks if an error is a conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrCommandNameTaken)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}
