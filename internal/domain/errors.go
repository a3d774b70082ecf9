package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState indicates that a workflow is in a state that does not
	// permit the requested transition, or that its persisted fields describe
	// an impossible (step, payment) combination.
	ErrInvalidState = errors.New("invalid workflow state")

	// ErrNotAnXRay indicates that the classifier rejected the uploaded image.
	ErrNotAnXRay = errors.New("not an x-ray")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrPipelineFailed indicates that the AI analysis pipeline failed.
	ErrPipelineFailed = errors.New("analysis pipeline failed")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// InvalidStateError provides details about an illegal workflow transition or
// an impossible persisted state.
type InvalidStateError struct {
	WorkflowID string
	Step       WorkflowStep
	Message    string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("workflow %s in step %q: %s", e.WorkflowID, e.Step, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// ClassificationRejection indicates the LLM determined an uploaded image is
// not a valid X-ray. It is a user-input problem, not a system fault: nothing
// from the rejected attempt is persisted.
type ClassificationRejection struct {
	Reason     string
	Confidence float64
}

// Error implements the error interface.
func (e *ClassificationRejection) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("uploaded image is not an x-ray: %s", e.Reason)
	}
	return "uploaded image is not an x-ray"
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ClassificationRejection) Unwrap() error {
	return ErrNotAnXRay
}

// PipelineError indicates the admin-triggered analysis pipeline failed after
// approval. The failure is recorded on the workflow and re-thrown to the caller.
type PipelineError struct {
	WorkflowID string
	Stage      string
	Cause      error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("analysis pipeline failed for workflow %s at %s: %v", e.WorkflowID, e.Stage, e.Cause)
}

// Unwrap returns the underlying cause chained through the sentinel.
func (e *PipelineError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrPipelineFailed
}

// Is lets errors.Is match PipelineError against ErrPipelineFailed while still
// unwrapping to the cause.
func (e *PipelineError) Is(target error) bool {
	return target == ErrPipelineFailed
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}
