package core

import (
	"fmt"
)

// Error is the canonical error type used across the orchestrator.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrValidation is bad input. Non-retryable, surfaced to the caller.
	ErrValidation ErrorType = "validation_error"
	// ErrNotFound means the referenced session or record does not exist.
	ErrNotFound ErrorType = "not_found_error"
	// ErrConnection is a transient transport failure. Retried with backoff;
	// the session is preserved via its checkpoint.
	ErrConnection ErrorType = "connection_error"
	// ErrCoordinatorTimeout means an agent call exceeded its deadline after retries.
	ErrCoordinatorTimeout ErrorType = "coordinator_timeout_error"
	// ErrCoordinatorUnavailable means the circuit breaker is open for a role.
	ErrCoordinatorUnavailable ErrorType = "coordinator_unavailable_error"
	// ErrPersistence is a checkpoint or record write failure.
	ErrPersistence ErrorType = "persistence_error"
	// ErrConflict is an optimistic-concurrency version clash.
	ErrConflict ErrorType = "conflict_error"
	// ErrInternal is an unexpected internal failure.
	ErrInternal ErrorType = "internal_error"
)

// NewValidationError creates a validation error.
func NewValidationError(message string) *Error {
	return &Error{Type: ErrValidation, Message: message}
}

// NewValidationErrorWithParam creates a validation error with a parameter.
func NewValidationErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrValidation, Message: message, Param: param}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// NewConnectionError creates a transient connection error.
func NewConnectionError(message string, cause error) *Error {
	return &Error{Type: ErrConnection, Message: message, Cause: cause}
}

// NewCoordinatorTimeoutError creates a coordinator timeout error.
func NewCoordinatorTimeoutError(role string, cause error) *Error {
	return &Error{
		Type:    ErrCoordinatorTimeout,
		Message: fmt.Sprintf("%s call timed out", role),
		Code:    role,
		Cause:   cause,
	}
}

// NewCoordinatorUnavailableError creates a breaker-open error.
func NewCoordinatorUnavailableError(role string) *Error {
	return &Error{
		Type:    ErrCoordinatorUnavailable,
		Message: fmt.Sprintf("%s provider unavailable, circuit open", role),
		Code:    role,
	}
}

// NewPersistenceError creates a persistence error.
func NewPersistenceError(message string, cause error) *Error {
	return &Error{Type: ErrPersistence, Message: message, Cause: cause}
}

// NewConflictError creates an optimistic-concurrency conflict error.
func NewConflictError(message string) *Error {
	return &Error{Type: ErrConflict, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *Error {
	return &Error{Type: ErrInternal, Message: message, Cause: cause}
}

// IsRetryable returns true if the error is safe to retry.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrConnection, ErrCoordinatorTimeout, ErrPersistence, ErrConflict:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSession annotates the error with session id and phase for logging.
func (e *Error) WithSession(sessionID, phase string) *Error {
	out := *e
	out.SessionID = sessionID
	out.Phase = phase
	return &out
}
