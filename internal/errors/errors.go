// Package errors provides the unified error taxonomy used across the memory
// subsystem. Every component classifies failures into one of these types so the
// gateway can decide, without inspecting backends, whether an operation may be
// retried, must be surfaced immediately, or should be recorded and swallowed.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType defines the category of error for handling and propagation.
type ErrorType string

const (
	// ErrorTypeValidation covers malformed input. Never retried.
	ErrorTypeValidation ErrorType = "VALIDATION"
	// ErrorTypeAuthorization covers denied cross-domain access. Never retried.
	ErrorTypeAuthorization ErrorType = "AUTHORIZATION"
	// ErrorTypeNotFound covers missing ids. Never retried.
	ErrorTypeNotFound ErrorType = "NOT_FOUND"
	// ErrorTypeConflict covers concurrent-modification clashes.
	ErrorTypeConflict ErrorType = "CONFLICT"
	// ErrorTypeService covers transient backend faults. Retried with backoff.
	ErrorTypeService ErrorType = "SERVICE"
	// ErrorTypeRecursion signals the gateway depth bound was exceeded. Fatal.
	ErrorTypeRecursion ErrorType = "RECURSION"
	// ErrorTypeUnavailable signals an open circuit. Surfaced immediately.
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	// ErrorTypeInternal covers everything else.
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// AppError is the error type shared by all layers of the subsystem.
type AppError struct {
	Type      ErrorType
	Message   string
	Operation string
	Err       error
	Retryable bool
}

// Error implements the error interface.
func (e *AppError) Error() string {
	switch {
	case e.Operation != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Type, e.Operation, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	case e.Operation != "":
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Operation, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
}

// Unwrap allows errors.Is and errors.As to traverse the cause chain.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithOperation annotates the error with the operation that failed.
func (e *AppError) WithOperation(op string) *AppError {
	e.Operation = op
	return e
}

// NewValidation creates a validation error.
func NewValidation(message string) error {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewValidationf creates a validation error with a formatted message.
func NewValidationf(format string, args ...any) error {
	return &AppError{Type: ErrorTypeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewAuthorization creates a domain access denial error.
func NewAuthorization(message string) error {
	return &AppError{Type: ErrorTypeAuthorization, Message: message}
}

// NewNotFound creates a not found error.
func NewNotFound(message string) error {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// NewConflict creates a conflict error. Conflicts are retryable because the
// competing writer usually finishes quickly.
func NewConflict(message string) error {
	return &AppError{Type: ErrorTypeConflict, Message: message, Retryable: true}
}

// NewService creates a transient backend error eligible for retry.
func NewService(message string, err error) error {
	return &AppError{Type: ErrorTypeService, Message: message, Err: err, Retryable: true}
}

// NewRecursion creates a recursion bound error.
func NewRecursion(message string) error {
	return &AppError{Type: ErrorTypeRecursion, Message: message}
}

// NewUnavailable creates a circuit-open error.
func NewUnavailable(message string) error {
	return &AppError{Type: ErrorTypeUnavailable, Message: message}
}

// NewInternal creates an internal error.
func NewInternal(message string, err error) error {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// Wrap wraps an error with additional context, preserving the original type
// and retryability when the cause is already an AppError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:      appErr.Type,
			Message:   fmt.Sprintf("%s: %s", message, appErr.Message),
			Operation: appErr.Operation,
			Err:       appErr.Err,
			Retryable: appErr.Retryable,
		}
	}

	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the error's type, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsType checks whether an error belongs to the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return IsType(err, ErrorTypeValidation) }

// IsAuthorization checks if an error is an authorization error.
func IsAuthorization(err error) bool { return IsType(err, ErrorTypeAuthorization) }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return IsType(err, ErrorTypeNotFound) }

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool { return IsType(err, ErrorTypeConflict) }

// IsService checks if an error is a transient service error.
func IsService(err error) bool { return IsType(err, ErrorTypeService) }

// IsRecursion checks if an error is a recursion bound error.
func IsRecursion(err error) bool { return IsType(err, ErrorTypeRecursion) }

// IsUnavailable checks if an error is a circuit-open error.
func IsUnavailable(err error) bool { return IsType(err, ErrorTypeUnavailable) }

// IsRetryable reports whether the gateway may retry the failed operation.
// Context cancellation is never retryable regardless of classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Deadline on the overall call; per-attempt timeouts are wrapped as
		// SERVICE errors by the repositories before reaching here.
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
