package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the kind of failure surfaced to callers
type ErrorType string

const (
	// Caller mistakes
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"

	// Structural failures of a topic tree
	ErrorTypeTreeIntegrity ErrorType = "TREE_INTEGRITY"

	// Collaborator failures
	ErrorTypeClassification ErrorType = "CLASSIFICATION"
	ErrorTypeScoring        ErrorType = "SCORING"
	ErrorTypePersistence    ErrorType = "PERSISTENCE"
	ErrorTypeExternal       ErrorType = "EXTERNAL"

	// Application errors
	ErrorTypeInternal ErrorType = "INTERNAL"
	ErrorTypeTimeout  ErrorType = "TIMEOUT"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetail adds a single detail entry
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error. A DomainError cause also lends its code.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	var domainErr *DomainError
	if e.Code == "" && errors.As(err, &domainErr) {
		e.Code = domainErr.Code
	}
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

func newAppError(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newAppError(ErrorTypeValidation, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return newAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return newAppError(ErrorTypeConflict, message)
}

// NewTreeIntegrityError creates an error for a structural rule a tree mutation would break
func NewTreeIntegrityError(message string) *AppError {
	return newAppError(ErrorTypeTreeIntegrity, message)
}

// TreeIntegrity builds a tree integrity error that unwraps to the given sentinel
func TreeIntegrity(sentinel *DomainError, format string, args ...interface{}) *AppError {
	return NewTreeIntegrityError(fmt.Sprintf(format, args...)).WithCause(sentinel)
}

// Validation builds a validation error that unwraps to the given sentinel
func Validation(sentinel *DomainError, format string, args ...interface{}) *AppError {
	return NewValidationError(fmt.Sprintf(format, args...)).WithCause(sentinel)
}

// NewClassificationError wraps a topic analyzer failure
func NewClassificationError(operation string, err error) *AppError {
	return newAppError(ErrorTypeClassification, fmt.Sprintf("topic classification '%s' failed", operation)).WithCause(err)
}

// NewScoringError wraps a scoring strategy failure
func NewScoringError(strategy string, err error) *AppError {
	return newAppError(ErrorTypeScoring, fmt.Sprintf("scoring strategy '%s' failed", strategy)).WithCause(err)
}

// NewPersistenceError wraps a storage adapter failure
func NewPersistenceError(operation string, err error) *AppError {
	return newAppError(ErrorTypePersistence, fmt.Sprintf("persistence operation '%s' failed", operation)).WithCause(err)
}

// NewExternalError creates an external service error
func NewExternalError(service string, err error) *AppError {
	return newAppError(ErrorTypeExternal, fmt.Sprintf("external service '%s' error", service)).WithCause(err)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newAppError(ErrorTypeInternal, message)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return newAppError(ErrorTypeTimeout, fmt.Sprintf("operation '%s' timed out", operation))
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsTreeIntegrity checks if an error is a tree integrity error
func IsTreeIntegrity(err error) bool {
	return IsType(err, ErrorTypeTreeIntegrity)
}

// IsClassification checks if an error came from the topic analyzer
func IsClassification(err error) bool {
	return IsType(err, ErrorTypeClassification)
}

// IsPersistence checks if an error came from a storage adapter
func IsPersistence(err error) bool {
	return IsType(err, ErrorTypePersistence)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to message
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
