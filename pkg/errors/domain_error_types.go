package errors

import (
	"fmt"
	"strings"
)

// DomainErrorType represents the category of domain error
type DomainErrorType string

const (
	// DomainValidationError indicates input validation failure
	DomainValidationError DomainErrorType = "VALIDATION_ERROR"

	// DomainTreeIntegrityError indicates a broken or would-be-broken tree invariant
	DomainTreeIntegrityError DomainErrorType = "TREE_INTEGRITY_ERROR"

	// DomainNotFoundError indicates a resource was not found
	DomainNotFoundError DomainErrorType = "NOT_FOUND"

	// DomainConflictError indicates a conflict with existing state
	DomainConflictError DomainErrorType = "CONFLICT"

	// DomainInfrastructureError indicates an infrastructure-level failure
	DomainInfrastructureError DomainErrorType = "INFRASTRUCTURE_ERROR"
)

// DomainError identifies a specific domain failure by type and code.
// Instances declared below are sentinels: match them with errors.Is and
// never mutate them.
type DomainError struct {
	Type      DomainErrorType        `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
}

// NewDomainError creates a new domain error
func NewDomainError(errorType DomainErrorType, code string, message string) *DomainError {
	return &DomainError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// WithCause adds a cause to the error
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	e.Details[key] = value
	return e
}

// WithRetryable sets whether the error is retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

var (
	// Input errors
	ErrEmptyQuestion = NewDomainError(
		DomainValidationError,
		"EMPTY_QUESTION",
		"Question must contain non-whitespace text",
	)

	ErrEmptyAnswer = NewDomainError(
		DomainValidationError,
		"EMPTY_ANSWER",
		"Answer must contain non-whitespace text",
	)

	ErrInvalidTopic = NewDomainError(
		DomainValidationError,
		"INVALID_TOPIC",
		"Topic label must contain non-whitespace text",
	)

	ErrInvalidScore = NewDomainError(
		DomainValidationError,
		"INVALID_SCORE",
		"Score must be a finite number between 0 and 100",
	)

	ErrInvalidNodeID = NewDomainError(
		DomainValidationError,
		"INVALID_NODE_ID",
		"Node id must be a valid UUID",
	)

	ErrInvalidSessionID = NewDomainError(
		DomainValidationError,
		"INVALID_SESSION_ID",
		"Session id must be 1-128 characters of letters, digits, '_', '.', ':' or '-'",
	)

	// Tree errors
	ErrTopicNotFound = NewDomainError(
		DomainTreeIntegrityError,
		"TOPIC_NOT_FOUND",
		"The requested topic node does not exist",
	)

	ErrParentNotFound = NewDomainError(
		DomainTreeIntegrityError,
		"PARENT_NOT_FOUND",
		"The referenced parent topic does not exist",
	)

	ErrDuplicateTopic = NewDomainError(
		DomainTreeIntegrityError,
		"DUPLICATE_TOPIC",
		"A topic node with this id already exists",
	)

	ErrCyclicDependency = NewDomainError(
		DomainTreeIntegrityError,
		"CYCLIC_DEPENDENCY",
		"Moving this topic would make it its own ancestor",
	)

	ErrMaxDepthExceeded = NewDomainError(
		DomainTreeIntegrityError,
		"MAX_DEPTH_EXCEEDED",
		"Topic depth exceeds the configured maximum",
	)

	ErrMaxNodesExceeded = NewDomainError(
		DomainTreeIntegrityError,
		"MAX_NODES_EXCEEDED",
		"Topic tree size exceeds the configured maximum",
	)

	ErrBrokenParentLink = NewDomainError(
		DomainTreeIntegrityError,
		"BROKEN_PARENT_LINK",
		"Parent and child references disagree",
	)

	ErrInvalidRoot = NewDomainError(
		DomainTreeIntegrityError,
		"INVALID_ROOT",
		"Root list and parent references disagree",
	)

	ErrInvalidDepth = NewDomainError(
		DomainTreeIntegrityError,
		"INVALID_DEPTH",
		"Stored depth does not match the parent chain",
	)

	ErrInvalidCurrentPath = NewDomainError(
		DomainTreeIntegrityError,
		"INVALID_CURRENT_PATH",
		"Current path is not a root-to-node chain",
	)

	// Session errors
	ErrSessionNotFound = NewDomainError(
		DomainNotFoundError,
		"SESSION_NOT_FOUND",
		"The requested session does not exist",
	)

	ErrSessionExists = NewDomainError(
		DomainConflictError,
		"SESSION_EXISTS",
		"A session with this id already exists",
	)

	ErrActiveSessionDelete = NewDomainError(
		DomainConflictError,
		"ACTIVE_SESSION_DELETE",
		"The active session cannot be deleted",
	)

	ErrConcurrentModification = NewDomainError(
		DomainConflictError,
		"CONCURRENT_MODIFICATION",
		"The session was modified by another caller",
	).WithRetryable(true)

	// Infrastructure errors
	ErrChecksumMismatch = NewDomainError(
		DomainInfrastructureError,
		"CHECKSUM_MISMATCH",
		"Stored tree checksum does not match its content",
	)

	ErrUnsupportedSchema = NewDomainError(
		DomainInfrastructureError,
		"UNSUPPORTED_SCHEMA",
		"Stored tree schema version is not supported",
	)

	ErrEventPublishFailed = NewDomainError(
		DomainInfrastructureError,
		"EVENT_PUBLISH_FAILED",
		"Failed to publish domain event",
	).WithRetryable(true)
)

// ValidationErrors aggregates multiple validation errors
type ValidationErrors struct {
	Errors []*DomainError `json:"errors"`
}

// NewValidationErrors creates a new validation errors collection
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]*DomainError, 0),
	}
}

// Add adds a validation error
func (v *ValidationErrors) Add(field string, message string) {
	err := NewDomainError(DomainValidationError, "FIELD_VALIDATION_ERROR", message).
		WithDetail("field", field)
	v.Errors = append(v.Errors, err)
}

// AddError adds a pre-existing domain error
func (v *ValidationErrors) AddError(err *DomainError) {
	v.Errors = append(v.Errors, err)
}

// HasErrors returns true if there are validation errors
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}

	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Message
	}
	return fmt.Sprintf("Validation failed: %s", strings.Join(messages, "; "))
}

// Unwrap exposes the collected errors to errors.Is
func (v *ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v.Errors))
	for i, err := range v.Errors {
		errs[i] = err
	}
	return errs
}

// AsAppError surfaces the collection as a single validation error, or nil when empty
func (v *ValidationErrors) AsAppError() error {
	if !v.HasErrors() {
		return nil
	}
	return NewValidationError(v.Error()).WithCause(v)
}

// ToMap groups messages by field
func (v *ValidationErrors) ToMap() map[string][]string {
	result := make(map[string][]string)

	for _, err := range v.Errors {
		field, ok := err.Details["field"].(string)
		if !ok {
			field = "general"
		}
		result[field] = append(result[field], err.Message)
	}

	return result
}
