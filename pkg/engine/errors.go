package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error so callers can branch on it.
type ErrorClass string

const (
	// ErrorClassValidation indicates a bad request: a missing or unsupported
	// descriptor, an invalid image name, or a write denied by policy.
	// Surfaced immediately and never retried.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassPrecondition indicates an ordering requirement was not met,
	// such as applying CI while a Dockerfile still has to be generated.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassRemoteTransport indicates a failure talking to the remote
	// repository: network, auth, rate limiting. Propagated as-is.
	ErrorClassRemoteTransport ErrorClass = "remote_transport"

	// ErrorClassPersistence indicates the history ledger could not be written.
	ErrorClassPersistence ErrorClass = "persistence"

	// ErrorClassConflict indicates a write collided with existing content
	// under a strategy that forbids it.
	ErrorClassConflict ErrorClass = "conflict"
)

// ErrNotFound is returned by RemoteRepository implementations when a path does not exist.
var ErrNotFound = errors.New("not found")

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the target path or service id that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", e.Message, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", e.Message, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewPreconditionError creates a new precondition error.
func NewPreconditionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPrecondition,
		Message: message,
		Err:     err,
	}
}

// NewRemoteTransportError creates a new remote transport error.
func NewRemoteTransportError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassRemoteTransport,
		Message: message,
		Err:     err,
	}
}

// NewPersistenceError creates a new persistence error.
func NewPersistenceError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPersistence,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	return hasClass(err, ErrorClassValidation)
}

// IsPrecondition returns true if the error is classified as a precondition failure.
func IsPrecondition(err error) bool {
	return hasClass(err, ErrorClassPrecondition)
}

// IsRemoteTransport returns true if the error came from the remote repository.
func IsRemoteTransport(err error) bool {
	return hasClass(err, ErrorClassRemoteTransport)
}

// IsPersistence returns true if the error came from the history ledger.
func IsPersistence(err error) bool {
	return hasClass(err, ErrorClassPersistence)
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return hasClass(err, ErrorClassConflict)
}

// ErrorCode returns the code of the first EngineError in the chain, or "".
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeUnsupportedStack  = "UNSUPPORTED_STACK"
	ErrCodeInvalidImage      = "INVALID_IMAGE_NAME"
	ErrCodeNoServices        = "NO_SERVICES"
	ErrCodeInvalidCompose    = "INVALID_COMPOSE"
	ErrCodePolicyDenied      = "POLICY_DENIED"
	ErrCodeDockerfilePending = "DOCKERFILE_PENDING"
	ErrCodeTemplateMissing   = "TEMPLATE_MISSING"
	ErrCodeFileExists        = "FILE_EXISTS"
	ErrCodeListFailed        = "LIST_FAILED"
	ErrCodeFetchFailed       = "FETCH_FAILED"
	ErrCodeWriteFailed       = "WRITE_FAILED"
	ErrCodeLedgerFailed      = "LEDGER_FAILED"
)
