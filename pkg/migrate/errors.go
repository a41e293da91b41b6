// Package migrate provides the shared types for the Project Online to
// Smartsheet migration engine: the classified error type used by every layer
// and the per-run phase/state model.
package migrate

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting by a remote service (429).
	// Should be retried with exponential backoff, honoring Retry-After.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassAuth indicates an authentication or authorization failure.
	// Expired tokens are recoverable via refresh; declined or timed-out
	// device-code flows are terminal.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassData indicates a source data-integrity failure.
	// Examples: a task referencing an unseen parent, an assignment referencing
	// a task absent from the extraction batch. Never retried.
	ErrorClassData ErrorClass = "data"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, permission denied, 4xx other than 429.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Phase identifies the migration phase an error originated from.
type Phase string

const (
	PhaseAuth      Phase = "auth"
	PhaseExtract   Phase = "extract"
	PhaseTransform Phase = "transform"
	PhaseLoad      Phase = "load"
)

// Error represents a classified migration error with context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Phase is the migration phase that produced the error.
	Phase Phase `json:"phase,omitempty"`

	// Entity is the source entity id that caused the error, if applicable.
	Entity string `json:"entity,omitempty"`

	// RetryAfter is the minimum delay requested by the remote service
	// before the call may be retried (from a Retry-After header). Zero when
	// the service did not request one.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Phase != "" && e.Entity != "" {
		return fmt.Sprintf("[%s] %s (phase=%s, entity=%s): %s",
			e.Class, e.Message, e.Phase, e.Entity, e.unwrapMessage())
	}
	if e.Phase != "" {
		return fmt.Sprintf("[%s] %s (phase=%s): %s",
			e.Class, e.Message, e.Phase, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *Error {
	return &Error{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewAuthError creates a new auth-class error.
func NewAuthError(message string, err error) *Error {
	return &Error{Class: ErrorClassAuth, Message: message, Err: err}
}

// NewDataError creates a new data-integrity error.
func NewDataError(message string, err error) *Error {
	return &Error{Class: ErrorClassData, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithPhase adds phase context to an error.
func (e *Error) WithPhase(phase Phase) *Error {
	e.Phase = phase
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithEntity adds source entity context to an error.
func (e *Error) WithEntity(entity string) *Error {
	e.Entity = entity
	return e
}

// WithRetryAfter records the delay requested by a Retry-After header.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// RetryAfterHint extracts the Retry-After delay from an error chain, or zero.
func RetryAfterHint(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient and throttled errors are retryable; auth, data, and permanent
// errors are not (auth recovery is the provider's job, not the retry loop's).
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// IsAuthExpired returns true if the error indicates an expired access token
// that can be recovered by refreshing or re-authorizing.
func IsAuthExpired(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassAuth && e.Code == ErrCodeAuthExpired
	}
	return false
}

// IsRetriesExhausted returns true if a retry policy gave up on the error.
func IsRetriesExhausted(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeRetriesExhausted
	}
	return false
}

// Common error codes.
const (
	ErrCodeAuthDeclined       = "AUTH_DECLINED"
	ErrCodeAuthTimeout        = "AUTH_TIMEOUT"
	ErrCodeAuthExpired        = "AUTH_EXPIRED"
	ErrCodeRetriesExhausted   = "RETRIES_EXHAUSTED"
	ErrCodeMalformedHierarchy = "MALFORMED_HIERARCHY"
	ErrCodeDanglingReference  = "DANGLING_REFERENCE"
	ErrCodeWorkspaceInvalid   = "WORKSPACE_STRUCTURE_INVALID"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)
