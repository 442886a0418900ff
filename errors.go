package flowvm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/flowvm/retry"
)

// Error type constants for classification and matching
const (
	// ErrorTypeAll acts as a wildcard that matches any error except fatal errors
	ErrorTypeAll = "all"

	// ErrorTypeDefinition indicates a malformed or semantically invalid
	// command tree. Definition errors are fatal and never retried.
	ErrorTypeDefinition = "definition_error"

	// ErrorTypeTaskFailed is the default classification. A native task,
	// script or expression raised an error. Recoverable via retry and
	// error handlers.
	ErrorTypeTaskFailed = "task_failed"

	// ErrorTypePolicy indicates a task call denied by the policy checker.
	// Treated like ErrorTypeTaskFailed by retry and error handlers.
	ErrorTypePolicy = "policy_violation"

	// ErrorTypeSuspendMismatch indicates a resume event that does not match
	// any pending suspension.
	ErrorTypeSuspendMismatch = "suspend_mismatch"

	// ErrorTypeSerialization indicates a value that cannot be captured into
	// process state, or a corrupt snapshot. Fatal.
	ErrorTypeSerialization = "serialization_error"

	// ErrorTypeCancelled marks threads cancelled because a sibling failed
	ErrorTypeCancelled = "cancelled"

	// ErrorTypeTimeout matches a context deadline or cancellation
	ErrorTypeTimeout = "timeout"
)

var (
	// ErrReentrantRun is returned when the interpreter loop is entered while
	// it is already running.
	ErrReentrantRun = errors.New("interpreter loop is not reentrant")

	// ErrCheckpointNotFound is returned by checkpoint stores for unknown names
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrStateNotFound is returned by state stores for unknown instances
	ErrStateNotFound = errors.New("suspended state not found")
)

// ProcessError represents a structured error with classification.
// It supports Go's error wrapping patterns with Unwrap() method.
type ProcessError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Details any    `json:"details,omitempty"`
	Stack   string `json:"stack,omitempty"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *ProcessError) Unwrap() error {
	return e.Wrapped
}

// NewProcessError creates a new ProcessError with the specified type and cause
func NewProcessError(errorType, cause string) *ProcessError {
	return &ProcessError{Type: errorType, Cause: cause}
}

// NewDefinitionError returns a fatal error describing an invalid definition
func NewDefinitionError(format string, args ...any) *ProcessError {
	return NewProcessError(ErrorTypeDefinition, fmt.Sprintf(format, args...))
}

// NewSerializationError returns a fatal error naming the offending variable
func NewSerializationError(variable string, err error) *ProcessError {
	return &ProcessError{
		Type:    ErrorTypeSerialization,
		Cause:   fmt.Sprintf("variable %q cannot be serialized: %v", variable, err),
		Details: map[string]any{"variable": variable},
		Wrapped: err,
	}
}

// NewSuspendMismatchError reports a resume event with no matching suspension
func NewSuspendMismatchError(event string) *ProcessError {
	return &ProcessError{
		Type:    ErrorTypeSuspendMismatch,
		Cause:   fmt.Sprintf("no pending suspension for event %q", event),
		Details: map[string]any{"event": event},
	}
}

// ClassifyError attempts to classify a regular error into a ProcessError
func ClassifyError(err error) *ProcessError {
	var processErr *ProcessError
	if errors.As(err, &processErr) {
		return processErr
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &ProcessError{
			Type:    ErrorTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	return &ProcessError{
		Type:    ErrorTypeTaskFailed,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// IsFatal returns true for errors that skip every retry and error handler
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch ClassifyError(err).Type {
	case ErrorTypeDefinition, ErrorTypeSerialization, ErrorTypeSuspendMismatch:
		return true
	}
	return false
}

// IsRetryable reports whether a retry decorator may re-execute after err
func IsRetryable(err error) bool {
	if IsFatal(err) {
		return false
	}
	var failure *failureError
	if errors.As(err, &failure) {
		return !failure.f.NonRecoverable
	}
	return retry.IsRecoverable(err)
}

// MatchesErrorType checks if an error matches a specified error type pattern
func MatchesErrorType(err error, errorType string) bool {
	pErr := ClassifyError(err)
	if IsFatal(pErr) {
		return errorType == pErr.Type
	}
	switch errorType {
	case ErrorTypeAll:
		return true
	case ErrorTypeTaskFailed:
		// Policy violations are handled like task failures
		return pErr.Type == ErrorTypeTaskFailed || pErr.Type == ErrorTypePolicy
	default:
		return pErr.Type == errorType
	}
}

// Failure is the serializable record of an error raised on a thread. It is
// stored in thread state and bound as lastError inside error handlers.
type Failure struct {
	Type           string   `json:"type"`
	Message        string   `json:"message"`
	Stack          []string `json:"stack,omitempty"`
	ThreadID       ThreadID `json:"thread_id"`
	NonRecoverable bool     `json:"non_recoverable,omitempty"`
}

func newFailure(err error, threadID ThreadID, stack []string) *Failure {
	var fe *failureError
	if errors.As(err, &fe) {
		// Re-raised failures keep their original trace
		return fe.f
	}
	pErr := ClassifyError(err)
	return &Failure{
		Type:           pErr.Type,
		Message:        pErr.Cause,
		Stack:          stack,
		ThreadID:       threadID,
		NonRecoverable: !IsFatal(pErr) && !retry.IsRecoverable(err),
	}
}

// Err converts the failure back into an error, wrapping the original trace
func (f *Failure) Err() error {
	return &failureError{f: f}
}

// Binding returns the value exposed to error handlers as lastError
func (f *Failure) Binding() map[string]any {
	stack := make([]any, 0, len(f.Stack))
	for _, line := range f.Stack {
		stack = append(stack, line)
	}
	return map[string]any{
		"type":       f.Type,
		"message":    f.Message,
		"stackTrace": stack,
		"threadId":   int64(f.ThreadID),
	}
}

// ProcessError converts the failure into the error reported to callers
func (f *Failure) ProcessError() *ProcessError {
	return &ProcessError{
		Type:    f.Type,
		Cause:   f.Message,
		Stack:   strings.Join(f.Stack, "\n"),
		Details: map[string]any{"thread_id": int64(f.ThreadID)},
	}
}

// failureError carries a Failure through the error chain so joins and
// retry exhaustion re-raise it unchanged.
type failureError struct {
	f *Failure
}

func (e *failureError) Error() string {
	return fmt.Sprintf("%s: %s", e.f.Type, e.f.Message)
}

// As lets ClassifyError see the failure as a ProcessError
func (e *failureError) As(target any) bool {
	if pe, ok := target.(**ProcessError); ok {
		*pe = &ProcessError{Type: e.f.Type, Cause: e.f.Message}
		return true
	}
	return false
}
