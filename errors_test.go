package flowvm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/deepnoodle-ai/flowvm/retry"
	"github.com/stretchr/testify/require"
)

func TestProcessErrorWrapping(t *testing.T) {
	err := NewProcessError(ErrorTypeTimeout, "operation timed out")
	require.Equal(t, "timeout: operation timed out", err.Error())
	require.Nil(t, err.Unwrap())

	originalErr := errors.New("network connection failed")
	wrappedErr := &ProcessError{
		Type:    ErrorTypeTimeout,
		Cause:   originalErr.Error(),
		Wrapped: originalErr,
	}
	require.Equal(t, "timeout: network connection failed", wrappedErr.Error())
	require.Equal(t, originalErr, wrappedErr.Unwrap())
	require.True(t, errors.Is(wrappedErr, originalErr))

	var pErr *ProcessError
	require.True(t, errors.As(fmt.Errorf("outer: %w", wrappedErr), &pErr))
	require.Equal(t, ErrorTypeTimeout, pErr.Type)
}

func TestErrorClassification(t *testing.T) {
	classified := ClassifyError(context.DeadlineExceeded)
	require.Equal(t, ErrorTypeTimeout, classified.Type)
	require.True(t, errors.Is(classified, context.DeadlineExceeded))

	classified = ClassifyError(errors.New("upstream timeout while reading"))
	require.Equal(t, ErrorTypeTimeout, classified.Type)

	genericErr := errors.New("something went wrong")
	classified = ClassifyError(genericErr)
	require.Equal(t, ErrorTypeTaskFailed, classified.Type)
	require.True(t, errors.Is(classified, genericErr))

	original := NewDefinitionError("bad step %d", 3)
	require.Same(t, original, ClassifyError(fmt.Errorf("wrapped: %w", original)))
	require.Equal(t, "definition_error: bad step 3", original.Error())
}

func TestFatalErrors(t *testing.T) {
	require.False(t, IsFatal(nil))
	require.True(t, IsFatal(NewDefinitionError("x")))
	require.True(t, IsFatal(NewSerializationError("ch", errors.New("unsupported type"))))
	require.True(t, IsFatal(NewSuspendMismatchError("wake")))
	require.False(t, IsFatal(errors.New("plain")))
	require.False(t, IsFatal(NewProcessError(ErrorTypePolicy, "denied")))

	serErr := NewSerializationError("ch", errors.New("unsupported type"))
	require.Equal(t, map[string]any{"variable": "ch"}, serErr.Details)
	require.Contains(t, serErr.Error(), `variable "ch" cannot be serialized`)
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(errors.New("flaky")))
	require.False(t, IsRetryable(NewDefinitionError("x")))
	require.False(t, IsRetryable(retry.NewNonRecoverableError(errors.New("bad input"))))

	// Failures keep their recoverability when re-raised
	f := newFailure(retry.NewNonRecoverableError(errors.New("bad input")), RootThreadID, nil)
	require.True(t, f.NonRecoverable)
	require.False(t, IsRetryable(f.Err()))
	require.True(t, IsRetryable(newFailure(errors.New("flaky"), RootThreadID, nil).Err()))
}

func TestMatchesErrorType(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		errorType string
		want      bool
	}{
		{"all matches task failures", errors.New("x"), ErrorTypeAll, true},
		{"all matches timeouts", context.Canceled, ErrorTypeAll, true},
		{"all skips fatal errors", NewDefinitionError("x"), ErrorTypeAll, false},
		{"fatal errors match their own type", NewDefinitionError("x"), ErrorTypeDefinition, true},
		{"task failed", errors.New("x"), ErrorTypeTaskFailed, true},
		{"policy counts as task failed", NewProcessError(ErrorTypePolicy, "denied"), ErrorTypeTaskFailed, true},
		{"policy matches itself", NewProcessError(ErrorTypePolicy, "denied"), ErrorTypePolicy, true},
		{"timeout is not task failed", context.DeadlineExceeded, ErrorTypeTaskFailed, false},
		{"custom type", NewProcessError("quota", "x"), "quota", true},
		{"custom type mismatch", NewProcessError("quota", "x"), "other", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, MatchesErrorType(tc.err, tc.errorType))
		})
	}
}

func TestFailure(t *testing.T) {
	stack := []string{"at inner [throw boom] (line 3, col 7)", "at main"}
	f := newFailure(errors.New("boom"), ThreadID(4), stack)
	require.Equal(t, &Failure{
		Type:     ErrorTypeTaskFailed,
		Message:  "boom",
		Stack:    stack,
		ThreadID: 4,
	}, f)

	require.Equal(t, map[string]any{
		"type":       ErrorTypeTaskFailed,
		"message":    "boom",
		"stackTrace": []any{stack[0], stack[1]},
		"threadId":   int64(4),
	}, f.Binding())

	pErr := f.ProcessError()
	require.Equal(t, "task_failed: boom", pErr.Error())
	require.Equal(t, "at inner [throw boom] (line 3, col 7)\nat main", pErr.Stack)
	require.Equal(t, map[string]any{"thread_id": int64(4)}, pErr.Details)

	// Re-raising keeps the original failure and trace
	again := newFailure(fmt.Errorf("join: %w", f.Err()), RootThreadID, []string{"elsewhere"})
	require.Same(t, f, again)
	require.True(t, MatchesErrorType(f.Err(), ErrorTypeTaskFailed))
	require.Equal(t, "task_failed: boom", f.Err().Error())
}
