package flowvm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// resumeExecution builds a fresh execution for a suspended instance, the
// way a controller would after a restart
func resumeExecution(t *testing.T, src, instanceID string, store Store, opts ExecutionOptions) *Execution {
	t.Helper()
	opts.InstanceID = instanceID
	opts.States = store
	opts.Checkpoints = store
	return newTestExecution(t, src, opts)
}

func TestSuspendResume(t *testing.T) {
	src := `
flows:
  main:
    - set: {x: 1}
    - suspend: ready
    - expr: ${x + y}
      out: z
`
	store := NewMemoryStore()
	e := newTestExecution(t, src, ExecutionOptions{States: store, Checkpoints: store})
	require.NoError(t, e.Run(testContext(t)))
	require.Equal(t, ExecutionStatusSuspended, e.Status())
	require.Equal(t, []PendingEvent{{Event: "ready", Kind: SuspendEvent, Name: "ready", ThreadID: RootThreadID}}, e.PendingEvents())

	resumed := resumeExecution(t, src, e.ID(), store, ExecutionOptions{})
	require.NoError(t, resumed.Resume(testContext(t), ResumeEvent{
		Name:    "ready",
		Payload: map[string]any{"y": 2},
	}))
	require.Equal(t, ExecutionStatusCompleted, resumed.Status())
	require.Equal(t, int64(3), resumed.Variables()["z"])
	require.Empty(t, resumed.PendingEvents())
}

func TestSuspendResumeEquivalence(t *testing.T) {
	// Resuming with a payload ends in the same variables as a process that
	// never suspended and set the payload directly.
	suspending := `
flows:
  main:
    - set: {items: [1, 2]}
    - call: wait
      out: [y]
    - expr: ${y * 10}
      out: values
      loop: ${items}
  wait:
    - suspend: input
`
	direct := `
flows:
  main:
    - set: {items: [1, 2]}
    - call: wait
      out: [y]
    - expr: ${y * 10}
      out: values
      loop: ${items}
  wait:
    - set: {y: 4}
`
	store := NewMemoryStore()
	e := newTestExecution(t, suspending, ExecutionOptions{States: store, Checkpoints: store})
	require.NoError(t, e.Run(testContext(t)))
	require.Equal(t, ExecutionStatusSuspended, e.Status())

	resumed := resumeExecution(t, suspending, e.ID(), store, ExecutionOptions{})
	require.NoError(t, resumed.Resume(testContext(t), ResumeEvent{Name: "input", Payload: map[string]any{"y": 4}}))

	plain := newTestExecution(t, direct, ExecutionOptions{})
	require.NoError(t, plain.Run(testContext(t)))

	require.Equal(t, plain.Variables(), resumed.Variables())
	require.Equal(t, []any{int64(40), int64(40)}, resumed.Variables()["values"])
}

func TestResumeVariables(t *testing.T) {
	src := `
flows:
  main:
    - suspend: go
    - expr: "${region}-${payloadValue}"
      out: label
`
	store := NewMemoryStore()
	e := newTestExecution(t, src, ExecutionOptions{States: store, Checkpoints: store})
	require.NoError(t, e.Run(testContext(t)))

	require.NoError(t, e.Resume(testContext(t), ResumeEvent{
		Name:      "go",
		Payload:   map[string]any{"payloadValue": "a"},
		Variables: map[string]any{"region": "eu"},
	}))
	require.Equal(t, "eu-a", e.Variables()["label"])
}

func TestResumeForm(t *testing.T) {
	src := `
flows:
  main:
    - form: review
      fields:
        - name: approved
          type: boolean
          default: false
        - name: comment
          default: none
    - if: '${review["approved"]}'
      then:
        - set: {outcome: approved}
      else:
        - set: {outcome: rejected}
`
	store := NewMemoryStore()
	e := newTestExecution(t, src, ExecutionOptions{States: store, Checkpoints: store})
	require.NoError(t, e.Run(testContext(t)))

	pending := e.PendingEvents()
	require.Len(t, pending, 1)
	require.Equal(t, SuspendForm, pending[0].Kind)
	require.NotNil(t, pending[0].Form)
	require.Len(t, pending[0].Form.Fields, 2)

	resumed := resumeExecution(t, src, e.ID(), store, ExecutionOptions{})
	require.NoError(t, resumed.Resume(testContext(t), ResumeEvent{Name: "review", Payload: map[string]any{"approved": true}}))
	vars := resumed.Variables()
	require.Equal(t, map[string]any{"approved": true, "comment": "none"}, vars["review"])
	require.Equal(t, "approved", vars["outcome"])
}

func TestResumeErrors(t *testing.T) {
	src := `
flows:
  main:
    - suspend: expected
`
	t.Run("mismatched event", func(t *testing.T) {
		store := NewMemoryStore()
		e := newTestExecution(t, src, ExecutionOptions{States: store, Checkpoints: store})
		require.NoError(t, e.Run(testContext(t)))

		err := e.Resume(testContext(t), ResumeEvent{Name: "unexpected"})
		require.Error(t, err)
		require.True(t, MatchesErrorType(err, ErrorTypeSuspendMismatch))
		require.True(t, IsFatal(err))

		// The suspended state is untouched and still resumable
		require.NoError(t, e.Resume(testContext(t), ResumeEvent{Name: "expected"}))
		require.Equal(t, ExecutionStatusCompleted, e.Status())
	})

	t.Run("unknown instance", func(t *testing.T) {
		e := newTestExecution(t, src, ExecutionOptions{})
		err := e.Resume(testContext(t), ResumeEvent{Name: "expected"})
		require.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("corrupt state", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.PersistSuspendedState(context.Background(), "proc_corrupt", []byte("{not json")))
		e := resumeExecution(t, src, "proc_corrupt", store, ExecutionOptions{})
		err := e.Resume(testContext(t), ResumeEvent{Name: "expected"})
		require.Error(t, err)
		require.True(t, MatchesErrorType(err, ErrorTypeSerialization))
	})

	t.Run("state without root thread", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.PersistSuspendedState(context.Background(), "proc_empty", []byte(`{"threads":{}}`)))
		e := resumeExecution(t, src, "proc_empty", store, ExecutionOptions{})
		err := e.Resume(testContext(t), ResumeEvent{Name: "expected"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "missing root thread")
	})
}

func TestParallelSuspensionsGetUniqueEvents(t *testing.T) {
	src := `
flows:
  main:
    - parallel:
        - - suspend: signal
          - set: {first: '${value}'}
        - - suspend: signal
          - set: {second: '${value}'}
      out: [first, second]
`
	store := NewMemoryStore()
	e := newTestExecution(t, src, ExecutionOptions{States: store, Checkpoints: store})
	require.NoError(t, e.Run(testContext(t)))

	pending := e.PendingEvents()
	require.Len(t, pending, 2)
	require.Equal(t, "signal", pending[0].Event)
	require.Equal(t, ThreadID(2), pending[0].ThreadID)
	require.Equal(t, "signal-1", pending[1].Event)
	require.Equal(t, ThreadID(3), pending[1].ThreadID)

	require.NoError(t, e.Resume(testContext(t), ResumeEvent{Name: "signal-1", Payload: map[string]any{"value": "b"}}))
	require.Equal(t, ExecutionStatusSuspended, e.Status())
	require.Len(t, e.PendingEvents(), 1)

	require.NoError(t, e.Resume(testContext(t), ResumeEvent{Name: "signal", Payload: map[string]any{"value": "a"}}))
	require.Equal(t, ExecutionStatusCompleted, e.Status())
	vars := e.Variables()
	require.Equal(t, "a", vars["first"])
	require.Equal(t, "b", vars["second"])
}

func TestStackTraceSurvivesResume(t *testing.T) {
	src := `
flows:
  main:
    - call: inner
      name: run inner
  inner:
    - suspend: go
    - throw: "failed after ${reason}"
`
	store := NewMemoryStore()
	e := newTestExecution(t, src, ExecutionOptions{States: store, Checkpoints: store})
	require.NoError(t, e.Run(testContext(t)))

	resumed := resumeExecution(t, src, e.ID(), store, ExecutionOptions{})
	err := resumed.Resume(testContext(t), ResumeEvent{Name: "go", Payload: map[string]any{"reason": "resume"}})
	require.Error(t, err)

	var perr *ProcessError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "failed after resume", perr.Cause)
	require.Contains(t, perr.Stack, "at inner [throw failed after ${reason}]")
	require.Contains(t, perr.Stack, "at main [run inner]")
}

// countdownTask suspends until it has been resumed count times
type countdownTask struct{}

func (countdownTask) Name() string { return "countdown" }

func (countdownTask) Execute(ctx Context, input map[string]any) (any, error) {
	return Suspend("tick", map[string]any{"left": input["count"], "seen": []any{}}), nil
}

func (countdownTask) Resume(ctx Context, in ResumeInput) (any, error) {
	left, _ := in.State["left"].(int64)
	seen, _ := in.State["seen"].([]any)
	seen = append(seen, in.Payload["n"])
	if left--; left > 0 {
		return Suspend(in.Event, map[string]any{"left": left, "seen": seen}), nil
	}
	return map[string]any{"seen": seen, "input": in.Input}, nil
}

func TestReentrantTaskResumedTwice(t *testing.T) {
	src := `
flows:
  main:
    - task: countdown
      in: {count: 2}
      out: result
`
	store := NewMemoryStore()
	tasks := NewTaskRegistry(countdownTask{})
	callLog := NewMemoryTaskCallLogger()
	e := newTestExecution(t, src, ExecutionOptions{Tasks: tasks, States: store, Checkpoints: store, TaskLogger: callLog})
	require.NoError(t, e.Run(testContext(t)))
	require.Equal(t, []PendingEvent{{Event: "tick", Kind: SuspendTask, Name: "countdown", ThreadID: RootThreadID}}, e.PendingEvents())

	first := resumeExecution(t, src, e.ID(), store, ExecutionOptions{Tasks: tasks, TaskLogger: callLog})
	require.NoError(t, first.Resume(testContext(t), ResumeEvent{Name: "tick", Payload: map[string]any{"n": 1}}))
	require.Equal(t, ExecutionStatusSuspended, first.Status())
	require.Len(t, first.PendingEvents(), 1)

	second := resumeExecution(t, src, e.ID(), store, ExecutionOptions{Tasks: tasks, TaskLogger: callLog})
	require.NoError(t, second.Resume(testContext(t), ResumeEvent{Name: "tick", Payload: map[string]any{"n": 2}}))
	require.Equal(t, ExecutionStatusCompleted, second.Status())
	require.Equal(t, map[string]any{
		"seen":  []any{int64(1), int64(2)},
		"input": map[string]any{"count": int64(2)},
	}, second.Variables()["result"])

	history, err := callLog.GetTaskCallHistory(testContext(t), e.ID())
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, map[string]any{"suspended": "tick"}, history[0].Result)
}
