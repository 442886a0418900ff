package flowvm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const checkpointFlow = `
flows:
  main:
    - set: {counter: 1}
    - checkpoint: first
    - expr: ${counter + 1}
      out: counter
    - checkpoint: "after-${counter}"
    - set: {done: true}
`

func TestCheckpointCapture(t *testing.T) {
	store := NewMemoryStore()
	e := newTestExecution(t, checkpointFlow, ExecutionOptions{Checkpoints: store, States: store})
	require.NoError(t, e.Run(testContext(t)))

	cps, err := e.Checkpoints(testContext(t))
	require.NoError(t, err)
	require.Len(t, cps, 2)
	require.Equal(t, "first", cps[0].Name)
	require.Equal(t, "after-2", cps[1].Name)
	for _, cp := range cps {
		require.Equal(t, e.ID(), cp.InstanceID)
		require.Equal(t, RootThreadID, cp.ThreadID)
		require.Contains(t, cp.ID, "ckpt_")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	e := newTestExecution(t, checkpointFlow, ExecutionOptions{Checkpoints: store, States: store})
	require.NoError(t, e.Run(testContext(t)))

	cp, err := store.Restore(testContext(t), e.ID(), "first")
	require.NoError(t, err)
	state, err := UnmarshalProcessState(cp.State)
	require.NoError(t, err)
	data, err := state.Marshal()
	require.NoError(t, err)
	require.Equal(t, string(cp.State), string(data))

	clone, err := state.Clone()
	require.NoError(t, err)
	clone.Threads[RootThreadID].Frames[0].Locals["counter"] = int64(50)
	require.Equal(t, int64(1), state.Threads[RootThreadID].Frames[0].Locals["counter"])
}

func TestRestoreAndContinue(t *testing.T) {
	store := NewMemoryStore()
	e := newTestExecution(t, checkpointFlow, ExecutionOptions{Checkpoints: store, States: store})
	require.NoError(t, e.Run(testContext(t)))
	final, err := e.Snapshot()
	require.NoError(t, err)

	require.NoError(t, e.Restore(testContext(t), "first"))
	require.Equal(t, ExecutionStatusPending, e.Status())
	vars := e.Variables()
	require.Equal(t, int64(1), vars["counter"])
	require.NotContains(t, vars, "done")

	require.NoError(t, e.Continue(testContext(t)))
	require.Equal(t, ExecutionStatusCompleted, e.Status())
	require.Equal(t, int64(2), e.Variables()["counter"])

	again, err := e.Snapshot()
	require.NoError(t, err)
	require.Equal(t, string(final), string(again))
}

func TestRestoreIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	e := newTestExecution(t, checkpointFlow, ExecutionOptions{Checkpoints: store, States: store})
	require.NoError(t, e.Run(testContext(t)))

	require.NoError(t, e.Restore(testContext(t), "first"))
	first, err := e.Snapshot()
	require.NoError(t, err)

	// Mutating the restored state must not leak into the checkpoint
	require.NoError(t, e.Continue(testContext(t)))

	require.NoError(t, e.Restore(testContext(t), "first"))
	second, err := e.Snapshot()
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestRestoreFromAnotherExecution(t *testing.T) {
	store := NewMemoryStore()
	e := newTestExecution(t, checkpointFlow, ExecutionOptions{Checkpoints: store, States: store})
	require.NoError(t, e.Run(testContext(t)))

	other := resumeExecution(t, checkpointFlow, e.ID(), store, ExecutionOptions{})
	require.NoError(t, other.Restore(testContext(t), "after-2"))
	require.NoError(t, other.Continue(testContext(t)))
	require.Equal(t, e.Variables(), other.Variables())
}

func TestRestoreErrors(t *testing.T) {
	store := NewMemoryStore()
	e := newTestExecution(t, checkpointFlow, ExecutionOptions{Checkpoints: store, States: store})

	err := e.Restore(testContext(t), "first")
	require.ErrorIs(t, err, ErrCheckpointNotFound)

	err = e.Continue(testContext(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no state")
}

// failingUploads rejects every checkpoint upload
type failingUploads struct {
	*MemoryStore
}

func (failingUploads) Upload(ctx context.Context, cp *Checkpoint) error {
	return errors.New("bucket unavailable")
}

func TestCheckpointUploadFailure(t *testing.T) {
	store := failingUploads{NewMemoryStore()}
	e := newTestExecution(t, `
flows:
  main:
    - checkpoint: first
      error:
        - set: {recovered: '${lastError["message"]}'}
`, ExecutionOptions{Checkpoints: store, States: store})

	require.NoError(t, e.Run(testContext(t)))
	require.Contains(t, e.Variables()["recovered"], "bucket unavailable")
}
