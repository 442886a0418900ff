// Package storetest provides a conformance suite for flowvm.Store
// implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/flowvm"
)

// Run exercises store against the flowvm.Store contract. Instance ids are
// derived from the test name so suites may share a backend.
func Run(t *testing.T, store flowvm.Store) {
	t.Helper()

	t.Run("state round trip", func(t *testing.T) {
		ctx := context.Background()
		id := flowvm.NewInstanceID()

		_, err := store.LoadState(ctx, id)
		require.ErrorIs(t, err, flowvm.ErrStateNotFound)

		require.NoError(t, store.PersistSuspendedState(ctx, id, []byte(`{"a":1}`)))
		data, err := store.LoadState(ctx, id)
		require.NoError(t, err)
		require.JSONEq(t, `{"a":1}`, string(data))

		require.NoError(t, store.PersistSuspendedState(ctx, id, []byte(`{"a":2}`)))
		data, err = store.LoadState(ctx, id)
		require.NoError(t, err)
		require.JSONEq(t, `{"a":2}`, string(data))
	})

	t.Run("checkpoints", func(t *testing.T) {
		ctx := context.Background()
		id := flowvm.NewInstanceID()
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		_, err := store.Restore(ctx, id, "missing")
		require.ErrorIs(t, err, flowvm.ErrCheckpointNotFound)

		list, err := store.List(ctx, id)
		require.NoError(t, err)
		require.Empty(t, list)

		first := &flowvm.Checkpoint{
			ID: "ckpt_1", InstanceID: id, Name: "first",
			ThreadID: 1, FrameID: 3,
			State:     []byte(`{"step":1}`),
			CreatedAt: base,
		}
		second := &flowvm.Checkpoint{
			ID: "ckpt_2", InstanceID: id, Name: "second",
			ThreadID: 2, FrameID: 7,
			State:     []byte(`{"step":2}`),
			CreatedAt: base.Add(time.Second),
		}
		require.NoError(t, store.Upload(ctx, first))
		require.NoError(t, store.Upload(ctx, second))

		cp, err := store.Restore(ctx, id, "first")
		require.NoError(t, err)
		require.Equal(t, "ckpt_1", cp.ID)
		require.Equal(t, flowvm.ThreadID(1), cp.ThreadID)
		require.Equal(t, int64(3), cp.FrameID)
		require.JSONEq(t, `{"step":1}`, string(cp.State))
		require.True(t, cp.CreatedAt.Equal(base))

		list, err = store.List(ctx, id)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "first", list[0].Name)
		require.Equal(t, "second", list[1].Name)

		// Uploading an existing name replaces it
		replaced := *first
		replaced.ID = "ckpt_3"
		replaced.State = []byte(`{"step":3}`)
		replaced.CreatedAt = base.Add(2 * time.Second)
		require.NoError(t, store.Upload(ctx, &replaced))

		cp, err = store.Restore(ctx, id, "first")
		require.NoError(t, err)
		require.Equal(t, "ckpt_3", cp.ID)
		require.JSONEq(t, `{"step":3}`, string(cp.State))

		list, err = store.List(ctx, id)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "second", list[0].Name)
		require.Equal(t, "first", list[1].Name)
	})

	t.Run("instances are isolated", func(t *testing.T) {
		ctx := context.Background()
		a, b := flowvm.NewInstanceID(), flowvm.NewInstanceID()
		require.NoError(t, store.Upload(ctx, &flowvm.Checkpoint{
			ID: "ckpt_a", InstanceID: a, Name: "shared",
			State: []byte(`{}`), CreatedAt: time.Now().UTC(),
		}))
		_, err := store.Restore(ctx, b, "shared")
		require.ErrorIs(t, err, flowvm.ErrCheckpointNotFound)
	})
}
