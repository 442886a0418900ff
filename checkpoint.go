package flowvm

import (
	"context"
	"time"
)

// Checkpoint is a named, immutable snapshot of process state together with
// the thread and frame that captured it.
type Checkpoint struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	Name       string    `json:"name"`
	ThreadID   ThreadID  `json:"thread_id"`
	FrameID    int64     `json:"frame_id"`
	State      []byte    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// CheckpointStore persists named checkpoints per process instance.
// Uploading a name that already exists replaces it.
type CheckpointStore interface {
	// Upload stores a checkpoint
	Upload(ctx context.Context, checkpoint *Checkpoint) error

	// Restore loads a checkpoint by name, returning ErrCheckpointNotFound
	// when it does not exist
	Restore(ctx context.Context, instanceID, name string) (*Checkpoint, error)

	// List returns the checkpoints of an instance, oldest first
	List(ctx context.Context, instanceID string) ([]*Checkpoint, error)
}

// StateStore persists the state of suspended processes
type StateStore interface {
	// PersistSuspendedState stores the serialized state of an instance
	PersistSuspendedState(ctx context.Context, instanceID string, state []byte) error

	// LoadState loads the last persisted state, returning ErrStateNotFound
	// when there is none
	LoadState(ctx context.Context, instanceID string) ([]byte, error)
}

// Store is implemented by backends that hold both checkpoints and
// suspended state.
type Store interface {
	CheckpointStore
	StateStore
}
