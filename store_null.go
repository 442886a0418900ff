package flowvm

import (
	"context"
)

// NullStore is a no-op Store. Nothing persisted to it can be loaded again.
type NullStore struct{}

func NewNullStore() *NullStore {
	return &NullStore{}
}

func (s *NullStore) Upload(ctx context.Context, checkpoint *Checkpoint) error {
	return nil
}

func (s *NullStore) Restore(ctx context.Context, instanceID, name string) (*Checkpoint, error) {
	return nil, ErrCheckpointNotFound
}

func (s *NullStore) List(ctx context.Context, instanceID string) ([]*Checkpoint, error) {
	return nil, nil
}

func (s *NullStore) PersistSuspendedState(ctx context.Context, instanceID string, state []byte) error {
	return nil
}

func (s *NullStore) LoadState(ctx context.Context, instanceID string) ([]byte, error) {
	return nil, ErrStateNotFound
}
