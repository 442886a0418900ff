package flowvm

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps checkpoints and suspended state in memory. Stored
// bytes are copied on the way in and out.
type MemoryStore struct {
	mutex       sync.RWMutex
	states      map[string][]byte
	checkpoints map[string]map[string]*Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:      map[string][]byte{},
		checkpoints: map[string]map[string]*Checkpoint{},
	}
}

func (s *MemoryStore) Upload(ctx context.Context, checkpoint *Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	byName, ok := s.checkpoints[checkpoint.InstanceID]
	if !ok {
		byName = map[string]*Checkpoint{}
		s.checkpoints[checkpoint.InstanceID] = byName
	}
	byName[checkpoint.Name] = copyCheckpoint(checkpoint)
	return nil
}

func (s *MemoryStore) Restore(ctx context.Context, instanceID, name string) (*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	cp, ok := s.checkpoints[instanceID][name]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return copyCheckpoint(cp), nil
}

func (s *MemoryStore) List(ctx context.Context, instanceID string) ([]*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []*Checkpoint
	for _, cp := range s.checkpoints[instanceID] {
		out = append(out, copyCheckpoint(cp))
	}
	sortCheckpoints(out)
	return out, nil
}

func (s *MemoryStore) PersistSuspendedState(ctx context.Context, instanceID string, state []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.states[instanceID] = bytes.Clone(state)
	return nil
}

func (s *MemoryStore) LoadState(ctx context.Context, instanceID string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	state, ok := s.states[instanceID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return bytes.Clone(state), nil
}

func copyCheckpoint(cp *Checkpoint) *Checkpoint {
	c := *cp
	c.State = bytes.Clone(cp.State)
	return &c
}

func sortCheckpoints(cps []*Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		if cps[i].CreatedAt.Equal(cps[j].CreatedAt) {
			return cps[i].Name < cps[j].Name
		}
		return cps[i].CreatedAt.Before(cps[j].CreatedAt)
	})
}
