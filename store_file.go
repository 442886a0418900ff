package flowvm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is a file-based Store. Each instance gets a directory holding
// state.json and a checkpoints/ directory with one JSON file per name.
// latest.json links to the most recently uploaded checkpoint.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a new file-based store
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".deepnoodle", "flowvm", "instances")
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

func (s *FileStore) instanceDir(instanceID string) (string, error) {
	if err := validFileName(instanceID); err != nil {
		return "", fmt.Errorf("invalid instance id: %w", err)
	}
	return filepath.Join(s.dataDir, instanceID), nil
}

// Upload saves the checkpoint to disk
func (s *FileStore) Upload(ctx context.Context, checkpoint *Checkpoint) error {
	if err := validFileName(checkpoint.Name); err != nil {
		return fmt.Errorf("invalid checkpoint name: %w", err)
	}
	instanceDir, err := s.instanceDir(checkpoint.InstanceID)
	if err != nil {
		return err
	}
	checkpointDir := filepath.Join(instanceDir, "checkpoints")
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	checkpointPath := filepath.Join(checkpointDir, checkpoint.Name+".json")
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := writeFileAtomic(checkpointPath, data); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	latestPath := filepath.Join(instanceDir, "latest.json")
	if err := s.updateLatestSymlink(checkpointPath, latestPath); err != nil {
		return fmt.Errorf("failed to update latest symlink: %w", err)
	}
	return nil
}

// Restore loads a checkpoint by name
func (s *FileStore) Restore(ctx context.Context, instanceID, name string) (*Checkpoint, error) {
	if err := validFileName(name); err != nil {
		return nil, fmt.Errorf("invalid checkpoint name: %w", err)
	}
	instanceDir, err := s.instanceDir(instanceID)
	if err != nil {
		return nil, err
	}
	return readCheckpoint(filepath.Join(instanceDir, "checkpoints", name+".json"))
}

// Latest loads the most recently uploaded checkpoint
func (s *FileStore) Latest(ctx context.Context, instanceID string) (*Checkpoint, error) {
	instanceDir, err := s.instanceDir(instanceID)
	if err != nil {
		return nil, err
	}
	return readCheckpoint(filepath.Join(instanceDir, "latest.json"))
}

// List returns the checkpoints of an instance, oldest first
func (s *FileStore) List(ctx context.Context, instanceID string) ([]*Checkpoint, error) {
	instanceDir, err := s.instanceDir(instanceID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(instanceDir, "checkpoints"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	var out []*Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		cp, err := readCheckpoint(filepath.Join(instanceDir, "checkpoints", entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortCheckpoints(out)
	return out, nil
}

// PersistSuspendedState writes the state of a suspended instance
func (s *FileStore) PersistSuspendedState(ctx context.Context, instanceID string, state []byte) error {
	instanceDir, err := s.instanceDir(instanceID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(instanceDir, 0755); err != nil {
		return fmt.Errorf("failed to create instance directory: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(instanceDir, "state.json"), state); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// LoadState reads the state of a suspended instance
func (s *FileStore) LoadState(ctx context.Context, instanceID string) ([]byte, error) {
	instanceDir, err := s.instanceDir(instanceID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(instanceDir, "state.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	return data, nil
}

// Delete removes all data stored for an instance
func (s *FileStore) Delete(ctx context.Context, instanceID string) error {
	instanceDir, err := s.instanceDir(instanceID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(instanceDir); err != nil {
		return fmt.Errorf("failed to delete instance directory: %w", err)
	}
	return nil
}

// ListInstances returns the ids of all instances with stored data
func (s *FileStore) ListInstances(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// updateLatestSymlink updates the symlink to point to the latest checkpoint
func (s *FileStore) updateLatestSymlink(checkpointPath, latestPath string) error {
	// Remove existing symlink if it exists
	if _, err := os.Lstat(latestPath); err == nil {
		if err := os.Remove(latestPath); err != nil {
			return fmt.Errorf("failed to remove existing latest symlink: %w", err)
		}
	}

	// On Windows, copy the file instead of creating a symlink
	if strings.Contains(os.Getenv("OS"), "Windows") {
		data, err := os.ReadFile(checkpointPath)
		if err != nil {
			return fmt.Errorf("failed to read checkpoint for copy: %w", err)
		}
		return os.WriteFile(latestPath, data, 0644)
	}

	// Create relative symlink
	rel, err := filepath.Rel(filepath.Dir(latestPath), checkpointPath)
	if err != nil {
		return fmt.Errorf("failed to create relative path: %w", err)
	}
	return os.Symlink(rel, latestPath)
}

func readCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func validFileName(name string) error {
	switch {
	case name == "":
		return errors.New("name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("name %q is reserved", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("name %q contains a path separator", name)
	}
	return nil
}
