// Package redis implements flowvm.Store using Redis. States are plain
// string keys, checkpoints are JSON documents indexed per instance by a
// sorted set scored by creation time.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/deepnoodle-ai/flowvm"
)

// Compile-time interface check.
var _ flowvm.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix sets the key prefix. The default is "flowvm".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store persists flowvm state in Redis
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
	prefix string
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), prefix: "flowvm"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) stateKey(instanceID string) string {
	return fmt.Sprintf("%s:state:%s", s.prefix, instanceID)
}

func (s *Store) checkpointKey(instanceID, name string) string {
	return fmt.Sprintf("%s:checkpoint:%s:%s", s.prefix, instanceID, name)
}

func (s *Store) indexKey(instanceID string) string {
	return fmt.Sprintf("%s:checkpoints:%s", s.prefix, instanceID)
}

func (s *Store) PersistSuspendedState(ctx context.Context, instanceID string, state []byte) error {
	if err := s.client.Set(ctx, s.stateKey(instanceID), state, 0).Err(); err != nil {
		return fmt.Errorf("flowvm/redis: persist state: %w", err)
	}
	return nil
}

func (s *Store) LoadState(ctx context.Context, instanceID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.stateKey(instanceID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, flowvm.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flowvm/redis: load state: %w", err)
	}
	return data, nil
}

func (s *Store) Upload(ctx context.Context, cp *flowvm.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("flowvm/redis: encode checkpoint: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(cp.InstanceID, cp.Name), data, 0)
	pipe.ZAdd(ctx, s.indexKey(cp.InstanceID), goredis.Z{
		Score:  float64(cp.CreatedAt.UnixNano()),
		Member: cp.Name,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flowvm/redis: upload checkpoint: %w", err)
	}
	s.logger.Debug("flowvm/redis: checkpoint stored", "instance_id", cp.InstanceID, "checkpoint", cp.Name)
	return nil
}

func (s *Store) Restore(ctx context.Context, instanceID, name string) (*flowvm.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(instanceID, name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, flowvm.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flowvm/redis: restore checkpoint: %w", err)
	}
	var cp flowvm.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("flowvm/redis: decode checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *Store) List(ctx context.Context, instanceID string) ([]*flowvm.Checkpoint, error) {
	names, err := s.client.ZRange(ctx, s.indexKey(instanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("flowvm/redis: list checkpoints: %w", err)
	}
	out := make([]*flowvm.Checkpoint, 0, len(names))
	for _, name := range names {
		cp, err := s.Restore(ctx, instanceID, name)
		if errors.Is(err, flowvm.ErrCheckpointNotFound) {
			s.logger.Warn("flowvm/redis: dangling checkpoint index entry", "instance_id", instanceID, "checkpoint", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
