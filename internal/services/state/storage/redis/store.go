package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/louisbranch/livesession/internal/services/state/storage"
)

// DefaultKeyPrefix namespaces session state hashes.
const DefaultKeyPrefix = "livesession:state:"

const (
	fieldState   = "state"
	fieldVersion = "version"
)

// Store keeps each session in one hash with state and version fields. A
// single HSET writes both, so the pair is always applied together.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = prefix
		}
	}
}

// NewStore wraps an existing client.
func NewStore(client goredis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	s := &Store{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// GetState returns the stored blob.
func (s *Store) GetState(ctx context.Context, sessionID string) ([]byte, error) {
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	blob, err := s.client.HGet(ctx, s.key(sessionID), fieldState).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	return blob, nil
}

// GetVersion returns the stored version, or "" when absent.
func (s *Store) GetVersion(ctx context.Context, sessionID string) (string, error) {
	if err := checkID(sessionID); err != nil {
		return "", err
	}
	version, err := s.client.HGet(ctx, s.key(sessionID), fieldVersion).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// ReadSnapshot reads both fields with one HMGET.
func (s *Store) ReadSnapshot(ctx context.Context, sessionID string) (storage.Snapshot, error) {
	if err := checkID(sessionID); err != nil {
		return storage.Snapshot{}, err
	}
	values, err := s.client.HMGet(ctx, s.key(sessionID), fieldState, fieldVersion).Result()
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	state, ok := values[0].(string)
	if !ok {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	version, _ := values[1].(string)
	return storage.Snapshot{State: []byte(state), Version: version}, nil
}

// SetState writes both fields unconditionally.
func (s *Store) SetState(ctx context.Context, sessionID string, state []byte, version string) error {
	if err := checkID(sessionID); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(sessionID), fieldState, state, fieldVersion, version).Err(); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// CompareAndSetState watches the session hash, checks the stored version and
// writes inside MULTI/EXEC. A concurrent writer aborts the transaction.
func (s *Store) CompareAndSetState(ctx context.Context, sessionID string, state []byte, version, expected string) error {
	if err := checkID(sessionID); err != nil {
		return err
	}
	key := s.key(sessionID)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Result()
		if errors.Is(err, goredis.Nil) {
			current = ""
		} else if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		if current != expected {
			return fmt.Errorf("%w: stored %q, expected %q", storage.ErrVersionMismatch, current, expected)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldState, state, fieldVersion, version)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent write", storage.ErrVersionMismatch)
	}
	if err != nil && !errors.Is(err, storage.ErrVersionMismatch) {
		return fmt.Errorf("compare and set state: %w", err)
	}
	return err
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func checkID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}
