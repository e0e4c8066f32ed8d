// Package memory provides an in-process session state store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/louisbranch/livesession/internal/services/state/storage"
)

// Store keeps session state in a map. It is safe for concurrent use and
// loses everything when the process exits.
type Store struct {
	mu      sync.RWMutex
	records map[string]storage.Snapshot
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]storage.Snapshot)}
}

// GetState returns the stored blob.
func (s *Store) GetState(ctx context.Context, sessionID string) ([]byte, error) {
	snap, err := s.ReadSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return snap.State, nil
}

// GetVersion returns the stored version, or "" when absent.
func (s *Store) GetVersion(ctx context.Context, sessionID string) (string, error) {
	snap, err := s.ReadSnapshot(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return snap.Version, nil
}

// ReadSnapshot returns blob and version together.
func (s *Store) ReadSnapshot(ctx context.Context, sessionID string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if err := requireID(sessionID); err != nil {
		return storage.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.records[sessionID]
	if !ok {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return storage.Snapshot{State: clone(snap.State), Version: snap.Version}, nil
}

// SetState writes blob and version unconditionally.
func (s *Store) SetState(ctx context.Context, sessionID string, state []byte, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := requireID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sessionID] = storage.Snapshot{State: clone(state), Version: version}
	return nil
}

// CompareAndSetState writes only when the stored version equals expected.
func (s *Store) CompareAndSetState(ctx context.Context, sessionID string, state []byte, version, expected string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := requireID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.records[sessionID].Version; current != expected {
		return fmt.Errorf("%w: stored %q, expected %q", storage.ErrVersionMismatch, current, expected)
	}
	s.records[sessionID] = storage.Snapshot{State: clone(state), Version: version}
	return nil
}

func requireID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
