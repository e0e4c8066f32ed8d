package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates no state has been written for the session.
var ErrNotFound = errors.New("session state not found")

// ErrVersionMismatch indicates a compare-and-set found a different stored
// version than the writer expected.
var ErrVersionMismatch = errors.New("session state version mismatch")

// Snapshot is a state blob with the version it was written under.
type Snapshot struct {
	State   []byte
	Version string
}

// Store is the minimal state backend.
type Store interface {
	// GetState returns the stored blob, or ErrNotFound.
	GetState(ctx context.Context, sessionID string) ([]byte, error)
	// SetState writes blob and version as one atomic pair.
	SetState(ctx context.Context, sessionID string, state []byte, version string) error
	// GetVersion returns the stored version, or "" when nothing is stored.
	GetVersion(ctx context.Context, sessionID string) (string, error)
}

// SnapshotReader reads blob and version in one consistent read.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, sessionID string) (Snapshot, error)
}

// CompareAndSwapper writes only when the stored version equals expected.
// An expected version of "" means the session must have no stored state.
type CompareAndSwapper interface {
	CompareAndSetState(ctx context.Context, sessionID string, state []byte, version, expected string) error
}

// ReadSnapshot reads through a SnapshotReader when store implements one and
// falls back to two separate reads otherwise. ErrNotFound yields an empty
// snapshot.
func ReadSnapshot(ctx context.Context, store Store, sessionID string) (Snapshot, error) {
	if reader, ok := store.(SnapshotReader); ok {
		snap, err := reader.ReadSnapshot(ctx, sessionID)
		if errors.Is(err, ErrNotFound) {
			return Snapshot{}, nil
		}
		return snap, err
	}

	blob, err := store.GetState(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get state: %w", err)
	}
	version, err := store.GetVersion(ctx, sessionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get version: %w", err)
	}
	return Snapshot{State: blob, Version: version}, nil
}

// Write persists through CompareAndSetState when supported, and through a
// plain SetState otherwise.
func Write(ctx context.Context, store Store, sessionID string, state []byte, version, expected string) error {
	if cas, ok := store.(CompareAndSwapper); ok {
		return cas.CompareAndSetState(ctx, sessionID, state, version, expected)
	}
	return store.SetState(ctx, sessionID, state, version)
}
