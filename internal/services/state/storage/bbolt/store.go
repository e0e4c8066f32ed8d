// Package bbolt provides an embedded BoltDB-backed session state store.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/louisbranch/livesession/internal/services/state/storage"
)

const stateBucket = "session_state"

// record is the value stored under each session key.
type record struct {
	State   []byte `json:"state"`
	Version string `json:"version"`
}

// Store keeps one record per session in a single bucket.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
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

// ReadSnapshot returns blob and version from one read transaction.
func (s *Store) ReadSnapshot(ctx context.Context, sessionID string) (storage.Snapshot, error) {
	if err := s.check(ctx, sessionID); err != nil {
		return storage.Snapshot{}, err
	}

	var snap storage.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, ok, err := readRecord(tx, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
		snap = storage.Snapshot{State: rec.State, Version: rec.Version}
		return nil
	})
	if err != nil {
		return storage.Snapshot{}, err
	}
	return snap, nil
}

// SetState writes blob and version unconditionally.
func (s *Store) SetState(ctx context.Context, sessionID string, state []byte, version string) error {
	if err := s.check(ctx, sessionID); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return writeRecord(tx, sessionID, record{State: state, Version: version})
	})
}

// CompareAndSetState writes only when the stored version equals expected.
// Bolt serializes write transactions, so the check and write cannot
// interleave with another writer.
func (s *Store) CompareAndSetState(ctx context.Context, sessionID string, state []byte, version, expected string) error {
	if err := s.check(ctx, sessionID); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		current, _, err := readRecord(tx, sessionID)
		if err != nil {
			return err
		}
		if current.Version != expected {
			return fmt.Errorf("%w: stored %q, expected %q", storage.ErrVersionMismatch, current.Version, expected)
		}
		return writeRecord(tx, sessionID, record{State: state, Version: version})
	})
}

func readRecord(tx *bbolt.Tx, sessionID string) (record, bool, error) {
	bucket := tx.Bucket([]byte(stateBucket))
	if bucket == nil {
		return record{}, false, fmt.Errorf("state bucket is missing")
	}
	payload := bucket.Get(sessionKey(sessionID))
	if payload == nil {
		return record{}, false, nil
	}
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return record{}, false, fmt.Errorf("unmarshal state record: %w", err)
	}
	return rec, true, nil
}

func writeRecord(tx *bbolt.Tx, sessionID string, rec record) error {
	bucket := tx.Bucket([]byte(stateBucket))
	if bucket == nil {
		return fmt.Errorf("state bucket is missing")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal state record: %w", err)
	}
	return bucket.Put(sessionKey(sessionID), payload)
}

func (s *Store) check(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		if err != nil {
			return fmt.Errorf("create state bucket: %w", err)
		}
		return nil
	})
}

func sessionKey(id string) []byte {
	return []byte(id)
}
