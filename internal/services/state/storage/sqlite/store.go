// Package sqlite provides the SQLite-backed session state store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/livesession/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/livesession/internal/services/state/storage"
	"github.com/louisbranch/livesession/internal/services/state/storage/sqlite/migrations"
)

// Store keeps one row per session holding the state blob and its version.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

// Open opens a SQLite state store at the provided path and applies the
// embedded schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer connection keeps compare-and-set free of SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, clock: time.Now}, nil
}

// Close closes the underlying SQLite database.
//
// Close is nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
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
	if err := s.check(ctx, sessionID); err != nil {
		return "", err
	}
	var version string
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT version FROM session_state WHERE session_id = ?", sessionID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// ReadSnapshot returns blob and version from one row read.
func (s *Store) ReadSnapshot(ctx context.Context, sessionID string) (storage.Snapshot, error) {
	if err := s.check(ctx, sessionID); err != nil {
		return storage.Snapshot{}, err
	}
	var snap storage.Snapshot
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT state, version FROM session_state WHERE session_id = ?", sessionID,
	).Scan(&snap.State, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return snap, nil
}

// SetState upserts blob and version in one statement.
func (s *Store) SetState(ctx context.Context, sessionID string, state []byte, version string) error {
	if err := s.check(ctx, sessionID); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO session_state (session_id, state, version, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
    state = excluded.state,
    version = excluded.version,
    updated_at = excluded.updated_at`,
		sessionID, state, version, s.now(),
	)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// CompareAndSetState writes only when the stored version equals expected.
func (s *Store) CompareAndSetState(ctx context.Context, sessionID string, state []byte, version, expected string) error {
	if err := s.check(ctx, sessionID); err != nil {
		return err
	}

	var (
		res sql.Result
		err error
	)
	if expected == "" {
		res, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO session_state (session_id, state, version, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO NOTHING`,
			sessionID, state, version, s.now(),
		)
	} else {
		res, err = s.sqlDB.ExecContext(ctx, `
UPDATE session_state
SET state = ?, version = ?, updated_at = ?
WHERE session_id = ? AND version = ?`,
			state, version, s.now(), sessionID, expected,
		)
	}
	if err != nil {
		return fmt.Errorf("compare and set state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("compare and set rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("%w: expected %q", storage.ErrVersionMismatch, expected)
	}
	return nil
}

func (s *Store) check(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}

func (s *Store) now() int64 {
	return s.clock().UTC().UnixMilli()
}
