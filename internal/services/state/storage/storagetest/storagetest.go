// Package storagetest runs the shared contract checks against a state backend.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/livesession/internal/services/state/storage"
)

// Backend is what every shipped store implements.
type Backend interface {
	storage.Store
	storage.SnapshotReader
	storage.CompareAndSwapper
}

// Run exercises the contract against stores returned by open. Each subtest
// gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("missing session", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		_, err := store.GetState(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		version, err := store.GetVersion(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, version)

		_, err = store.ReadSnapshot(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		require.NoError(t, store.SetState(ctx, "s-1", []byte(`{"a":1}`), "v1"))
		require.NoError(t, store.SetState(ctx, "s-1", []byte(`{"a":2}`), "v2"))

		blob, err := store.GetState(ctx, "s-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":2}`, string(blob))

		version, err := store.GetVersion(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "v2", version)

		snap, err := store.ReadSnapshot(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "v2", snap.Version)
		assert.JSONEq(t, `{"a":2}`, string(snap.State))
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		require.NoError(t, store.SetState(ctx, "s-1", []byte(`{"who":"one"}`), "v1"))
		require.NoError(t, store.SetState(ctx, "s-2", []byte(`{"who":"two"}`), "v9"))

		version, err := store.GetVersion(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "v1", version)
	})

	t.Run("compare and set", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		require.NoError(t, store.CompareAndSetState(ctx, "s-1", []byte(`{"n":1}`), "v1", ""))
		err := store.CompareAndSetState(ctx, "s-1", []byte(`{"n":9}`), "v9", "")
		assert.ErrorIs(t, err, storage.ErrVersionMismatch)

		err = store.CompareAndSetState(ctx, "s-1", []byte(`{"n":9}`), "v9", "stale")
		assert.ErrorIs(t, err, storage.ErrVersionMismatch)

		require.NoError(t, store.CompareAndSetState(ctx, "s-1", []byte(`{"n":2}`), "v2", "v1"))

		snap, err := store.ReadSnapshot(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "v2", snap.Version)
		assert.JSONEq(t, `{"n":2}`, string(snap.State))
	})

	t.Run("compare and set admits one racing writer", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.SetState(ctx, "s-1", []byte(`{}`), "base"))

		const writers = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				version := string(rune('a' + i))
				if err := store.CompareAndSetState(ctx, "s-1", []byte(`{}`), version, "base"); err == nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("empty session id", func(t *testing.T) {
		store := open(t)
		assert.Error(t, store.SetState(context.Background(), " ", []byte(`{}`), "v1"))
	})
}
