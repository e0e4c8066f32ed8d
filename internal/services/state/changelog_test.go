package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainRecords(n int) []ChangeRecord {
	out := make([]ChangeRecord, n)
	parent := Version("")
	for i := range out {
		v := Version(string(rune('a' + i)))
		out[i] = ChangeRecord{Version: v, Parent: parent}
		parent = v
	}
	return out
}

func TestChangeLogEvictsOldest(t *testing.T) {
	log := newChangeLog(3)
	for _, r := range chainRecords(5) {
		log.append(r)
	}
	records := log.snapshot()
	require.Len(t, records, 3)
	assert.Equal(t, Version("c"), records[0].Version)
	assert.Equal(t, Version("e"), records[2].Version)

	_, ok := log.since("a")
	assert.False(t, ok)
}

func TestChangeLogBetween(t *testing.T) {
	log := newChangeLog(10)
	for _, r := range chainRecords(4) {
		log.append(r)
	}

	records, ok := log.between("b", "d")
	require.True(t, ok)
	require.Len(t, records, 2)
	assert.Equal(t, Version("c"), records[0].Version)

	records, ok = log.between("d", "d")
	require.True(t, ok)
	assert.Empty(t, records)

	_, ok = log.between("b", "z")
	assert.False(t, ok)

	log.append(ChangeRecord{Version: "f", Parent: "foreign"})
	_, ok = log.between("b", "f")
	assert.False(t, ok)
}

func TestSessionLocksSerialize(t *testing.T) {
	locks := newSessionLocks()
	ctx := context.Background()

	unlock, err := locks.lock(ctx, "s-1")
	require.NoError(t, err)

	other, err := locks.lock(ctx, "s-2")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locks.lock(waitCtx, "s-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	again, err := locks.lock(ctx, "s-1")
	require.NoError(t, err)
	again()

	locks.mu.Lock()
	assert.Empty(t, locks.slots)
	locks.mu.Unlock()
}

func TestCacheDropsLoadThatRacedWithEviction(t *testing.T) {
	cache := newReadThroughCache()
	ctx := context.Background()

	_, err := cache.get(ctx, "s-1", func(context.Context) (snapshot, error) {
		cache.evict("s-1")
		return snapshot{tree: NewTree(), version: "stale"}, nil
	})
	require.NoError(t, err)

	loads := 0
	got, err := cache.get(ctx, "s-1", func(context.Context) (snapshot, error) {
		loads++
		return snapshot{tree: NewTree(), version: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, loads)
	assert.Equal(t, Version("fresh"), got.version)

	cache.put("s-1", snapshot{tree: NewTree(), version: "v2"})
	assert.False(t, cache.evictUnless("s-1", "v2"))
	assert.True(t, cache.evictUnless("s-1", "v3"))
}
