package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/louisbranch/livesession/internal/platform/errors"
	"github.com/louisbranch/livesession/internal/platform/telemetry/metrics/metricstest"
	"github.com/louisbranch/livesession/internal/services/state/storage"
	"github.com/louisbranch/livesession/internal/services/state/storage/memory"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Second)
		return at
	}
}

func newTestService(t *testing.T, store storage.Store, opts ...Option) *Service {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	opts = append([]Option{WithClock(fixedClock()), WithRetry(3, time.Millisecond)}, opts...)
	svc, err := NewService(store, opts...)
	require.NoError(t, err)
	return svc
}

func mustInt(t *testing.T, tree Tree, path string) int64 {
	t.Helper()
	v, ok := tree.Get(path)
	require.True(t, ok, "missing %s", path)
	n, ok := v.AsInt()
	require.True(t, ok, "%s is %s", path, v.Kind())
	return n
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
}

func TestGetStateOfUnknownSessionIsEmpty(t *testing.T) {
	svc := newTestService(t, nil)

	tree, version, err := svc.Snapshot(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Empty(t, tree)
	assert.Empty(t, version)
}

func TestUpdateStateIsVisibleExactly(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.UpdateState(ctx, "s-1", []Update{
		{Path: "combat.round", Value: Int(1)},
		{Path: "session.name", Value: String("Night at the Inn")},
	})
	require.NoError(t, err)

	version, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(3)}})
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	tree, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), mustInt(t, tree, "combat.round"))
	name, _ := tree.Get("session.name")
	assert.Equal(t, String("Night at the Inn"), name)
	assert.Len(t, tree, 2)
}

func TestUpdateStateRecordsPreviousValues(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "a.b", Value: Int(1)}})
	require.NoError(t, err)
	_, err = svc.UpdateState(ctx, "s-1", []Update{{Path: "a.b", Value: Int(2)}, {Path: "a.c", Value: Bool(true)}})
	require.NoError(t, err)

	history := svc.History("s-1")
	require.Len(t, history, 2)
	assert.True(t, history[0].Updates[0].Previous.IsNull())
	assert.Equal(t, Int(1), history[1].Updates[0].Previous)
	assert.True(t, history[1].Updates[1].Previous.IsNull())
	assert.Equal(t, history[0].Version, history[1].Parent)
}

func TestUpdateStateRejectsPathThroughScalar(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	before, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(3)}})
	require.NoError(t, err)

	_, err = svc.UpdateState(ctx, "s-1", []Update{
		{Path: "notes", Value: String("first")},
		{Path: "combat.round.extra", Value: Int(1)},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStateInvalidPath, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsStateError(err))

	tree, version, err := svc.Snapshot(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, before, version)
	_, ok := tree.Get("notes")
	assert.False(t, ok)
}

func TestUpdateStateRejectsEmptySegment(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.UpdateState(context.Background(), "s-1", []Update{{Path: "combat..round", Value: Int(1)}})
	assert.Equal(t, apperrors.CodeStateInvalidPath, apperrors.CodeOf(err))
}

func TestUpdateStateRequiresSessionID(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.UpdateState(context.Background(), " ", []Update{{Path: "a", Value: Int(1)}})
	assert.Equal(t, apperrors.CodeStateSessionIDMissing, apperrors.CodeOf(err))
}

func TestEmptyBatchKeepsVersion(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	v1, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "a", Value: Int(1)}})
	require.NoError(t, err)

	v2, err := svc.UpdateState(ctx, "s-1", nil)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, svc.History("s-1"), 1)
}

func TestRepeatedWriteProducesNewVersion(t *testing.T) {
	svc := newTestService(t, nil, WithClock(func() time.Time { return time.Unix(0, 0) }))
	ctx := context.Background()

	v1, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "a", Value: Int(1)}})
	require.NoError(t, err)
	v2, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "a", Value: Int(1)}})
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestVersionIsDeterministic(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	build := func() Version {
		svc := newTestService(t, nil, WithClock(func() time.Time { return at }))
		v, err := svc.UpdateState(context.Background(), "s-1", []Update{
			{Path: "combat.round", Value: Int(1)},
			{Path: "combat.status", Value: String("active")},
		})
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, build(), build())
}

func TestStateSurvivesReload(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store)
	ctx := context.Background()

	version, err := svc.UpdateState(ctx, "s-1", []Update{
		{Path: "combat.round", Value: Int(2)},
		{Path: "combat.ratio", Value: Float(2)},
	})
	require.NoError(t, err)

	fresh := newTestService(t, store)
	tree, got, err := fresh.Snapshot(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, version, got)
	round, _ := tree.Get("combat.round")
	ratio, _ := tree.Get("combat.ratio")
	assert.Equal(t, KindInt, round.Kind())
	assert.Equal(t, KindFloat, ratio.Kind())
}

func TestGetStateReturnsPrivateCopy(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(1)}})
	require.NoError(t, err)

	tree, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	_, err = tree.Set(Path{"combat", "round"}, Int(42))
	require.NoError(t, err)

	again, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mustInt(t, again, "combat.round"))
}

func TestResolveConflictAtCurrentVersionApplies(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	v1, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(3)}})
	require.NoError(t, err)

	v2, err := svc.ResolveConflict(ctx, "s-1", v1, []Update{{Path: "combat.round", Value: Int(99)}})
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	tree, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), mustInt(t, tree, "combat.round"))
}

func TestResolveConflictMergesIndependentPaths(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	v1, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(3)}})
	require.NoError(t, err)
	_, err = svc.UpdateState(ctx, "s-1", []Update{{Path: "players.p1.hp", Value: Int(7)}})
	require.NoError(t, err)

	_, err = svc.ResolveConflict(ctx, "s-1", v1, []Update{{Path: "combat.round", Value: Int(99)}})
	require.NoError(t, err)

	tree, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), mustInt(t, tree, "combat.round"))
	assert.Equal(t, int64(7), mustInt(t, tree, "players.p1.hp"))
}

func TestResolveConflictServerWinsContestedPaths(t *testing.T) {
	h := metricstest.New(t)
	svc := newTestService(t, nil, WithMetrics(h.Recorder))
	ctx := context.Background()

	v1, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(1)}})
	require.NoError(t, err)
	_, err = svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(2)}})
	require.NoError(t, err)

	_, err = svc.ResolveConflict(ctx, "s-1", v1, []Update{
		{Path: "combat.round", Value: Int(99)},
		{Path: "players.p2.hp", Value: Int(10)},
	})
	require.NoError(t, err)

	tree, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), mustInt(t, tree, "combat.round"))
	assert.Equal(t, int64(10), mustInt(t, tree, "players.p2.hp"))
	assert.Equal(t, int64(1), h.Counter(t, "livesession.state.conflicts"))
}

func TestResolveConflictTreatsPrefixesAsContested(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	v1, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(1)}})
	require.NoError(t, err)
	_, err = svc.UpdateState(ctx, "s-1", []Update{{Path: "combat", Value: Map(map[string]Value{"status": String("ended")})}})
	require.NoError(t, err)

	_, err = svc.ResolveConflict(ctx, "s-1", v1, []Update{{Path: "combat.round", Value: Int(5)}})
	require.NoError(t, err)

	tree, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	_, ok := tree.Get("combat.round")
	assert.False(t, ok)
}

func TestResolveConflictAllDroppedReturnsCurrentVersion(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	v1, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(1)}})
	require.NoError(t, err)
	v2, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(2)}})
	require.NoError(t, err)

	got, err := svc.ResolveConflict(ctx, "s-1", v1, []Update{{Path: "combat.round", Value: Int(99)}})
	require.NoError(t, err)
	assert.Equal(t, v2, got)
	assert.Len(t, svc.History("s-1"), 2)
}

func TestResolveConflictRejectsEvictedVersion(t *testing.T) {
	svc := newTestService(t, nil, WithMaxVersions(2))
	ctx := context.Background()

	first, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "n", Value: Int(0)}})
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "n", Value: Int(int64(i))}})
		require.NoError(t, err)
	}
	assert.Len(t, svc.History("s-1"), 2)

	_, err = svc.ResolveConflict(ctx, "s-1", first, []Update{{Path: "other", Value: Int(1)}})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStateVersionTooOld, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsStateError(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestResolveConflictRejectsUnknownVersion(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "n", Value: Int(0)}})
	require.NoError(t, err)

	_, err = svc.ResolveConflict(ctx, "s-1", "not-a-version", []Update{{Path: "n", Value: Int(1)}})
	assert.Equal(t, apperrors.CodeStateVersionTooOld, apperrors.CodeOf(err))
}

func TestConcurrentAppliesAreSerialized(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	const writers = 25
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := svc.Apply(gctx, "s-1", func(current Tree) ([]Update, error) {
				n := int64(0)
				if v, ok := current.Get("counter"); ok {
					n, _ = v.AsInt()
				}
				return []Update{{Path: "counter", Value: Int(n + 1)}}, nil
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	tree, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), mustInt(t, tree, "counter"))

	history := svc.History("s-1")
	require.Len(t, history, writers)
	for i := 1; i < len(history); i++ {
		assert.Equal(t, history[i-1].Version, history[i].Parent)
	}
}

func TestApplyPassesBuilderErrorsThrough(t *testing.T) {
	svc := newTestService(t, nil)
	errStop := errors.New("stop")

	_, err := svc.Apply(context.Background(), "s-1", func(Tree) ([]Update, error) {
		return nil, errStop
	})
	assert.ErrorIs(t, err, errStop)

	domain := apperrors.New(apperrors.CodeCombatNotFound, "no combat")
	_, err = svc.Apply(context.Background(), "s-1", func(Tree) ([]Update, error) {
		return nil, domain
	})
	assert.Equal(t, apperrors.CodeCombatNotFound, apperrors.CodeOf(err))
}

func TestCommitRetriesAfterForeignWrite(t *testing.T) {
	store := memory.New()
	a := newTestService(t, store)
	b := newTestService(t, store)
	ctx := context.Background()

	v1, err := a.UpdateState(ctx, "s-1", []Update{{Path: "from.a", Value: Int(1)}})
	require.NoError(t, err)
	_, err = b.UpdateState(ctx, "s-1", []Update{{Path: "from.b", Value: Int(1)}})
	require.NoError(t, err)

	// a still caches v1; the store rejects its write and a retries on fresh state.
	_, err = a.UpdateState(ctx, "s-1", []Update{{Path: "from.a", Value: Int(2)}})
	require.NoError(t, err)

	tree, err := newTestService(t, store).GetState(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), mustInt(t, tree, "from.a"))
	assert.Equal(t, int64(1), mustInt(t, tree, "from.b"))

	// a's log no longer chains back to v1 without a gap.
	_, err = a.ResolveConflict(ctx, "s-1", v1, []Update{{Path: "x", Value: Int(1)}})
	assert.Equal(t, apperrors.CodeStateVersionTooOld, apperrors.CodeOf(err))
}

type conflictingStore struct {
	*memory.Store
}

func (s conflictingStore) CompareAndSetState(context.Context, string, []byte, string, string) error {
	return fmt.Errorf("%w: always", storage.ErrVersionMismatch)
}

func TestCommitGivesUpAfterRetries(t *testing.T) {
	svc := newTestService(t, conflictingStore{memory.New()})

	_, err := svc.UpdateState(context.Background(), "s-1", []Update{{Path: "a", Value: Int(1)}})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStateVersionConflict, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.ErrorIs(t, err, storage.ErrVersionMismatch)
}

// flakyStore rejects the next failures compare-and-set calls as lost races.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) CompareAndSetState(ctx context.Context, sessionID string, blob []byte, version, expected string) error {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: injected", storage.ErrVersionMismatch)
	}
	return s.Store.CompareAndSetState(ctx, sessionID, blob, version, expected)
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

func TestResolveConflictCountsDropsOncePerResolution(t *testing.T) {
	h := metricstest.New(t)
	store := &flakyStore{Store: memory.New()}
	svc := newTestService(t, store, WithMetrics(h.Recorder), WithRetry(5, time.Millisecond))
	ctx := context.Background()

	v1, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(1)}})
	require.NoError(t, err)
	_, err = svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(2)}})
	require.NoError(t, err)

	store.failNext(2)
	_, err = svc.ResolveConflict(ctx, "s-1", v1, []Update{
		{Path: "combat.round", Value: Int(99)},
		{Path: "players.p1.hp", Value: Int(7)},
	})
	require.NoError(t, err)

	tree, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), mustInt(t, tree, "combat.round"))
	assert.Equal(t, int64(7), mustInt(t, tree, "players.p1.hp"))
	assert.Equal(t, int64(1), h.Counter(t, "livesession.state.conflicts"))
}

func TestResolveConflictFailureCountsNoDrops(t *testing.T) {
	h := metricstest.New(t)
	svc := newTestService(t, nil, WithMetrics(h.Recorder))
	ctx := context.Background()

	v1, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(1)}})
	require.NoError(t, err)
	_, err = svc.UpdateState(ctx, "s-1", []Update{{Path: "combat.round", Value: Int(2)}})
	require.NoError(t, err)

	_, err = svc.ResolveConflict(ctx, "s-1", v1, []Update{
		{Path: "combat.round", Value: Int(99)},
		{Path: "players..hp", Value: Int(7)},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStateInvalidPath, apperrors.CodeOf(err))
	assert.Equal(t, int64(0), h.Counter(t, "livesession.state.conflicts"))
}

type failingStore struct {
	*memory.Store
	err error
}

func (s failingStore) CompareAndSetState(context.Context, string, []byte, string, string) error {
	return s.err
}

func TestStoreFailureLeavesStateUnchanged(t *testing.T) {
	inner := memory.New()
	good := newTestService(t, inner)
	ctx := context.Background()
	v1, err := good.UpdateState(ctx, "s-1", []Update{{Path: "a", Value: Int(1)}})
	require.NoError(t, err)

	boom := errors.New("disk full")
	svc := newTestService(t, failingStore{Store: inner, err: boom})
	_, err = svc.UpdateState(ctx, "s-1", []Update{{Path: "a", Value: Int(2)}})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStateStoreFailure, apperrors.CodeOf(err))
	assert.ErrorIs(t, err, boom)

	tree, version, err := svc.Snapshot(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, v1, version)
	assert.Equal(t, int64(1), mustInt(t, tree, "a"))
	assert.Empty(t, svc.History("s-1"))
}

type brokenReadStore struct {
	*memory.Store
}

func (brokenReadStore) ReadSnapshot(context.Context, string) (storage.Snapshot, error) {
	return storage.Snapshot{}, errors.New("connection refused")
}

func TestGetStateReportsStoreFailure(t *testing.T) {
	svc := newTestService(t, brokenReadStore{memory.New()})

	_, err := svc.GetState(context.Background(), "s-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStateStoreFailure, apperrors.CodeOf(err))
}

// plainStore hides the optional interfaces of the memory store.
type plainStore struct {
	inner *memory.Store
}

func (s plainStore) GetState(ctx context.Context, id string) ([]byte, error) {
	return s.inner.GetState(ctx, id)
}

func (s plainStore) SetState(ctx context.Context, id string, state []byte, version string) error {
	return s.inner.SetState(ctx, id, state, version)
}

func (s plainStore) GetVersion(ctx context.Context, id string) (string, error) {
	return s.inner.GetVersion(ctx, id)
}

func TestWorksWithMinimalStore(t *testing.T) {
	store := plainStore{inner: memory.New()}
	svc := newTestService(t, store)
	ctx := context.Background()

	version, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "a", Value: Int(1)}})
	require.NoError(t, err)

	stored, err := store.GetVersion(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, string(version), stored)
}

type memoryBus struct {
	mu       sync.Mutex
	handlers map[int]func(string, string)
	next     int
}

func (b *memoryBus) Publish(_ context.Context, sessionID, version string) error {
	b.mu.Lock()
	handlers := make([]func(string, string), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(sessionID, version)
	}
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, handle func(string, string)) (io.Closer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[int]func(string, string))
	}
	id := b.next
	b.next++
	b.handlers[id] = handle
	return closerFunc(func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		return nil
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestInvalidationEvictsPeerCache(t *testing.T) {
	store := memory.New()
	bus := &memoryBus{}
	a := newTestService(t, store, WithInvalidator(bus))
	b := newTestService(t, store, WithInvalidator(bus))
	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, b.Initialize(ctx))
	defer a.Cleanup(ctx)
	defer b.Cleanup(ctx)

	_, err := a.UpdateState(ctx, "s-1", []Update{{Path: "round", Value: Int(1)}})
	require.NoError(t, err)
	_, err = b.GetState(ctx, "s-1")
	require.NoError(t, err)

	v2, err := a.UpdateState(ctx, "s-1", []Update{{Path: "round", Value: Int(2)}})
	require.NoError(t, err)

	tree, version, err := b.Snapshot(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, v2, version)
	assert.Equal(t, int64(2), mustInt(t, tree, "round"))
}

func TestCleanupDropsLocalState(t *testing.T) {
	bus := &memoryBus{}
	svc := newTestService(t, nil, WithInvalidator(bus))
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx))

	_, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "a", Value: Int(1)}})
	require.NoError(t, err)
	require.NoError(t, svc.Cleanup(ctx))

	assert.Empty(t, svc.History("s-1"))
	bus.mu.Lock()
	assert.Empty(t, bus.handlers)
	bus.mu.Unlock()
}

func TestForgetDropsHistoryButKeepsStoredState(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	version, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "a", Value: Int(1)}})
	require.NoError(t, err)

	svc.Forget("s-1")
	assert.Empty(t, svc.History("s-1"))

	current, err := svc.CurrentVersion(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, version, current)
}

func TestSessionsAreIndependent(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.UpdateState(ctx, "s-1", []Update{{Path: "a", Value: Int(1)}})
	require.NoError(t, err)
	_, err = svc.UpdateState(ctx, "s-2", []Update{{Path: "b", Value: Int(2)}})
	require.NoError(t, err)

	tree, err := svc.GetState(ctx, "s-1")
	require.NoError(t, err)
	_, ok := tree.Get("b")
	assert.False(t, ok)
}
