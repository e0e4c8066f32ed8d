package state

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/livesession/internal/platform/errors"
	"github.com/louisbranch/livesession/internal/platform/logging"
	"github.com/louisbranch/livesession/internal/platform/telemetry/metrics"
	"github.com/louisbranch/livesession/internal/services/state/storage"
)

// DefaultMaxVersions is the change-log window kept per session.
const DefaultMaxVersions = 100

const (
	tracerName         = "github.com/louisbranch/livesession/internal/services/state"
	defaultMaxAttempts = 5
	defaultRetryDelay  = 10 * time.Millisecond
)

// BuildFunc computes the updates to apply from the current tree. The tree is
// a private copy. Returning no updates commits nothing.
type BuildFunc func(current Tree) ([]Update, error)

// Service applies versioned updates to session state.
type Service struct {
	store       storage.Store
	logger      *zap.Logger
	metrics     *metrics.Recorder
	tracer      trace.Tracer
	now         func() time.Time
	maxVersions int
	maxAttempts uint
	retryDelay  time.Duration
	invalidator Invalidator

	locks *sessionLocks
	cache *readThroughCache

	logsMu sync.Mutex
	logs   map[string]*changeLog

	subMu sync.Mutex
	sub   io.Closer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(logger) }
}

// WithMetrics sets the telemetry recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = recorder }
}

// WithTracerProvider sets where spans are recorded.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Service) {
		if provider != nil {
			s.tracer = provider.Tracer(tracerName)
		}
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxVersions bounds the change log per session.
func WithMaxVersions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxVersions = n
		}
	}
}

// WithRetry sets how many times a commit rejected by the store's
// compare-and-set is attempted, and the first backoff delay.
func WithRetry(maxAttempts uint, initialDelay time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if initialDelay > 0 {
			s.retryDelay = initialDelay
		}
	}
}

// WithInvalidator enables cross-instance cache invalidation.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// NewService creates a state service backed by store.
func NewService(store storage.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	s := &Service{
		store:       store,
		logger:      zap.NewNop(),
		tracer:      otel.GetTracerProvider().Tracer(tracerName),
		now:         time.Now,
		maxVersions: DefaultMaxVersions,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		locks:       newSessionLocks(),
		cache:       newReadThroughCache(),
		logs:        make(map[string]*changeLog),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Initialize subscribes to commit notices when an invalidator is set.
func (s *Service) Initialize(ctx context.Context) error {
	if s.invalidator == nil {
		return nil
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub != nil {
		return nil
	}
	sub, err := s.invalidator.Subscribe(ctx, s.handleNotice)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStateStoreFailure, "subscribe to state invalidation", err)
	}
	s.sub = sub
	s.logger.Info("state invalidation subscribed")
	return nil
}

// Cleanup stops the invalidation subscription and drops cached state and
// change logs.
func (s *Service) Cleanup(context.Context) error {
	s.subMu.Lock()
	sub := s.sub
	s.sub = nil
	s.subMu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
	}
	s.cache.clear()
	s.logsMu.Lock()
	s.logs = make(map[string]*changeLog)
	s.logsMu.Unlock()
	return err
}

// GetState returns a copy of the session's current tree. A session with no
// stored state yields an empty tree.
func (s *Service) GetState(ctx context.Context, sessionID string) (Tree, error) {
	tree, _, err := s.Snapshot(ctx, sessionID)
	return tree, err
}

// Snapshot returns a copy of the current tree together with its version.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (Tree, Version, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, "", err
	}
	snap, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return snap.tree.Clone(), snap.version, nil
}

// CurrentVersion returns the session's current version, "" when nothing has
// been written.
func (s *Service) CurrentVersion(ctx context.Context, sessionID string) (Version, error) {
	_, version, err := s.Snapshot(ctx, sessionID)
	return version, err
}

// UpdateState applies updates in order as one batch and returns the new
// version. An empty batch writes nothing and returns the current version.
func (s *Service) UpdateState(ctx context.Context, sessionID string, updates []Update) (Version, error) {
	return s.Apply(ctx, sessionID, func(Tree) ([]Update, error) {
		return updates, nil
	})
}

// Apply runs build against the current tree and commits its updates while
// holding the session. When another instance commits first, the whole cycle
// runs again against fresh state. Errors returned by build are passed
// through unchanged.
func (s *Service) Apply(ctx context.Context, sessionID string, build BuildFunc) (Version, error) {
	if err := checkSessionID(sessionID); err != nil {
		return "", err
	}
	return s.commitWithRetry(ctx, "state.apply", sessionID, func(current snapshot) ([]Update, error) {
		return build(current.tree.Clone())
	})
}

// ResolveConflict applies updates a client prepared against clientVersion.
//
// When clientVersion is current the updates apply as-is. Otherwise updates
// touching a path changed since clientVersion are dropped and the rest apply.
// If nothing is left the current version is returned unchanged. A
// clientVersion that is no longer retained fails with
// STATE_VERSION_TOO_OLD; the client must resync the full state.
func (s *Service) ResolveConflict(ctx context.Context, sessionID string, clientVersion Version, pending []Update) (Version, error) {
	if err := checkSessionID(sessionID); err != nil {
		return "", err
	}
	var dropped []string
	version, err := s.commitWithRetry(ctx, "state.resolve_conflict", sessionID, func(current snapshot) ([]Update, error) {
		dropped = nil
		if clientVersion == current.version {
			return pending, nil
		}

		intervening, ok := s.changeLogFor(sessionID).between(clientVersion, current.version)
		if !ok {
			return nil, apperrors.WrapWithMetadata(apperrors.CodeStateVersionTooOld, "client version too old",
				map[string]string{"SessionID": sessionID, "ClientVersion": string(clientVersion)}, nil)
		}

		var touched []string
		for _, record := range intervening {
			touched = append(touched, record.Paths()...)
		}
		kept := make([]Update, 0, len(pending))
		for _, update := range pending {
			if overlapsAny(update.Path, touched) {
				dropped = append(dropped, update.Path)
				continue
			}
			kept = append(kept, update)
		}
		return kept, nil
	})
	if err != nil {
		return "", err
	}
	if len(dropped) > 0 {
		s.metrics.StateConflict(ctx, len(dropped))
		s.logger.Warn("dropped contested updates",
			zap.String("session_id", sessionID),
			zap.String("client_version", string(clientVersion)),
			zap.Strings("paths", dropped),
		)
	}
	return version, nil
}

// History returns a copy of the retained change records, oldest first.
func (s *Service) History(sessionID string) []ChangeRecord {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	log, ok := s.logs[sessionID]
	if !ok {
		return nil
	}
	return log.snapshot()
}

// Forget drops the cached state and change log of a session. The stored
// state is untouched.
func (s *Service) Forget(sessionID string) {
	s.cache.evict(sessionID)
	s.logsMu.Lock()
	delete(s.logs, sessionID)
	s.logsMu.Unlock()
}

type planFunc func(current snapshot) ([]Update, error)

func (s *Service) commitWithRetry(ctx context.Context, spanName, sessionID string, plan planFunc) (Version, error) {
	ctx, span := s.tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryDelay

	version, err := backoff.Retry(ctx, func() (Version, error) {
		version, err := s.commit(ctx, sessionID, plan)
		if err != nil && !apperrors.IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return version, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(s.maxAttempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.Wrap(apperrors.CodeStateStoreFailure, "commit state", err)
		}
		return "", err
	}
	span.SetAttributes(attribute.String("state.version", string(version)))
	return version, nil
}

// commit runs one read-plan-write cycle under the session lock.
func (s *Service) commit(ctx context.Context, sessionID string, plan planFunc) (Version, error) {
	unlock, err := s.locks.lock(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer unlock()

	current, err := s.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	updates, err := plan(current)
	if err != nil {
		return "", err
	}
	if len(updates) == 0 {
		return current.version, nil
	}

	next := current.tree.Clone()
	applied := make([]AppliedUpdate, 0, len(updates))
	for _, update := range updates {
		path, err := ParsePath(update.Path)
		if err != nil {
			return "", apperrors.WrapWithMetadata(apperrors.CodeStateInvalidPath, "invalid state path",
				map[string]string{"Path": update.Path}, err)
		}
		previous, err := next.Set(path, update.Value)
		if err != nil {
			return "", apperrors.WrapWithMetadata(apperrors.CodeStateInvalidPath, "invalid state path",
				map[string]string{"Path": update.Path}, err)
		}
		applied = append(applied, AppliedUpdate{Path: path.String(), Value: update.Value.Clone(), Previous: previous})
	}

	at := s.now().UTC()
	version, err := computeVersion(current.version, next, applied, at)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeStateEncodingFailure, "compute state version", err)
	}
	blob, err := json.Marshal(next)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeStateEncodingFailure, "encode state", err)
	}

	if err := storage.Write(ctx, s.store, sessionID, blob, string(version), string(current.version)); err != nil {
		s.cache.evict(sessionID)
		if errors.Is(err, storage.ErrVersionMismatch) {
			s.logger.Info("state changed concurrently, retrying",
				zap.String("session_id", sessionID),
				zap.String("expected_version", string(current.version)),
			)
			return "", apperrors.WrapWithMetadata(apperrors.CodeStateVersionConflict, "state changed concurrently",
				map[string]string{"SessionID": sessionID}, err)
		}
		s.logger.Error("persist state", zap.String("session_id", sessionID), zap.Error(err))
		return "", apperrors.WrapWithMetadata(apperrors.CodeStateStoreFailure, "persist state",
			map[string]string{"SessionID": sessionID}, err)
	}

	s.cache.put(sessionID, snapshot{tree: next, version: version})
	s.changeLogFor(sessionID).append(ChangeRecord{
		Version:   version,
		Parent:    current.version,
		Timestamp: at,
		Updates:   applied,
	})
	s.metrics.StateUpdated(ctx)
	s.logger.Debug("state committed",
		zap.String("session_id", sessionID),
		zap.String("version", string(version)),
		zap.Int("updates", len(applied)),
	)

	if s.invalidator != nil {
		if err := s.invalidator.Publish(ctx, sessionID, string(version)); err != nil {
			s.logger.Warn("publish state invalidation", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return version, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (snapshot, error) {
	return s.cache.get(ctx, sessionID, func(ctx context.Context) (snapshot, error) {
		stored, err := storage.ReadSnapshot(ctx, s.store, sessionID)
		if err != nil {
			s.logger.Error("load state", zap.String("session_id", sessionID), zap.Error(err))
			return snapshot{}, apperrors.WrapWithMetadata(apperrors.CodeStateStoreFailure, "load state",
				map[string]string{"SessionID": sessionID}, err)
		}
		tree := NewTree()
		if len(stored.State) > 0 {
			if err := json.Unmarshal(stored.State, &tree); err != nil {
				return snapshot{}, apperrors.WrapWithMetadata(apperrors.CodeStateEncodingFailure, "decode stored state",
					map[string]string{"SessionID": sessionID}, err)
			}
		}
		return snapshot{tree: tree, version: Version(stored.Version)}, nil
	})
}

func (s *Service) changeLogFor(sessionID string) *lockedChangeLog {
	return &lockedChangeLog{service: s, sessionID: sessionID}
}

// lockedChangeLog guards access to one session's log with logsMu.
type lockedChangeLog struct {
	service   *Service
	sessionID string
}

func (l *lockedChangeLog) append(record ChangeRecord) {
	s := l.service
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	log, ok := s.logs[l.sessionID]
	if !ok {
		log = newChangeLog(s.maxVersions)
		s.logs[l.sessionID] = log
	}
	log.append(record)
}

func (l *lockedChangeLog) between(from, to Version) ([]ChangeRecord, bool) {
	s := l.service
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	log, ok := s.logs[l.sessionID]
	if !ok {
		return nil, false
	}
	records, ok := log.between(from, to)
	if !ok {
		return nil, false
	}
	out := make([]ChangeRecord, len(records))
	copy(out, records)
	return out, true
}

func (s *Service) handleNotice(sessionID, version string) {
	if s.cache.evictUnless(sessionID, Version(version)) {
		s.logger.Debug("evicted stale state",
			zap.String("session_id", sessionID),
			zap.String("version", version),
		)
	}
}

func overlapsAny(path string, touched []string) bool {
	for _, t := range touched {
		if Overlaps(path, t) {
			return true
		}
	}
	return false
}

func checkSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.New(apperrors.CodeStateSessionIDMissing, "session id is required")
	}
	return nil
}
