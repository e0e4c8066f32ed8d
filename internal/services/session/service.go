package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/livesession/internal/platform/errors"
	"github.com/louisbranch/livesession/internal/platform/id"
	"github.com/louisbranch/livesession/internal/platform/logging"
	"github.com/louisbranch/livesession/internal/platform/telemetry/metrics"
	"github.com/louisbranch/livesession/internal/services/state"
)

// StatePath is where a session keeps its own record.
const StatePath = "session"

// DefaultMaxPlayers caps a roster when neither the service nor the session
// sets a limit.
const DefaultMaxPlayers = 6

// State is the part of the state service sessions need.
type State interface {
	GetState(ctx context.Context, sessionID string) (state.Tree, error)
	Apply(ctx context.Context, sessionID string, build state.BuildFunc) (state.Version, error)
}

// Service manages session lifecycle and membership.
type Service struct {
	state      State
	logger     *zap.Logger
	metrics    *metrics.Recorder
	now        func() time.Time
	newID      func() (string, error)
	maxPlayers int

	mu     sync.Mutex
	active map[string]int
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

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how session and player ids are made.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithDefaultMaxPlayers sets the roster cap for sessions created without
// their own.
func WithDefaultMaxPlayers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPlayers = n
		}
	}
}

// CreateOption configures one new session.
type CreateOption func(*Session)

// WithMaxPlayers caps the session's roster.
func WithMaxPlayers(n int) CreateOption {
	return func(s *Session) { s.MaxPlayers = n }
}

// NewService creates a session service on top of st.
func NewService(st State, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("state service is required")
	}
	s := &Service{
		state:      st,
		logger:     zap.NewNop(),
		now:        time.Now,
		newID:      id.NewID,
		maxPlayers: DefaultMaxPlayers,
		active:     make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Initialize publishes the current session gauges.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	n := len(s.active)
	s.mu.Unlock()
	s.metrics.ActiveSessions(ctx, n)
	return nil
}

// Cleanup forgets the sessions tracked by this instance.
func (s *Service) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	s.active = make(map[string]int)
	s.mu.Unlock()
	s.metrics.ActiveSessions(ctx, 0)
	return nil
}

// CreateSession stores a new session in created status and returns its id.
func (s *Service) CreateSession(ctx context.Context, campaignID, name string, metadata map[string]any, opts ...CreateOption) (string, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return "", apperrors.New(apperrors.CodeSessionCampaignRequired, "campaign id is required")
	}
	sessionID, err := s.newID()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSessionStateFailure, "generate session id", err)
	}

	now := s.now().UTC()
	created := &Session{
		ID:         sessionID,
		CampaignID: campaignID,
		Name:       strings.TrimSpace(name),
		Status:     StatusCreated,
		Players:    []Player{},
		MaxPlayers: s.maxPlayers,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(created)
		}
	}
	if created.MaxPlayers <= 0 {
		return "", apperrors.WithMetadata(apperrors.CodeSessionInvalidMaxPlayers, "max players must be positive",
			map[string]string{"MaxPlayers": strconv.Itoa(created.MaxPlayers)})
	}

	_, after, err := s.update(ctx, sessionID, func(*Session) (*Session, error) {
		return created, nil
	})
	if err != nil {
		return "", s.wrap(err, sessionID, "create session")
	}
	s.track(ctx, after)
	s.logger.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("campaign_id", campaignID),
		zap.Int("max_players", created.MaxPlayers),
	)
	return sessionID, nil
}

// AddPlayer gives characterID a membership record. The first player
// activates a created session.
func (s *Service) AddPlayer(ctx context.Context, sessionID, characterID, userID string) (Player, error) {
	characterID = strings.TrimSpace(characterID)
	if characterID == "" {
		return Player{}, apperrors.New(apperrors.CodeSessionCharacterRequired, "character id is required")
	}
	playerID, err := s.newID()
	if err != nil {
		return Player{}, apperrors.Wrap(apperrors.CodeSessionStateFailure, "generate player id", err)
	}

	before, after, err := s.update(ctx, sessionID, func(current *Session) (*Session, error) {
		if err := requireOpen(current, sessionID); err != nil {
			return nil, err
		}
		if current.indexOfCharacter(characterID) >= 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeSessionDuplicatePlayer, "character already in session",
				map[string]string{"SessionID": sessionID, "CharacterID": characterID})
		}
		if current.full() {
			return nil, apperrors.WithMetadata(apperrors.CodeSessionFull, "session is full",
				map[string]string{"SessionID": sessionID, "MaxPlayers": strconv.Itoa(current.MaxPlayers)})
		}
		now := s.now().UTC()
		current.Players = append(current.Players, Player{
			ID:          playerID,
			CharacterID: characterID,
			UserID:      strings.TrimSpace(userID),
			Connected:   true,
			LastSeen:    now,
			JoinedAt:    now,
		})
		if current.Status == StatusCreated {
			current.Status = StatusActive
		}
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return Player{}, s.wrap(err, sessionID, "add player")
	}
	if before.Status != after.Status {
		s.logger.Info("session active", zap.String("session_id", sessionID))
	}
	s.track(ctx, after)
	p, _ := after.Player(characterID)
	return p, nil
}

// RemovePlayer drops characterID's membership. It does nothing for missing
// or ended sessions and for characters that are not members. The session
// ends when its last player leaves.
func (s *Service) RemovePlayer(ctx context.Context, sessionID, characterID string) error {
	characterID = strings.TrimSpace(characterID)
	_, after, err := s.update(ctx, sessionID, func(current *Session) (*Session, error) {
		if current == nil || current.ended() {
			return nil, nil
		}
		idx := current.indexOfCharacter(characterID)
		if idx < 0 {
			return nil, nil
		}
		now := s.now().UTC()
		current.Players = append(current.Players[:idx], current.Players[idx+1:]...)
		if len(current.Players) == 0 {
			current.end(now)
		}
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return s.wrap(err, sessionID, "remove player")
	}
	if after == nil {
		return nil
	}
	s.track(ctx, after)
	if after.ended() {
		s.logger.Info("session ended", zap.String("session_id", sessionID), zap.String("reason", "no players"))
	}
	return nil
}

// EndSession ends the session. Ending an ended session does nothing.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	_, after, err := s.update(ctx, sessionID, func(current *Session) (*Session, error) {
		if current == nil {
			return nil, notFound(sessionID)
		}
		if current.ended() {
			return nil, nil
		}
		now := s.now().UTC()
		current.end(now)
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return s.wrap(err, sessionID, "end session")
	}
	if after == nil {
		return nil
	}
	s.track(ctx, after)
	s.logger.Info("session ended", zap.String("session_id", sessionID), zap.Int("players", len(after.Players)))
	return nil
}

// PauseSession moves an active session to paused.
func (s *Service) PauseSession(ctx context.Context, sessionID string) error {
	return s.transition(ctx, sessionID, StatusActive, StatusPaused)
}

// ResumeSession moves a paused session back to active.
func (s *Service) ResumeSession(ctx context.Context, sessionID string) error {
	return s.transition(ctx, sessionID, StatusPaused, StatusActive)
}

func (s *Service) transition(ctx context.Context, sessionID string, from, to Status) error {
	_, _, err := s.update(ctx, sessionID, func(current *Session) (*Session, error) {
		if current == nil {
			return nil, notFound(sessionID)
		}
		if current.Status != from {
			return nil, apperrors.WithMetadata(apperrors.CodeSessionInvalidTransition, "invalid session transition",
				map[string]string{"SessionID": sessionID, "From": string(current.Status), "To": string(to)})
		}
		current.Status = to
		current.UpdatedAt = s.now().UTC()
		return current, nil
	})
	if err != nil {
		return s.wrap(err, sessionID, "change session status")
	}
	s.logger.Info("session status changed",
		zap.String("session_id", sessionID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// SetPlayerConnected records whether characterID's player is connected and
// refreshes its last-seen time.
func (s *Service) SetPlayerConnected(ctx context.Context, sessionID, characterID string, connected bool) error {
	characterID = strings.TrimSpace(characterID)
	_, _, err := s.update(ctx, sessionID, func(current *Session) (*Session, error) {
		if err := requireOpen(current, sessionID); err != nil {
			return nil, err
		}
		idx := current.indexOfCharacter(characterID)
		if idx < 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeSessionPlayerNotFound, "player not in session",
				map[string]string{"SessionID": sessionID, "CharacterID": characterID})
		}
		now := s.now().UTC()
		current.Players[idx].Connected = connected
		current.Players[idx].LastSeen = now
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return s.wrap(err, sessionID, "set player connected")
	}
	return nil
}

// GetSession returns the session, or nil when it does not exist.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	tree, err := s.state.GetState(ctx, sessionID)
	if err != nil {
		return nil, s.wrap(err, sessionID, "get session")
	}
	current, err := decodeSession(tree)
	if err != nil {
		return nil, s.wrap(err, sessionID, "get session")
	}
	return current, nil
}

// GetSessionStatus returns the session summary.
func (s *Service) GetSessionStatus(ctx context.Context, sessionID string) (Summary, error) {
	current, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	if current == nil {
		return Summary{}, notFound(sessionID)
	}
	return current.Summary(), nil
}

// ValidateAction reports whether characterID may act in the session right
// now. Business-rule failures return false; only state failures return an
// error. Every outcome is counted by action type and result.
func (s *Service) ValidateAction(ctx context.Context, sessionID, characterID, actionType string, actionData map[string]any) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	var current *Session
	var err error
	if sessionID != "" {
		current, err = s.GetSession(ctx, sessionID)
	}
	result := metrics.ResultAllowed
	switch {
	case err != nil:
		result = metrics.ResultError
	case current == nil:
		result = metrics.ResultSessionMissing
	case current.Status != StatusActive:
		result = metrics.ResultSessionInactive
	case current.indexOfCharacter(strings.TrimSpace(characterID)) < 0:
		result = metrics.ResultNotMember
	}
	s.metrics.ActionValidated(ctx, actionType, result)
	s.logger.Debug("action validated",
		zap.String("session_id", sessionID),
		zap.String("character_id", characterID),
		zap.String("action_type", actionType),
		zap.Int("fields", len(actionData)),
		zap.String("result", result),
	)
	if err != nil {
		return false, err
	}
	return result == metrics.ResultAllowed, nil
}

// update applies change to the stored session in one state commit. change
// returns the session to store, or nil to leave state untouched.
func (s *Service) update(ctx context.Context, sessionID string, change func(current *Session) (*Session, error)) (before, after *Session, err error) {
	_, err = s.state.Apply(ctx, sessionID, func(tree state.Tree) ([]state.Update, error) {
		current, err := decodeSession(tree)
		if err != nil {
			return nil, err
		}
		if current != nil {
			snapshot := *current
			before = &snapshot
		} else {
			before = nil
		}
		next, err := change(current)
		if err != nil || next == nil {
			after = nil
			return nil, err
		}
		value, err := state.FromAny(next)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeSessionStateFailure, "encode session", err)
		}
		after = next
		return []state.Update{{Path: StatePath, Value: value}}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func decodeSession(tree state.Tree) (*Session, error) {
	raw, ok := tree[StatePath]
	if !ok || raw.IsNull() {
		return nil, nil
	}
	var out Session
	if err := state.Decode(raw, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSessionStateFailure, "decode session", err)
	}
	return &out, nil
}

func requireOpen(current *Session, sessionID string) error {
	if current == nil {
		return notFound(sessionID)
	}
	if current.ended() {
		return apperrors.WithMetadata(apperrors.CodeSessionEnded, "session has ended",
			map[string]string{"SessionID": sessionID})
	}
	return nil
}

func notFound(sessionID string) error {
	return apperrors.WithMetadata(apperrors.CodeSessionNotFound, "session not found",
		map[string]string{"SessionID": sessionID})
}

// wrap reports failures outside session rules as SESSION_STATE_FAILURE,
// keeping the original error as the cause.
func (s *Service) wrap(err error, sessionID, action string) error {
	if apperrors.IsSessionError(err) {
		return err
	}
	s.logger.Error(action, zap.String("session_id", sessionID), zap.Error(err))
	return apperrors.WrapWithMetadata(apperrors.CodeSessionStateFailure, action,
		map[string]string{"SessionID": sessionID}, err)
}

func (s *Service) track(ctx context.Context, current *Session) {
	s.mu.Lock()
	if current.ended() {
		delete(s.active, current.ID)
	} else {
		s.active[current.ID] = len(current.Players)
	}
	n := len(s.active)
	s.mu.Unlock()
	s.metrics.ActiveSessions(ctx, n)
	s.metrics.SessionPlayers(ctx, current.ID, len(current.Players))
}
