package combat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/livesession/internal/platform/errors"
	"github.com/louisbranch/livesession/internal/platform/id"
	"github.com/louisbranch/livesession/internal/platform/logging"
	"github.com/louisbranch/livesession/internal/platform/telemetry/metrics"
	"github.com/louisbranch/livesession/internal/services/state"
)

// StatePath is where a session keeps its combat.
const StatePath = "combat"

// State is the part of the state service combat needs.
type State interface {
	GetState(ctx context.Context, sessionID string) (state.Tree, error)
	Apply(ctx context.Context, sessionID string, build state.BuildFunc) (state.Version, error)
}

// Service manages combat for live sessions.
type Service struct {
	state   State
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	newID   func() (string, error)

	mu     sync.Mutex
	active map[string]struct{}
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

// WithIDGenerator overrides how combat and participant ids are made.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService creates a combat service on top of st.
func NewService(st State, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("state service is required")
	}
	s := &Service{
		state:  st,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  id.NewID,
		active: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Initialize resets the active combat gauge.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	n := len(s.active)
	s.mu.Unlock()
	s.metrics.ActiveCombats(ctx, n)
	return nil
}

// Cleanup forgets the combats tracked by this instance.
func (s *Service) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	s.active = make(map[string]struct{})
	s.mu.Unlock()
	s.metrics.ActiveCombats(ctx, 0)
	return nil
}

// StartCombat opens a preparing combat. characterIDs declares who is
// expected to roll initiative; each is cleared once added as a participant.
// It fails with COMBAT_ALREADY_ACTIVE while a combat that has not ended
// exists.
func (s *Service) StartCombat(ctx context.Context, sessionID string, characterIDs []string) (*Combat, error) {
	pending := lo.Uniq(lo.Compact(lo.Map(characterIDs, func(cid string, _ int) string {
		return strings.TrimSpace(cid)
	})))
	combatID, err := s.newID()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCombatStateFailure, "generate combat id", err)
	}

	_, after, err := s.update(ctx, sessionID, func(current *Combat) (*Combat, error) {
		if current != nil && !current.ended() {
			return nil, apperrors.WithMetadata(apperrors.CodeCombatAlreadyActive, "combat already active",
				map[string]string{"SessionID": sessionID, "CombatID": current.ID})
		}
		now := s.now().UTC()
		return &Combat{
			ID:              combatID,
			SessionID:       sessionID,
			Status:          StatusPreparing,
			Participants:    []Participant{},
			InitiativeOrder: []string{},
			Pending:         pending,
			StartedAt:       now,
			UpdatedAt:       now,
		}, nil
	})
	if err != nil {
		return nil, s.wrap(err, sessionID, "start combat")
	}
	s.track(ctx, sessionID, after)
	s.logger.Info("combat started", zap.String("session_id", sessionID), zap.String("combat_id", after.ID))
	return after, nil
}

// AddParticipant adds characterID with the given initiative. The first
// participant activates the combat at round 1 and takes the first turn.
func (s *Service) AddParticipant(ctx context.Context, sessionID, characterID string, initiative int) (Participant, error) {
	characterID = strings.TrimSpace(characterID)
	if characterID == "" {
		return Participant{}, apperrors.New(apperrors.CodeCombatCharacterRequired, "character id is required")
	}
	participantID, err := s.newID()
	if err != nil {
		return Participant{}, apperrors.Wrap(apperrors.CodeCombatStateFailure, "generate participant id", err)
	}

	before, after, err := s.update(ctx, sessionID, func(current *Combat) (*Combat, error) {
		if err := requireOpen(current, sessionID); err != nil {
			return nil, err
		}
		if current.indexOfCharacter(characterID) >= 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeCombatDuplicateParticipant, "character already in combat",
				map[string]string{"SessionID": sessionID, "CharacterID": characterID})
		}
		now := s.now().UTC()
		current.join(Participant{
			ID:          participantID,
			CharacterID: characterID,
			Initiative:  initiative,
			JoinedAt:    now,
		})
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return Participant{}, s.wrap(err, sessionID, "add participant")
	}
	if before.Status != after.Status {
		s.logger.Info("combat active",
			zap.String("session_id", sessionID),
			zap.String("combat_id", after.ID),
			zap.Int("round", after.Round),
		)
	}
	s.track(ctx, sessionID, after)
	p, _ := after.Participant(participantID)
	return p, nil
}

// RemoveParticipant removes characterID from the combat. It does nothing
// when there is no open combat or the character is not fighting. Removing
// the last participant ends the combat.
func (s *Service) RemoveParticipant(ctx context.Context, sessionID, characterID string) error {
	characterID = strings.TrimSpace(characterID)
	before, after, err := s.update(ctx, sessionID, func(current *Combat) (*Combat, error) {
		if current == nil || current.ended() {
			return nil, nil
		}
		idx := current.indexOfCharacter(characterID)
		if idx < 0 {
			return nil, nil
		}
		now := s.now().UTC()
		current.leave(idx, now)
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return s.wrap(err, sessionID, "remove participant")
	}
	if after == nil {
		return nil
	}
	s.roundsCompleted(ctx, before, after)
	s.track(ctx, sessionID, after)
	if after.ended() {
		s.logger.Info("combat ended", zap.String("session_id", sessionID), zap.String("combat_id", after.ID),
			zap.String("reason", "no participants"))
	}
	return nil
}

// NextTurn passes the turn to the next participant and returns its id.
// Wrapping past the end of the order starts a new round. It returns "" and
// changes nothing unless the combat is active with participants.
func (s *Service) NextTurn(ctx context.Context, sessionID string) (string, error) {
	before, after, err := s.update(ctx, sessionID, func(current *Combat) (*Combat, error) {
		if current == nil || current.Status != StatusActive || len(current.InitiativeOrder) == 0 {
			return nil, nil
		}
		current.advance()
		current.UpdatedAt = s.now().UTC()
		return current, nil
	})
	if err != nil {
		return "", s.wrap(err, sessionID, "next turn")
	}
	if after == nil {
		return "", nil
	}
	s.roundsCompleted(ctx, before, after)
	return after.CurrentTurn, nil
}

// GetCurrentTurn returns the participant id holding the turn, or "" when
// the combat is missing or not active.
func (s *Service) GetCurrentTurn(ctx context.Context, sessionID string) (string, error) {
	c, err := s.GetCombat(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if c == nil || c.Status != StatusActive {
		return "", nil
	}
	return c.CurrentTurn, nil
}

// GetCombat returns the session's combat, or nil when none was started.
func (s *Service) GetCombat(ctx context.Context, sessionID string) (*Combat, error) {
	tree, err := s.state.GetState(ctx, sessionID)
	if err != nil {
		return nil, s.wrap(err, sessionID, "get combat")
	}
	c, err := decodeCombat(tree)
	if err != nil {
		return nil, s.wrap(err, sessionID, "get combat")
	}
	return c, nil
}

// EndCombat ends the combat. Ending a missing or ended combat does nothing.
func (s *Service) EndCombat(ctx context.Context, sessionID string) error {
	_, after, err := s.update(ctx, sessionID, func(current *Combat) (*Combat, error) {
		if current == nil || current.ended() {
			return nil, nil
		}
		now := s.now().UTC()
		current.end(now)
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return s.wrap(err, sessionID, "end combat")
	}
	if after == nil {
		return nil
	}
	s.track(ctx, sessionID, after)
	s.logger.Info("combat ended", zap.String("session_id", sessionID), zap.String("combat_id", after.ID),
		zap.Int("rounds", after.Round))
	return nil
}

// SetConditions replaces the condition tags of characterID's participant.
func (s *Service) SetConditions(ctx context.Context, sessionID, characterID string, conditions []string) error {
	tags := lo.Uniq(lo.Compact(lo.Map(conditions, func(c string, _ int) string {
		return strings.ToLower(strings.TrimSpace(c))
	})))
	return s.updateParticipant(ctx, sessionID, characterID, "set conditions", func(p *Participant) {
		p.Conditions = tags
	})
}

// MoveParticipant places characterID's participant on the grid. A nil
// position takes it off the grid.
func (s *Service) MoveParticipant(ctx context.Context, sessionID, characterID string, position *Position) error {
	return s.updateParticipant(ctx, sessionID, characterID, "move participant", func(p *Participant) {
		if position == nil {
			p.Position = nil
			return
		}
		pos := *position
		p.Position = &pos
	})
}

func (s *Service) updateParticipant(ctx context.Context, sessionID, characterID, action string, change func(*Participant)) error {
	characterID = strings.TrimSpace(characterID)
	if characterID == "" {
		return apperrors.New(apperrors.CodeCombatCharacterRequired, "character id is required")
	}
	_, _, err := s.update(ctx, sessionID, func(current *Combat) (*Combat, error) {
		if err := requireOpen(current, sessionID); err != nil {
			return nil, err
		}
		idx := current.indexOfCharacter(characterID)
		if idx < 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeCombatUnknownParticipant, "character not in combat",
				map[string]string{"SessionID": sessionID, "CharacterID": characterID})
		}
		change(&current.Participants[idx])
		current.UpdatedAt = s.now().UTC()
		return current, nil
	})
	if err != nil {
		return s.wrap(err, sessionID, action)
	}
	return nil
}

// update applies change to the stored combat in one state commit. change
// returns the combat to store, or nil to leave state untouched. before is
// the combat change saw; after is nil when nothing was written.
func (s *Service) update(ctx context.Context, sessionID string, change func(current *Combat) (*Combat, error)) (before, after *Combat, err error) {
	_, err = s.state.Apply(ctx, sessionID, func(tree state.Tree) ([]state.Update, error) {
		current, err := decodeCombat(tree)
		if err != nil {
			return nil, err
		}
		before = current.Clone()
		next, err := change(current)
		if err != nil || next == nil {
			after = nil
			return nil, err
		}
		value, err := state.FromAny(next)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCombatStateFailure, "encode combat", err)
		}
		after = next
		return []state.Update{{Path: StatePath, Value: value}}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func decodeCombat(tree state.Tree) (*Combat, error) {
	raw, ok := tree[StatePath]
	if !ok || raw.IsNull() {
		return nil, nil
	}
	var c Combat
	if err := state.Decode(raw, &c); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCombatStateFailure, "decode combat", err)
	}
	return &c, nil
}

func requireOpen(c *Combat, sessionID string) error {
	if c == nil {
		return apperrors.WithMetadata(apperrors.CodeCombatNotFound, "no combat in progress",
			map[string]string{"SessionID": sessionID})
	}
	if c.ended() {
		return apperrors.WithMetadata(apperrors.CodeCombatEnded, "combat has ended",
			map[string]string{"SessionID": sessionID, "CombatID": c.ID})
	}
	return nil
}

// wrap reports failures outside combat rules as COMBAT_STATE_FAILURE,
// keeping the original error as the cause.
func (s *Service) wrap(err error, sessionID, action string) error {
	if apperrors.IsCombatError(err) {
		return err
	}
	s.logger.Error(action, zap.String("session_id", sessionID), zap.Error(err))
	return apperrors.WrapWithMetadata(apperrors.CodeCombatStateFailure, action,
		map[string]string{"SessionID": sessionID}, err)
}

func (s *Service) roundsCompleted(ctx context.Context, before, after *Combat) {
	if before == nil || after == nil {
		return
	}
	for i := before.Round; i < after.Round; i++ {
		s.metrics.RoundCompleted(ctx)
	}
}

func (s *Service) track(ctx context.Context, sessionID string, c *Combat) {
	s.mu.Lock()
	if c != nil && !c.ended() {
		s.active[sessionID] = struct{}{}
	} else {
		delete(s.active, sessionID)
	}
	n := len(s.active)
	s.mu.Unlock()
	s.metrics.ActiveCombats(ctx, n)
}
