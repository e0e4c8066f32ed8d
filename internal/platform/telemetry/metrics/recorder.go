package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName scopes every instrument recorded by this package.
const MeterName = "github.com/louisbranch/livesession"

// Validation results reported by the action gate.
const (
	ResultAllowed         = "allowed"
	ResultSessionMissing  = "session_missing"
	ResultSessionInactive = "session_inactive"
	ResultNotMember       = "not_member"
	ResultError           = "error"
)

// Recorder holds the instruments the services report to.
//
// A nil *Recorder is valid and drops every observation.
type Recorder struct {
	roundsCompleted metric.Int64Counter
	activeCombats   metric.Int64Gauge
	activeSessions  metric.Int64Gauge
	sessionPlayers  metric.Int64Gauge
	validations     metric.Int64Counter
	stateUpdates    metric.Int64Counter
	stateConflicts  metric.Int64Counter
}

// New creates a Recorder from provider, falling back to the global provider.
func New(provider metric.MeterProvider) (*Recorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(MeterName)

	var (
		r   Recorder
		err error
	)
	if r.roundsCompleted, err = meter.Int64Counter("livesession.combat.rounds_completed",
		metric.WithDescription("Combat rounds completed by turn order wraparound.")); err != nil {
		return nil, fmt.Errorf("create rounds counter: %w", err)
	}
	if r.activeCombats, err = meter.Int64Gauge("livesession.combat.active",
		metric.WithDescription("Combats currently preparing or active.")); err != nil {
		return nil, fmt.Errorf("create active combat gauge: %w", err)
	}
	if r.activeSessions, err = meter.Int64Gauge("livesession.session.active",
		metric.WithDescription("Sessions that have not ended.")); err != nil {
		return nil, fmt.Errorf("create active session gauge: %w", err)
	}
	if r.sessionPlayers, err = meter.Int64Gauge("livesession.session.players",
		metric.WithDescription("Players in a session roster.")); err != nil {
		return nil, fmt.Errorf("create player gauge: %w", err)
	}
	if r.validations, err = meter.Int64Counter("livesession.action.validations",
		metric.WithDescription("Action validation outcomes.")); err != nil {
		return nil, fmt.Errorf("create validation counter: %w", err)
	}
	if r.stateUpdates, err = meter.Int64Counter("livesession.state.updates",
		metric.WithDescription("Committed session state writes.")); err != nil {
		return nil, fmt.Errorf("create state update counter: %w", err)
	}
	if r.stateConflicts, err = meter.Int64Counter("livesession.state.conflicts",
		metric.WithDescription("Conflict resolutions that dropped client updates.")); err != nil {
		return nil, fmt.Errorf("create conflict counter: %w", err)
	}
	return &r, nil
}

// RoundCompleted counts one wrap of a combat's turn order.
func (r *Recorder) RoundCompleted(ctx context.Context) {
	if r == nil {
		return
	}
	r.roundsCompleted.Add(ctx, 1)
}

// ActiveCombats records the number of combats in progress.
func (r *Recorder) ActiveCombats(ctx context.Context, n int) {
	if r == nil {
		return
	}
	r.activeCombats.Record(ctx, int64(n))
}

// ActiveSessions records the number of sessions that have not ended.
func (r *Recorder) ActiveSessions(ctx context.Context, n int) {
	if r == nil {
		return
	}
	r.activeSessions.Record(ctx, int64(n))
}

// SessionPlayers records the roster size of one session.
func (r *Recorder) SessionPlayers(ctx context.Context, sessionID string, n int) {
	if r == nil {
		return
	}
	r.sessionPlayers.Record(ctx, int64(n), metric.WithAttributes(attribute.String("session_id", sessionID)))
}

// ActionValidated counts one validation outcome.
func (r *Recorder) ActionValidated(ctx context.Context, actionType, result string) {
	if r == nil {
		return
	}
	r.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
		attribute.String("result", result),
	))
}

// StateUpdated counts one committed state write.
func (r *Recorder) StateUpdated(ctx context.Context) {
	if r == nil {
		return
	}
	r.stateUpdates.Add(ctx, 1)
}

// StateConflict counts a conflict resolution that dropped contested updates.
func (r *Recorder) StateConflict(ctx context.Context, dropped int) {
	if r == nil {
		return
	}
	r.stateConflicts.Add(ctx, 1, metric.WithAttributes(attribute.Int("dropped", dropped)))
}
