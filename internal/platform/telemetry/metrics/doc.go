// Package metrics records operational metrics for the live session services.
//
// # Instruments
//
//   - livesession.combat.rounds_completed: counter of wrapped turn orders
//   - livesession.combat.active: gauge of combats in preparing/active status
//   - livesession.session.active: gauge of sessions not yet ended
//   - livesession.session.players: gauge of roster size, by session_id
//   - livesession.action.validations: counter by action_type and result
//   - livesession.state.updates: counter of committed state writes
//   - livesession.state.conflicts: counter of conflict resolutions that dropped updates
//
// # Integration
//
// Instruments are created from an OpenTelemetry MeterProvider. The process
// entrypoint installs an OTLP exporter when configured; otherwise the global
// no-op provider absorbs every observation.
package metrics
