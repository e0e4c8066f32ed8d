// Package telemetry provides observability for the live session services.
//
// This package separates two distinct concerns:
//
// # Session State
//
// The versioned session state and its bounded change log are the functional
// record of play. They live in the state service and its store, never here.
//
// # Operational Metrics (telemetry/metrics)
//
// Operational metrics are side-channel observations of that state:
//   - Combat rounds completed and combats in progress
//   - Active sessions and players per session
//   - Action validation outcomes
//   - State write volume and conflict drops
//
// They are exported through OpenTelemetry and carry no functional contract.
package telemetry
