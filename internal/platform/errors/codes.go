// Package errors provides structured error handling for the live session services.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

// Kind groups codes by the service that raises them.
type Kind string

const (
	KindUnknown Kind = ""
	KindState   Kind = "state"
	KindSession Kind = "session"
	KindCombat  Kind = "combat"
)

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// State errors
	CodeStateStoreFailure     Code = "STATE_STORE_FAILURE"
	CodeStateVersionTooOld    Code = "STATE_VERSION_TOO_OLD"
	CodeStateVersionConflict  Code = "STATE_VERSION_CONFLICT"
	CodeStateInvalidPath      Code = "STATE_INVALID_PATH"
	CodeStateEncodingFailure  Code = "STATE_ENCODING_FAILURE"
	CodeStateSessionIDMissing Code = "STATE_SESSION_ID_MISSING"

	// Session errors
	CodeSessionCampaignRequired  Code = "SESSION_CAMPAIGN_REQUIRED"
	CodeSessionNotFound          Code = "SESSION_NOT_FOUND"
	CodeSessionEnded             Code = "SESSION_ENDED"
	CodeSessionFull              Code = "SESSION_FULL"
	CodeSessionDuplicatePlayer   Code = "SESSION_DUPLICATE_PLAYER"
	CodeSessionPlayerNotFound    Code = "SESSION_PLAYER_NOT_FOUND"
	CodeSessionInvalidTransition Code = "SESSION_INVALID_TRANSITION"
	CodeSessionStateFailure      Code = "SESSION_STATE_FAILURE"
	CodeSessionCharacterRequired Code = "SESSION_CHARACTER_REQUIRED"
	CodeSessionInvalidMaxPlayers Code = "SESSION_INVALID_MAX_PLAYERS"

	// Combat errors
	CodeCombatAlreadyActive        Code = "COMBAT_ALREADY_ACTIVE"
	CodeCombatNotFound             Code = "COMBAT_NOT_FOUND"
	CodeCombatEnded                Code = "COMBAT_ENDED"
	CodeCombatDuplicateParticipant Code = "COMBAT_DUPLICATE_PARTICIPANT"
	CodeCombatUnknownParticipant   Code = "COMBAT_UNKNOWN_PARTICIPANT"
	CodeCombatStateFailure         Code = "COMBAT_STATE_FAILURE"
	CodeCombatCharacterRequired    Code = "COMBAT_CHARACTER_REQUIRED"
)

// Kind reports which service family raises the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeStateStoreFailure,
		CodeStateVersionTooOld,
		CodeStateVersionConflict,
		CodeStateInvalidPath,
		CodeStateEncodingFailure,
		CodeStateSessionIDMissing:
		return KindState

	case CodeSessionCampaignRequired,
		CodeSessionNotFound,
		CodeSessionEnded,
		CodeSessionFull,
		CodeSessionDuplicatePlayer,
		CodeSessionPlayerNotFound,
		CodeSessionInvalidTransition,
		CodeSessionStateFailure,
		CodeSessionCharacterRequired,
		CodeSessionInvalidMaxPlayers:
		return KindSession

	case CodeCombatAlreadyActive,
		CodeCombatNotFound,
		CodeCombatEnded,
		CodeCombatDuplicateParticipant,
		CodeCombatUnknownParticipant,
		CodeCombatStateFailure,
		CodeCombatCharacterRequired:
		return KindCombat

	default:
		return KindUnknown
	}
}

// Retryable reports whether repeating the whole operation may succeed.
func (c Code) Retryable() bool {
	return c == CodeStateVersionConflict
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeStateInvalidPath,
		CodeStateSessionIDMissing,
		CodeSessionCampaignRequired,
		CodeSessionCharacterRequired,
		CodeSessionInvalidMaxPlayers,
		CodeCombatCharacterRequired:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeStateVersionTooOld,
		CodeSessionEnded,
		CodeSessionInvalidTransition,
		CodeCombatAlreadyActive,
		CodeCombatEnded:
		return codes.FailedPrecondition

	// Aborted - concurrent writer won, caller may retry
	case CodeStateVersionConflict:
		return codes.Aborted

	// ResourceExhausted - capacity limits
	case CodeSessionFull:
		return codes.ResourceExhausted

	// NotFound - resource doesn't exist
	case CodeSessionNotFound,
		CodeSessionPlayerNotFound,
		CodeCombatNotFound,
		CodeCombatUnknownParticipant:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeSessionDuplicatePlayer,
		CodeCombatDuplicateParticipant:
		return codes.AlreadyExists

	// Unavailable - backing store failed
	case CodeStateStoreFailure:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
