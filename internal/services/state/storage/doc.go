// Package storage defines the durable backend contract for session state.
//
// A backend stores, per session id, an opaque state blob and the version tag
// it was written with. The pair is always written together. Backends live in
// subpackages: memory for tests and single-process use, sqlite as the default
// durable store, bbolt as an embedded alternative, and redis for deployments
// where several service instances share sessions.
package storage
