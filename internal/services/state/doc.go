// Package state owns the authoritative, versioned state of live sessions.
//
// Each session's state is a tree of string-keyed fields addressed by dotted
// paths ("combat.round", "session.players"). Writers submit batches of
// path/value updates; the service applies them all-or-nothing, tags the
// result with a content-hash version, persists state and version together,
// and keeps a bounded per-session change log.
//
// The change log exists only to resolve conflicts for clients that send
// updates against a version they last observed. Contested paths keep the
// server value; independent paths merge. Durable history is not kept here.
//
// Within a process every read-modify-write of one session is serialized.
// Across processes the store's compare-and-set on the version rejects lost
// updates, and the service retries the whole cycle against fresh state.
package state
