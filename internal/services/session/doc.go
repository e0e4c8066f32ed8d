// Package session manages live session lifecycle and membership.
//
// A session is created empty, becomes active when the first player joins,
// may be paused and resumed, and ends explicitly or when the last player
// leaves. Ended sessions never change again.
//
// ValidateAction is the gate request handlers call before letting a
// character act: the session must exist and be active, and the character
// must hold a membership record in it. It checks nothing about the action
// itself.
package session
