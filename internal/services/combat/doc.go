// Package combat runs the turn-based combat of a live session.
//
// A session holds at most one combat that has not ended. Combat starts in
// preparing, becomes active when the first participant rolls initiative and
// ends explicitly or when the last participant leaves. Turns follow
// initiative descending; ties keep the order participants joined. Each time
// the turn wraps back to the top of the order a new round begins.
//
// Combat state lives under the "combat" path of the session state and every
// change goes through the state service as one read-modify-write.
package combat
