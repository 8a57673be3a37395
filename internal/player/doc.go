// Package player turns user commands and environment events into
// playback.
//
// The decision core is a pure function: Transition(State, Event)
// returns the next State plus a list of Effects, and touches nothing.
// Every device call, synthesis request, and timer lives in the
// Controller, which feeds events in, interprets the effects, and
// publishes state snapshots. Undefined (state, event) pairs are
// explicit no-ops, so the machine is total and cannot panic on a
// surprising interleaving.
package player
