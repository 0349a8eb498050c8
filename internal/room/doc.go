// Package room aggregates one voting session: the countdown TimeKeeper,
// the vote model, the voter list, the connected participants, and the
// registry that numbers and reuses rooms.
package room
