// Package vote interprets chat-derived notifications: message and
// evaluation commands, time-extend votes, and the pluggable per-mode
// vote-tallying strategies.
package vote
