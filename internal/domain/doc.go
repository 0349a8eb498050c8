// Package domain holds the shared model types and interfaces of the vote
// relay: notifications, broadcast identifiers, vote state and the contracts
// between rooms, live relays and the client-side commenter pool.
package domain
