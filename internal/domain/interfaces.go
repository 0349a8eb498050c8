package domain

import "time"

// Sender pushes a fire-and-forget command to the far side of a connection.
type Sender interface {
	SendCommand(method string, params any)
}

// Peer is the room's view of one connected participant.
type Peer interface {
	Sender

	// No is the participant's number within its room.
	No() int
	ID() string
	Name() string

	// AllowPosting reports whether the participant opted in to lend its
	// identity for posting into broadcasts.
	AllowPosting() bool
}

// NetworkClock returns the current network (NTP-corrected) time. The
// retrieval mechanics are outside this core; tests substitute a fake.
type NetworkClock interface {
	Now() time.Time
}

// NetworkClockFunc adapts a plain function to NetworkClock.
type NetworkClockFunc func() time.Time

func (f NetworkClockFunc) Now() time.Time { return f() }
