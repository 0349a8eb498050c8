// Package chat is the boundary to a broadcast platform's comment server.
// The rest of the process only sees this interface; each platform ships
// its own implementation behind a Dialer.
package chat

import (
	"context"
	"time"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
)

// Comment is one message received from a broadcast's chat.
type Comment struct {
	Text      string
	UserID    string
	UserName  string
	SubRoom   int
	Timestamp time.Time
}

// Client is a live connection to one broadcast's comment stream.
type Client interface {
	// Connect attaches to the broadcast. Idempotent when already attached.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down. Safe to call in any state.
	Disconnect()
	// Connected reports whether the transport is currently up.
	Connected() bool
	// Post writes one comment into the broadcast's chat.
	Post(ctx context.Context, text string) error
	// Comments yields received comments. The channel closes on disconnect.
	Comments() <-chan Comment
	// Heartbeat asks the platform for current visitor/comment counts.
	Heartbeat(ctx context.Context) (domain.Heartbeat, error)
	// Endpoint is the chat server address the transport dials, used to
	// correlate with the process-wide connection census.
	Endpoint() domain.AddressPort
}

// Dialer creates a Client for one broadcast.
type Dialer interface {
	Dial(live domain.LiveData) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(live domain.LiveData) (Client, error)

func (f DialerFunc) Dial(live domain.LiveData) (Client, error) {
	return f(live)
}
