package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationKind classifies a chat-derived or server-generated notification.
type NotificationKind int

const (
	KindUnknown NotificationKind = iota
	KindImportant
	KindSystem
	KindMessage
	KindVote
	KindJoin
	KindTimeExtend
	KindEvaluation
)

func (k NotificationKind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindImportant:
		return "important"
	case KindSystem:
		return "system"
	case KindMessage:
		return "message"
	case KindVote:
		return "vote"
	case KindJoin:
		return "join"
	case KindTimeExtend:
		return "time_extend"
	case KindEvaluation:
		return "evaluation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k NotificationKind) valid() bool {
	return k >= KindUnknown && k <= KindEvaluation
}

// Color is the display color attached to a notification.
type Color string

const (
	ColorDefault Color = "default"
	ColorRed     Color = "red"
	ColorBlue    Color = "blue"
	ColorGreen   Color = "green"
	ColorOrange  Color = "orange"
)

// Origin identifies which broadcast partition a notification arrived from.
type Origin struct {
	Live    LiveData `json:"live"`
	SubRoom int      `json:"subRoom"`
}

// Notification is one unit of traffic through a room: a chat comment, a vote,
// or a server-generated announcement.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Color     Color            `json:"color"`
	Text      string           `json:"text"`
	Origin    *Origin          `json:"origin,omitempty"` // nil for server-generated notifications
	VoterID   string           `json:"voterId,omitempty"`
	VoterName string           `json:"voterName,omitempty"`
	Timestamp time.Time        `json:"timestamp"`

	// Mirrored marks a notification that already went through the relay
	// once. ModifyNotification passes these through unchanged.
	Mirrored bool `json:"mirrored,omitempty"`
}

// Validate reports whether the notification is acceptable. Invalid
// notifications are dropped at the boundary, never partially applied.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.Text) == "" {
		return fmt.Errorf("notification text is empty")
	}
	if !n.Kind.valid() {
		return fmt.Errorf("notification kind %d is undefined", int(n.Kind))
	}
	if n.Timestamp.IsZero() {
		return fmt.Errorf("notification timestamp is zero")
	}
	if n.Origin != nil {
		if err := n.Origin.Live.Validate(); err != nil {
			return fmt.Errorf("notification origin: %w", err)
		}
		if n.Origin.SubRoom < 0 {
			return fmt.Errorf("notification origin sub-room %d is negative", n.Origin.SubRoom)
		}
	}
	return nil
}
