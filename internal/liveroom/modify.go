package liveroom

import (
	"strings"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
)

const (
	// mirrorMarker is the zero-width prefix that tags a comment as
	// relay-produced, so receiving clients do not loop it back.
	mirrorMarker = "​"

	// echoMark confirms a comment back into the broadcast it came from.
	echoMark = "✔"

	// relayMark labels a comment relayed from another broadcast.
	relayMark = "⇒"
)

// ModifyNotification rewrites a notification's text for posting into the
// given sub-room. An empty result means "do not post".
func (r *LiveRoom) ModifyNotification(n domain.Notification, subRoom int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modifyLocked(n, subRoom)
}

func (r *LiveRoom) modifyLocked(n domain.Notification, subRoom int) string {
	// Already went through a relay once; pass through unchanged.
	if n.Mirrored {
		return n.Text
	}

	text := escapeMentions(n.Text)

	selfEcho := n.Origin != nil &&
		n.Origin.Live == r.live &&
		n.Origin.SubRoom == subRoom

	if selfEcho {
		if r.mirrorAll {
			return ""
		}
		if n.Kind == domain.KindVote {
			// Keep the vote itself, drop the free-text commentary.
			if i := strings.Index(text, "　"); i >= 0 {
				text = text[:i]
			}
		}
		return mirrorMarker + echoMark + text
	}

	return mirrorMarker + relayMark + text
}

var mentionEscaper = strings.NewReplacer(
	"@", "@​",
	"＠", "＠​",
	">>", ">​>",
)

// escapeMentions breaks the platform's name-mention and anchor formats so a
// mirrored comment never pings anyone.
func escapeMentions(s string) string {
	return mentionEscaper.Replace(s)
}
