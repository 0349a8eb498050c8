// Package liveroom implements the broadcast relay: one LiveRoom per
// connected broadcast, a rotating pool of commenter identities per chat
// partition, and the text rewriting applied before mirroring notifications
// into a broadcast's chat.
package liveroom
