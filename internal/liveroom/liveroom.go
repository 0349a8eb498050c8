package liveroom

import (
	"log/slog"
	"sync"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/metrics"
)

// Attribute is the per-broadcast configuration a participant may get/set.
type Attribute struct {
	AllowPost bool   `json:"allowPost"`
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
}

// Commenter is one participant's identity made available for posting into a
// specific chat partition of a broadcast.
type Commenter struct {
	peer     domain.Peer
	subRoom  int
	canPost  bool
	watching bool
}

func (c *Commenter) Peer() domain.Peer { return c.peer }
func (c *Commenter) SubRoom() int      { return c.subRoom }
func (c *Commenter) CanPost() bool     { return c.canPost }
func (c *Commenter) Watching() bool    { return c.watching }

// PostOrder is the one-shot post command handed to a commenter's client.
type PostOrder struct {
	Live    domain.LiveData `json:"live"`
	SubRoom int             `json:"subRoom"`
	Text    string          `json:"text"`
}

// LiveRoom is the relay object for one connected broadcast, subdivided into
// a fixed number of sub-rooms (the platform's chat partitions).
type LiveRoom struct {
	mu   sync.Mutex
	live domain.LiveData
	attr Attribute

	subRooms [][]*Commenter

	// mirrorAll suppresses self-echoes entirely instead of truncating them.
	mirrorAll bool

	// postEnabled is the policy switch for mirroring at all.
	postEnabled bool

	logger *slog.Logger
}

func New(live domain.LiveData, subRoomCount int, postEnabled bool) *LiveRoom {
	return &LiveRoom{
		live:        live,
		subRooms:    make([][]*Commenter, subRoomCount),
		postEnabled: postEnabled,
		logger:      slog.Default().With("live", live.String()),
	}
}

func (r *LiveRoom) Live() domain.LiveData { return r.live }

func (r *LiveRoom) Attribute() Attribute {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attr
}

func (r *LiveRoom) SetAttribute(attr Attribute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attr = attr
}

// SetMirrorAll switches the self-echo policy; on when the room's vote mode
// runs in mirror mode.
func (r *LiveRoom) SetMirrorAll(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirrorAll = on
}

// Connected registers (or re-homes) the participant as a commenter of the
// given sub-room. One entry per (broadcast, participant) pair.
func (r *LiveRoom) Connected(peer domain.Peer, subRoom int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subRoom < 0 || subRoom >= len(r.subRooms) {
		return false
	}

	if c := r.findLocked(peer.ID()); c != nil {
		if c.subRoom != subRoom {
			r.removeLocked(peer.ID())
			c.subRoom = subRoom
			r.subRooms[subRoom] = append(r.subRooms[subRoom], c)
		}
		return true
	}

	r.subRooms[subRoom] = append(r.subRooms[subRoom], &Commenter{
		peer:    peer,
		subRoom: subRoom,
	})
	return true
}

// Disconnected drops the participant's commenter entry.
func (r *LiveRoom) Disconnected(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(peerID)
}

// SetCommenterState mirrors the client-reported posting/watching flags into
// the server-side pool entry.
func (r *LiveRoom) SetCommenterState(peerID string, canPost, watching bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(peerID)
	if c == nil {
		return false
	}
	c.canPost = canPost
	c.watching = watching
	return true
}

// HasCommenter reports whether the participant already serves this
// broadcast.
func (r *LiveRoom) HasCommenter(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(peerID) != nil
}

// CommenterCount counts pool entries across all sub-rooms.
func (r *LiveRoom) CommenterCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, list := range r.subRooms {
		n += len(list)
	}
	return n
}

// WatchingCount counts commenters whose clients report a live connection.
func (r *LiveRoom) WatchingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, list := range r.subRooms {
		for _, c := range list {
			if c.watching {
				n++
			}
		}
	}
	return n
}

// RotateCommenter rotates the sub-room's pool front-to-back until the head
// is post-enabled, at most one full cycle. Relative order of entries not
// rotated past is preserved; nil when no entry qualifies.
func (r *LiveRoom) RotateCommenter(subRoom int) *Commenter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked(subRoom)
}

func (r *LiveRoom) rotateLocked(subRoom int) *Commenter {
	if subRoom < 0 || subRoom >= len(r.subRooms) {
		return nil
	}

	list := r.subRooms[subRoom]
	for i := 0; i < len(list); i++ {
		head := list[0]
		if head.canPost {
			return head
		}
		copy(list, list[1:])
		list[len(list)-1] = head
	}
	return nil
}

// SendNotificationForPost mirrors one notification into every sub-room that
// has a ready commenter. The chosen commenter is immediately marked
// not-post-enabled; it becomes eligible again only once its client
// re-confirms availability.
func (r *LiveRoom) SendNotificationForPost(n domain.Notification) {
	if n.Kind == domain.KindSystem || n.Kind == domain.KindImportant {
		return
	}

	r.mu.Lock()
	if !r.postEnabled {
		r.mu.Unlock()
		return
	}

	type order struct {
		peer domain.Peer
		cmd  PostOrder
	}
	var orders []order

	for sub := range r.subRooms {
		c := r.rotateLocked(sub)
		if c == nil {
			metrics.RelayPostsTotal.WithLabelValues("no_commenter").Inc()
			continue
		}
		text := r.modifyLocked(n, sub)
		if text == "" {
			metrics.RelayPostsTotal.WithLabelValues("suppressed").Inc()
			continue
		}
		c.canPost = false
		orders = append(orders, order{
			peer: c.peer,
			cmd:  PostOrder{Live: r.live, SubRoom: sub, Text: text},
		})
	}
	r.mu.Unlock()

	// Send outside the lock; command delivery may touch the peer's queue.
	for _, o := range orders {
		o.peer.SendCommand("NotificationForPost", o.cmd)
		metrics.RelayPostsTotal.WithLabelValues("sent").Inc()
	}
}

func (r *LiveRoom) findLocked(peerID string) *Commenter {
	for _, list := range r.subRooms {
		for _, c := range list {
			if c.peer.ID() == peerID {
				return c
			}
		}
	}
	return nil
}

func (r *LiveRoom) removeLocked(peerID string) {
	for sub, list := range r.subRooms {
		for i, c := range list {
			if c.peer.ID() == peerID {
				r.subRooms[sub] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}
