package liveroom

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
)

// inviteInterval is the cadence of the background tick that invites
// opted-in participants to become commenters.
const inviteInterval = 20 * time.Second

// Config carries the relay policy shared by all live rooms of a manager.
type Config struct {
	SubRoomCount      int
	CommenterCap      int
	PostNotifications bool
}

// PeerSource supplies the current room participants. The room passes a
// closure so the manager never holds a room reference (lock order stays
// room → manager).
type PeerSource func() []domain.Peer

// Manager owns the LiveRooms of the broadcasts one participant connected.
type Manager struct {
	mu    sync.Mutex
	owner domain.Peer
	rooms map[domain.LiveData]*LiveRoom

	peers PeerSource
	cfg   Config
	clock clockwork.Clock

	stop     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func NewManager(owner domain.Peer, peers PeerSource, cfg Config, clock clockwork.Clock) *Manager {
	return &Manager{
		owner:  owner,
		rooms:  make(map[domain.LiveData]*LiveRoom),
		peers:  peers,
		cfg:    cfg,
		clock:  clock,
		stop:   make(chan struct{}),
		logger: slog.Default().With("participant", owner.ID()),
	}
}

// Start launches the periodic invite loop.
func (m *Manager) Start() {
	go m.inviteLoop()
}

// Close tears the pool down; the invite loop stops and the commenters of
// every live room are told the broadcasts closed.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)

		m.mu.Lock()
		rooms := make([]*LiveRoom, 0, len(m.rooms))
		for _, r := range m.rooms {
			rooms = append(rooms, r)
		}
		m.rooms = make(map[domain.LiveData]*LiveRoom)
		m.mu.Unlock()

		for _, r := range rooms {
			m.notifyClosed(r)
		}
	})
}

// AddLive creates the relay room for a newly connected broadcast.
func (m *Manager) AddLive(live domain.LiveData) (*LiveRoom, error) {
	if err := live.Validate(); err != nil {
		return nil, errors.ValidationError(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[live]; exists {
		return nil, errors.BadStateError("live is already registered").
			WithContext("live", live.String())
	}

	room := New(live, m.cfg.SubRoomCount, m.cfg.PostNotifications)
	m.rooms[live] = room
	m.logger.Info("live registered", "live", live.String())
	return room, nil
}

// RemoveLive drops the relay room and tells its commenters the broadcast
// closed.
func (m *Manager) RemoveLive(live domain.LiveData) error {
	m.mu.Lock()
	room, exists := m.rooms[live]
	delete(m.rooms, live)
	m.mu.Unlock()

	if !exists {
		return errors.NotFoundError("live is not registered").
			WithContext("live", live.String())
	}

	m.notifyClosed(room)
	m.logger.Info("live removed", "live", live.String())
	return nil
}

// Find returns the relay room for a broadcast, or nil.
func (m *Manager) Find(live domain.LiveData) *LiveRoom {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[live]
}

// Rooms snapshots the current relay rooms.
func (m *Manager) Rooms() []*LiveRoom {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*LiveRoom, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// SetMirrorAll propagates the self-echo policy to every live room.
func (m *Manager) SetMirrorAll(on bool) {
	for _, r := range m.Rooms() {
		r.SetMirrorAll(on)
	}
}

// SendNotificationForPost relays one notification through every live room.
func (m *Manager) SendNotificationForPost(n domain.Notification) {
	for _, r := range m.Rooms() {
		r.SendNotificationForPost(n)
	}
}

func (m *Manager) inviteLoop() {
	ticker := m.clock.NewTicker(inviteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.inviteTick()
		case <-m.stop:
			return
		}
	}
}

// inviteTick asks currently-unused, opted-in participants to lend their
// identity to under-populated broadcasts, up to the per-broadcast cap.
func (m *Manager) inviteTick() {
	for _, room := range m.Rooms() {
		free := m.cfg.CommenterCap - room.CommenterCount()
		if free <= 0 {
			continue
		}

		for _, peer := range m.peers() {
			if free <= 0 {
				break
			}
			if !peer.AllowPosting() || room.HasCommenter(peer.ID()) {
				continue
			}
			peer.SendCommand("NotifyNewLive", room.Live())
			free--
		}
	}
}

func (m *Manager) notifyClosed(room *LiveRoom) {
	live := room.Live()
	for _, peer := range m.peers() {
		if room.HasCommenter(peer.ID()) {
			peer.SendCommand("NotifyClosedLive", live)
		}
	}
}
