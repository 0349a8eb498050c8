package room

import (
	"log/slog"
	"sync"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
	"github.com/ebifrier/Okiami-sub000/internal/metrics"
)

// Registry numbers and tracks the open rooms of one server process. It is
// constructed explicitly and injected; there is no global table.
type Registry struct {
	mu    sync.Mutex
	rooms []*Room // index == room id; nil slots are reusable
	deps  Deps
}

func NewRegistry(deps Deps) *Registry {
	reg := &Registry{deps: deps}
	return reg
}

// CreateRoom opens a room and admits its owner in one step.
func (g *Registry) CreateRoom(name, password string, conn domain.Sender, ownerID, ownerName string) (*Room, *Participant, error) {
	if name == "" {
		return nil, nil, errors.ValidationError("room name is empty")
	}
	if ownerID == "" {
		return nil, nil, errors.ValidationError("owner id is empty")
	}

	deps := g.deps
	deps.OnEmpty = g.remove

	g.mu.Lock()
	id := -1
	for i, r := range g.rooms {
		if r == nil {
			id = i
			break
		}
	}
	if id < 0 {
		id = len(g.rooms)
		g.rooms = append(g.rooms, nil)
	}

	r := newRoom(id, name, password, ownerID, deps)
	g.rooms[id] = r
	g.mu.Unlock()

	owner, err := r.Enter(conn, ownerID, ownerName, password)
	if err != nil {
		// Admitting the creator cannot fail the password check; anything
		// else is a programming error worth surfacing.
		g.mu.Lock()
		g.rooms[id] = nil
		g.mu.Unlock()
		r.close()
		return nil, nil, err
	}

	metrics.RoomsOpen.Inc()
	slog.Info("room created", "room_id", id, "name", name, "owner", ownerID)
	return r, owner, nil
}

// Get resolves a room id.
func (g *Registry) Get(id int) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id < 0 || id >= len(g.rooms) || g.rooms[id] == nil {
		return nil, errors.NotFoundError("no such room").WithContext("room_id", id)
	}
	return g.rooms[id], nil
}

// Count returns the number of open rooms.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, r := range g.rooms {
		if r != nil {
			n++
		}
	}
	return n
}

// List returns summaries for the open rooms with ids in [from, to).
func (g *Registry) List(from, to int) []Summary {
	g.mu.Lock()
	rooms := make([]*Room, 0)
	for i, r := range g.rooms {
		if r != nil && i >= from && (to < 0 || i < to) {
			rooms = append(rooms, r)
		}
	}
	g.mu.Unlock()

	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	return out
}

// remove frees a closed room's slot for id reuse.
func (g *Registry) remove(r *Room) {
	g.mu.Lock()
	if r.id >= 0 && r.id < len(g.rooms) && g.rooms[r.id] == r {
		g.rooms[r.id] = nil
	}
	g.mu.Unlock()

	metrics.RoomsOpen.Dec()
	slog.Info("room removed", "room_id", r.id)
}
