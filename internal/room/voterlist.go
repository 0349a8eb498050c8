package room

import (
	"sort"
	"sync"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
)

// VoterListManager tracks everyone a room has seen in chat: voters who
// explicitly joined, voters only seen commenting, and broadcast owners.
// It is independent of vote timing.
type VoterListManager struct {
	mu       sync.Mutex
	joined   map[string]domain.Voter
	unjoined map[string]domain.Voter
	owners   map[string]domain.Voter
}

func NewVoterListManager() *VoterListManager {
	return &VoterListManager{
		joined:   make(map[string]domain.Voter),
		unjoined: make(map[string]domain.Voter),
		owners:   make(map[string]domain.Voter),
	}
}

// Seen records a voter that commented without joining.
func (v *VoterListManager) Seen(id, name string) {
	if id == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.joined[id]; ok {
		return
	}
	v.unjoined[id] = domain.Voter{ID: id, Name: name}
}

// Join promotes a voter to the joined list.
func (v *VoterListManager) Join(id, name string) {
	if id == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.unjoined, id)
	v.joined[id] = domain.Voter{ID: id, Name: name}
}

// MarkLiveOwner records a voter as the owner of a connected broadcast.
func (v *VoterListManager) MarkLiveOwner(id, name string) {
	if id == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.owners[id] = domain.Voter{ID: id, Name: name}
}

// Snapshot rebuilds an immutable voter list: callers may keep it without
// holding any lock.
func (v *VoterListManager) Snapshot() domain.VoterList {
	v.mu.Lock()
	defer v.mu.Unlock()

	list := domain.VoterList{
		Joined:      sortedVoters(v.joined),
		Unjoined:    sortedVoters(v.unjoined),
		LiveOwners:  sortedVoters(v.owners),
		JoinedCount: len(v.joined),
		TotalCount:  len(v.joined) + len(v.unjoined),
	}
	return list
}

func sortedVoters(m map[string]domain.Voter) []domain.Voter {
	out := make([]domain.Voter, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
