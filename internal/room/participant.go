package room

import (
	"sync"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/liveroom"
)

// Participant is one connected RPC endpoint inside a room. It implements
// domain.Peer for the relay layer.
type Participant struct {
	mu   sync.Mutex
	no   int
	id   string
	name string
	conn domain.Sender

	allowPosting bool

	lrm *liveroom.Manager
}

func (p *Participant) No() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.no
}

func (p *Participant) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *Participant) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *Participant) SetName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
}

// AllowPosting reports the participant's global opt-in to lend its chat
// identities for mirror posting.
func (p *Participant) AllowPosting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowPosting
}

func (p *Participant) SetAllowPosting(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowPosting = on
}

// SendCommand pushes a fire-and-forget command to the participant's client.
func (p *Participant) SendCommand(method string, params any) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		conn.SendCommand(method, params)
	}
}

// LiveRooms returns the participant's relay manager.
func (p *Participant) LiveRooms() *liveroom.Manager {
	return p.lrm
}

// Info is the wire snapshot of a participant.
type Info struct {
	No           int    `json:"no"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	AllowPosting bool   `json:"allowPosting"`
}

func (p *Participant) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Info{No: p.no, ID: p.id, Name: p.name, AllowPosting: p.allowPosting}
}
