package client

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ebifrier/Okiami-sub000/internal/census"
	"github.com/ebifrier/Okiami-sub000/internal/chat"
	"github.com/ebifrier/Okiami-sub000/internal/domain"
)

const (
	updateInterval = time.Second
	// censusEvery counts worker cycles between connection-census refreshes.
	censusEvery = 5
	// instructionBuffer bounds the queue between the network-receive path
	// and the worker.
	instructionBuffer = 256
	refreshTimeout    = 5 * time.Second
)

// --- Instruction types ---

type instruction interface{ instruction() }

type instAdd struct {
	live  domain.LiveData
	allow bool
}

func (instAdd) instruction() {}

type instRemove struct {
	live domain.LiveData
}

func (instRemove) instruction() {}

type instPost struct {
	live domain.LiveData
	text string
}

func (instPost) instruction() {}

// Manager pools one Client per broadcast and drains instructions on a single
// worker goroutine so that slow connects and posts never block command
// reception from the server.
type Manager struct {
	dialer        chat.Dialer
	census        *census.ConnectionCounter
	report        Reporter
	clock         clockwork.Clock
	postInterval  time.Duration
	errorCooldown time.Duration
	logger        *slog.Logger

	authenticated atomic.Bool
	instrCh       chan instruction
	done          chan struct{}
	stopOnce      sync.Once

	mu      sync.Mutex
	clients map[domain.LiveData]*Client
}

func NewManager(dialer chat.Dialer, cc *census.ConnectionCounter, report Reporter,
	clock clockwork.Clock, postInterval, errorCooldown time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		dialer:        dialer,
		census:        cc,
		report:        report,
		clock:         clock,
		postInterval:  postInterval,
		errorCooldown: errorCooldown,
		logger:        logger,
		instrCh:       make(chan instruction, instructionBuffer),
		done:          make(chan struct{}),
		clients:       make(map[domain.LiveData]*Client),
	}
}

// Start launches the worker goroutine.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// Close stops the worker. In-flight posts are abandoned.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.done) })
}

// SetAuthenticated gates every connection: while false, all clients force
// disconnect on their next update.
func (m *Manager) SetAuthenticated(on bool) {
	m.authenticated.Store(on)
}

// Add creates (or re-allows) the commenter for a broadcast.
func (m *Manager) Add(live domain.LiveData, allow bool) {
	m.enqueue(instAdd{live: live, allow: allow})
}

// Remove deletes the commenter for a broadcast.
func (m *Manager) Remove(live domain.LiveData) {
	m.enqueue(instRemove{live: live})
}

// PostComment queues one comment for a broadcast. FIFO order is preserved
// per broadcast.
func (m *Manager) PostComment(live domain.LiveData, text string) {
	m.enqueue(instPost{live: live, text: text})
}

// Client looks up the pooled client for a broadcast.
func (m *Manager) Client(live domain.LiveData) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[live]
	return c, ok
}

func (m *Manager) enqueue(instr instruction) {
	select {
	case m.instrCh <- instr:
	case <-m.done:
	default:
		m.logger.Warn("instruction queue full, dropping", "instruction", instr)
	}
}

func (m *Manager) run(ctx context.Context) {
	ticker := m.clock.NewTicker(updateInterval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case instr := <-m.instrCh:
			m.apply(instr)
		case <-ticker.Chan():
			m.drainInstructions()
			m.updateAll(ctx)
			cycle++
			if cycle%censusEvery == 0 {
				m.refreshCensus(ctx)
			}
		}
	}
}

// drainInstructions empties whatever arrived since the last tick before the
// per-commenter updates run.
func (m *Manager) drainInstructions() {
	for {
		select {
		case instr := <-m.instrCh:
			m.apply(instr)
		default:
			return
		}
	}
}

func (m *Manager) apply(instr instruction) {
	switch in := instr.(type) {
	case instAdd:
		m.mu.Lock()
		c, ok := m.clients[in.live]
		if !ok {
			c = NewClient(in.live, in.allow, m.dialer, m.census, m.report,
				m.clock, m.postInterval, m.errorCooldown, m.logger)
			m.clients[in.live] = c
		}
		m.mu.Unlock()
		if ok {
			c.Allow(in.allow)
		}
	case instRemove:
		m.mu.Lock()
		c, ok := m.clients[in.live]
		delete(m.clients, in.live)
		m.mu.Unlock()
		if ok {
			c.Delete()
		}
	case instPost:
		m.mu.Lock()
		c, ok := m.clients[in.live]
		m.mu.Unlock()
		if ok {
			c.Enqueue(in.text)
		}
	}
}

func (m *Manager) updateAll(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		snapshot = append(snapshot, c)
	}
	m.mu.Unlock()

	authed := m.authenticated.Load()
	for _, c := range snapshot {
		c.Update(ctx, authed)
	}
}

func (m *Manager) refreshCensus(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	// Refresh logs its own failures; a skipped cycle is fine.
	_ = m.census.Refresh(rctx)
}
