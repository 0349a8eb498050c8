// Package client runs the commenter side: one connection state machine per
// broadcast, pooled under a manager that drains server instructions.
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/ebifrier/Okiami-sub000/internal/census"
	"github.com/ebifrier/Okiami-sub000/internal/chat"
	"github.com/ebifrier/Okiami-sub000/internal/domain"
)

// State of one per-broadcast connection.
type State int

const (
	StateWait State = iota
	StateConnect
	StateError
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateWait:
		return "wait"
	case StateConnect:
		return "connect"
	case StateError:
		return "error"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// probeInterval caps how often the liveness probe runs.
const probeInterval = 30 * time.Second

// Reporter mirrors commenter state back to the voting server.
type Reporter interface {
	CommenterStateChanged(live domain.LiveData, canPost, watching bool)
}

// Client drives the connection to one broadcast's chat. All methods are
// called from the manager's worker goroutine except Enqueue and Allow,
// which may run on the network-receive path.
type Client struct {
	live   domain.LiveData
	dialer chat.Dialer
	clock  clockwork.Clock
	census *census.ConnectionCounter
	report Reporter
	logger *slog.Logger

	// limiter paces outgoing posts to the platform's comment cooldown.
	limiter *rate.Limiter
	// cooldown is how long a failed connection sits out before retrying.
	cooldown time.Duration

	mu      sync.Mutex
	queue   []string
	allowed bool

	conn        chat.Client
	state       State
	lastFailure time.Time
	lastProbe   time.Time
	liveAlive   bool
	watching    bool
	postable    bool
}

func NewClient(live domain.LiveData, allowed bool, dialer chat.Dialer, cc *census.ConnectionCounter,
	report Reporter, clock clockwork.Clock, postInterval, errorCooldown time.Duration, logger *slog.Logger) *Client {
	return &Client{
		live:     live,
		dialer:   dialer,
		clock:    clock,
		census:   cc,
		report:   report,
		logger:   logger.With("live", live.String()),
		limiter:  rate.NewLimiter(rate.Every(postInterval), 1),
		cooldown: errorCooldown,
		allowed:  allowed,
	}
}

func (c *Client) Live() domain.LiveData { return c.live }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Allow toggles the per-broadcast connect permission. Takes effect on the
// next Update.
func (c *Client) Allow(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowed = on
}

// Enqueue adds one outgoing comment. Posting happens from Update so slow
// network writes never block the caller.
func (c *Client) Enqueue(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDeleted {
		return
	}
	c.queue = append(c.queue, text)
	// A queued comment means we are no longer free to accept relay work.
	c.setPostableLocked(false)
}

// Update advances the state machine one step. Called on the worker's cadence.
func (c *Client) Update(ctx context.Context, authenticated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDeleted {
		return
	}

	if !authenticated {
		c.disconnectLocked()
		c.transitionLocked(StateWait)
		c.setWatchingLocked(false)
		c.setPostableLocked(false)
		return
	}

	c.probeLocked(ctx)
	c.applyConnectPolicyLocked(ctx)
	c.drainQueueLocked(ctx)
	c.refreshPostableLocked()
}

// Delete is terminal; the client disconnects and ignores everything after.
func (c *Client) Delete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDeleted {
		return
	}
	c.disconnectLocked()
	c.setWatchingLocked(false)
	c.setPostableLocked(false)
	c.transitionLocked(StateDeleted)
	c.queue = nil
}

// --- internals (mu held) ---

// probeLocked refreshes the liveness signal at most once per probeInterval
// and folds in the process-wide connection census.
func (c *Client) probeLocked(ctx context.Context) {
	now := c.clock.Now()
	if !c.lastProbe.IsZero() && now.Sub(c.lastProbe) < probeInterval {
		return
	}
	c.lastProbe = now

	if c.conn != nil && c.conn.Connected() {
		_, err := c.conn.Heartbeat(ctx)
		c.liveAlive = err == nil
	} else {
		c.liveAlive = false
	}

	watching := false
	if c.conn != nil {
		watching = c.liveAlive && c.census.Count(c.conn.Endpoint()) > 0
	}
	c.setWatchingLocked(watching)
}

func (c *Client) applyConnectPolicyLocked(ctx context.Context) {
	switch c.state {
	case StateWait:
		if c.allowed {
			c.connectLocked(ctx)
		}
	case StateConnect:
		if !c.allowed {
			c.disconnectLocked()
			c.transitionLocked(StateWait)
			return
		}
		// Transport dropped underneath us: fall back to Wait and let the
		// next cycle reconnect.
		if c.conn == nil || !c.conn.Connected() {
			c.disconnectLocked()
			c.transitionLocked(StateWait)
		}
	case StateError:
		if !c.allowed {
			c.transitionLocked(StateWait)
			return
		}
		if c.clock.Now().Sub(c.lastFailure) >= c.cooldown {
			c.connectLocked(ctx)
		}
	}
}

func (c *Client) connectLocked(ctx context.Context) {
	if c.conn == nil {
		conn, err := c.dialer.Dial(c.live)
		if err != nil {
			c.failLocked("dial failed", err)
			return
		}
		c.conn = conn
	}
	if err := c.conn.Connect(ctx); err != nil {
		c.failLocked("connect failed", err)
		return
	}
	c.census.ConnectionOpened(c.conn.Endpoint())
	c.transitionLocked(StateConnect)
}

func (c *Client) disconnectLocked() {
	if c.conn == nil {
		return
	}
	if c.state == StateConnect {
		c.census.ConnectionClosed(c.conn.Endpoint())
	}
	c.conn.Disconnect()
	c.conn = nil
}

func (c *Client) drainQueueLocked(ctx context.Context) {
	if c.state != StateConnect {
		return
	}
	for len(c.queue) > 0 {
		if !c.limiter.AllowN(c.clock.Now(), 1) {
			return
		}
		text := c.queue[0]
		if err := c.conn.Post(ctx, text); err != nil {
			c.disconnectLocked()
			c.failLocked("post failed", err)
			return
		}
		c.queue = c.queue[1:]
	}
}

// refreshPostableLocked flips the postable flag once the posting cooldown
// has elapsed and no outgoing comments remain.
func (c *Client) refreshPostableLocked() {
	eligible := c.state == StateConnect &&
		len(c.queue) == 0 &&
		c.limiter.TokensAt(c.clock.Now()) >= 1
	if eligible && !c.postable {
		c.setPostableLocked(true)
	}
}

func (c *Client) failLocked(msg string, err error) {
	c.logger.Warn(msg, "error", err)
	c.lastFailure = c.clock.Now()
	c.setPostableLocked(false)
	c.transitionLocked(StateError)
}

func (c *Client) transitionLocked(next State) {
	if c.state == next {
		return
	}
	c.logger.Debug("commenter state change", "from", c.state.String(), "to", next.String())
	c.state = next
	c.reportLocked()
}

func (c *Client) setWatchingLocked(on bool) {
	if c.watching == on {
		return
	}
	c.watching = on
	c.reportLocked()
}

func (c *Client) setPostableLocked(on bool) {
	if c.postable == on {
		return
	}
	c.postable = on
	c.reportLocked()
}

func (c *Client) reportLocked() {
	if c.report == nil {
		return
	}
	canPost := c.postable && c.state == StateConnect
	c.report.CommenterStateChanged(c.live, canPost, c.watching)
}
