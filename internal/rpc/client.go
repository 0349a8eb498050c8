package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ebifrier/Okiami-sub000/internal/errors"
	"github.com/ebifrier/Okiami-sub000/internal/retry"
)

// CommandHandler receives one server-initiated command.
type CommandHandler func(params json.RawMessage)

// Client is the agent's side of the socket: requests with correlated
// responses, plus a handler table for server-pushed commands.
type Client struct {
	ws     *websocket.Conn
	logger *slog.Logger

	nextID atomic.Int64

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan Frame
	handlers map[string]CommandHandler

	done chan struct{}
	once sync.Once
}

// Dial connects to the voting server, retrying transient failures with
// doubling backoff.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	var ws *websocket.Conn
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			logger.Warn("server connect failed, retrying",
				"attempt", attempt, "backoff", backoff.String(), "error", err)
		},
	}
	err := retry.Do(ctx, policy, func() error {
		conn, _, derr := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if derr != nil {
			return derr
		}
		ws = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		ws:       ws,
		logger:   logger,
		pending:  make(map[int64]chan Frame),
		handlers: make(map[string]CommandHandler),
		done:     make(chan struct{}),
	}
	return c, nil
}

// Handle registers the handler for one server command. Must be called
// before Start.
func (c *Client) Handle(method string, h CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// Start launches the read loop.
func (c *Client) Start() {
	go c.readLoop()
}

// Done is closed once the connection drops.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Call sends one request and waits for its response. A non-zero response
// code comes back as a structured error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return errors.ValidationError("encode params: " + err.Error())
		}
		raw = b
	}

	replyCh := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[id] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(Frame{Type: FrameRequest, ID: id, Method: method, Params: raw}); err != nil {
		return err
	}

	select {
	case resp := <-replyCh:
		if resp.Code != errors.CodeOK {
			return errors.FromCode(resp.Code, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errors.InternalError("decode result", err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.BadStateError("connection closed")
	}
}

// Notify is Call without caring about the result payload.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	return c.Call(ctx, method, params, nil)
}

func (c *Client) write(frame Frame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return errors.InternalError("encode frame", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	if werr := c.ws.WriteMessage(websocket.TextMessage, raw); werr != nil {
		return errors.InternalError("write frame", werr)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch frame.Type {
		case FrameResponse:
			c.mu.Lock()
			replyCh := c.pending[frame.ID]
			c.mu.Unlock()
			if replyCh != nil {
				replyCh <- frame
			}
		case FrameCommand:
			c.mu.Lock()
			h := c.handlers[frame.Method]
			c.mu.Unlock()
			if h == nil {
				c.logger.Debug("no handler for command", "method", frame.Method)
				continue
			}
			// Handlers only enqueue work; running inline keeps
			// per-connection command order.
			h(frame.Params)
		}
	}
}
