package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/errors"
)

const commentBuffer = 64

// Resolver maps a broadcast to its comment-server websocket URL and the
// TCP endpoint behind it.
type Resolver func(live domain.LiveData) (url string, ep domain.AddressPort, err error)

// WSDialer dials comment servers that speak JSON messages over a websocket.
type WSDialer struct {
	resolve Resolver
	logger  *slog.Logger
}

func NewWSDialer(resolve Resolver, logger *slog.Logger) *WSDialer {
	return &WSDialer{resolve: resolve, logger: logger}
}

func (d *WSDialer) Dial(live domain.LiveData) (Client, error) {
	url, ep, err := d.resolve(live)
	if err != nil {
		return nil, err
	}
	return &wsClient{
		live:     live,
		url:      url,
		endpoint: ep,
		logger:   d.logger.With("live", live.String()),
	}, nil
}

// wireMessage is the comment server's frame shape, both directions.
type wireMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
	SubRoom  int    `json:"subRoom,omitempty"`
	Visitors int    `json:"visitors,omitempty"`
	Comments int    `json:"comments,omitempty"`
}

type wsClient struct {
	live     domain.LiveData
	url      string
	endpoint domain.AddressPort
	logger   *slog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	comments  chan Comment
	heartbeat domain.Heartbeat
}

func (c *wsClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return nil
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.InternalError("comment server dial failed", err)
	}
	c.ws = ws
	c.comments = make(chan Comment, commentBuffer)
	go c.readPump(ws, c.comments)
	return nil
}

func (c *wsClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return
	}
	c.ws.Close()
	c.ws = nil
}

func (c *wsClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *wsClient) Post(ctx context.Context, text string) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.BadStateError("not connected")
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(wireMessage{Type: "post", Text: text}); err != nil {
		return errors.InternalError("post failed", err)
	}
	return nil
}

func (c *wsClient) Comments() <-chan Comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comments
}

// Heartbeat returns the visitor/comment counts the server pushed last.
func (c *wsClient) Heartbeat(ctx context.Context) (domain.Heartbeat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return domain.Heartbeat{}, errors.BadStateError("not connected")
	}
	return c.heartbeat, nil
}

func (c *wsClient) Endpoint() domain.AddressPort { return c.endpoint }

func (c *wsClient) readPump(ws *websocket.Conn, out chan<- Comment) {
	defer close(out)
	for {
		var msg wireMessage
		if err := ws.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			if c.ws == ws {
				c.ws = nil
			}
			c.mu.Unlock()
			return
		}

		switch msg.Type {
		case "comment":
			comment := Comment{
				Text:      msg.Text,
				UserID:    msg.UserID,
				UserName:  msg.UserName,
				SubRoom:   msg.SubRoom,
				Timestamp: time.Now(),
			}
			select {
			case out <- comment:
			default:
				c.logger.Warn("comment buffer full, dropping")
			}
		case "heartbeat":
			c.mu.Lock()
			c.heartbeat = domain.Heartbeat{Visitors: msg.Visitors, Comments: msg.Comments}
			c.mu.Unlock()
		}
	}
}
