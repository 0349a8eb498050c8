package rpc

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ebifrier/Okiami-sub000/internal/room"
)

const (
	sendBuffer    = 64
	writeDeadline = 5 * time.Second
)

// Conn owns one websocket. All writes go through a single writer goroutine;
// SendCommand may be called from any goroutine and never blocks.
type Conn struct {
	ws     *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	mu          sync.Mutex
	room        *room.Room
	participant *room.Participant
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	c := &Conn{
		ws:     ws,
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.writeLoop()
	return c
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// SendCommand implements domain.Sender. A full send buffer drops the frame
// rather than stalling the room that is broadcasting.
func (c *Conn) SendCommand(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		c.logger.Error("marshal command failed", "method", method, "error", err)
		return
	}
	frame, err := json.Marshal(Frame{Type: FrameCommand, Method: method, Params: raw})
	if err != nil {
		return
	}
	select {
	case c.sendCh <- frame:
	default:
		c.logger.Warn("dropping command for slow connection", "method", method)
	}
}

func (c *Conn) reply(frame Frame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("marshal response failed", "method", frame.Method, "error", err)
		return
	}
	select {
	case c.sendCh <- raw:
	case <-c.done:
	}
}

// bind records the room membership established by CreateRoom or EnterRoom.
func (c *Conn) bind(r *room.Room, p *room.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
	c.participant = p
}

func (c *Conn) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = nil
	c.participant = nil
}

func (c *Conn) session() (*room.Room, *room.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.participant
}

// close tears the socket down and detaches the participant from its room.
func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
		r, p := c.session()
		c.unbind()
		if r != nil && p != nil {
			r.Leave(p)
		}
	})
}
