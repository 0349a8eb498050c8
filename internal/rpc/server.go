package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ebifrier/Okiami-sub000/internal/logging"
	"github.com/ebifrier/Okiami-sub000/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // desktop clients connect from arbitrary origins
	},
}

// Server exposes the room registry over a websocket endpoint.
type Server struct {
	echo     *echo.Echo
	registry *room.Registry
	logger   *slog.Logger
	methods  map[string]handlerFunc
}

func NewServer(registry *room.Registry, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		registry: registry,
		logger:   logger,
	}
	s.methods = s.handlers()

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", s.handleSocket)
	return s
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return nil
	}

	logger := s.logger.With("correlation_id", logging.NewCorrelationID())
	conn := newConn(ws, logger)
	defer conn.close()

	logger.Info("connection opened", "remote", ws.RemoteAddr().String())
	s.readLoop(conn)
	logger.Info("connection closed", "remote", ws.RemoteAddr().String())
	return nil
}

// readLoop pumps frames off the socket until it drops. Requests are handled
// inline to preserve per-connection ordering.
func (s *Server) readLoop(c *Conn) {
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
		case FrameRequest:
			c.reply(s.dispatch(c, frame))
		case FrameCommand:
			// Clients have no fire-and-forget commands toward the
			// server; everything client-initiated is a request.
			c.logger.Warn("ignoring client command", "method", frame.Method)
		default:
			c.logger.Warn("ignoring frame", "type", string(frame.Type))
		}
	}
}
