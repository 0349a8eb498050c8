// The agent is a headless room participant that lends its identity for
// posting into broadcasts: it joins a room, opts into posting, and runs the
// commenter pool against the server's relay commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/ebifrier/Okiami-sub000/internal/census"
	"github.com/ebifrier/Okiami-sub000/internal/chat"
	"github.com/ebifrier/Okiami-sub000/internal/client"
	"github.com/ebifrier/Okiami-sub000/internal/config"
	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/liveroom"
	"github.com/ebifrier/Okiami-sub000/internal/logging"
	"github.com/ebifrier/Okiami-sub000/internal/rpc"
)

// reporter mirrors commenter state back to the voting server.
type reporter struct {
	rpc    *rpc.Client
	logger *slog.Logger
}

func (r *reporter) CommenterStateChanged(live domain.LiveData, canPost, watching bool) {
	params := rpc.CommenterStateParams{Live: live, CanPost: canPost, Watching: watching}
	if err := r.rpc.Notify(context.Background(), "CommenterStateChanged", params); err != nil {
		r.logger.Warn("state report failed", "live", live.String(), "error", err)
	}
}

func chatResolver(chatServer string) (chat.Resolver, error) {
	host, portStr, err := net.SplitHostPort(chatServer)
	if err != nil {
		return nil, fmt.Errorf("CHAT_SERVER must be host:port: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("CHAT_SERVER port: %w", err)
	}
	ep := domain.AddressPort{Address: host, Port: port}

	return func(live domain.LiveData) (string, domain.AddressPort, error) {
		url := fmt.Sprintf("ws://%s/chat/%s/%s", chatServer, live.Site, live.ID)
		return url, ep, nil
	}, nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := rpc.Dial(ctx, cfg.ServerURL, logger)
	if err != nil {
		logger.Error("Failed to connect to server", "url", cfg.ServerURL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	resolve, err := chatResolver(cfg.ChatServer)
	if err != nil {
		logger.Error("Bad chat server address", "error", err)
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	counter := census.NewConnectionCounter(logger)
	dialer := chat.NewWSDialer(resolve, logger)
	manager := client.NewManager(dialer, counter, &reporter{rpc: conn, logger: logger},
		clock, cfg.PostInterval(), cfg.ErrorCooldown(), logger)

	subRoom := cfg.SubRoom
	conn.Handle("NotifyNewLive", func(params json.RawMessage) {
		var live domain.LiveData
		if err := json.Unmarshal(params, &live); err != nil {
			logger.Warn("bad NotifyNewLive payload", "error", err)
			return
		}
		logging.WithLive(live.String()).Info("invited to broadcast")
		manager.Add(live, true)
		if err := conn.Notify(ctx, "LiveConnected", rpc.LiveConnectedParams{Live: live, SubRoom: subRoom}); err != nil {
			logger.Warn("LiveConnected failed", "error", err)
		}
	})
	conn.Handle("NotifyClosedLive", func(params json.RawMessage) {
		var live domain.LiveData
		if err := json.Unmarshal(params, &live); err != nil {
			logger.Warn("bad NotifyClosedLive payload", "error", err)
			return
		}
		logging.WithLive(live.String()).Info("broadcast closed")
		manager.Remove(live)
		if err := conn.Notify(ctx, "LiveDisconnected", rpc.LiveRefParams{Live: live}); err != nil {
			logger.Warn("LiveDisconnected failed", "error", err)
		}
	})
	conn.Handle("NotificationForPost", func(params json.RawMessage) {
		var order liveroom.PostOrder
		if err := json.Unmarshal(params, &order); err != nil {
			logger.Warn("bad NotificationForPost payload", "error", err)
			return
		}
		manager.PostComment(order.Live, order.Text)
	})
	conn.Start()

	// Join the room as a posting-willing participant.
	var entry rpc.RoomEntryResult
	enter := rpc.EnterRoomParams{
		RoomID:        cfg.RoomID,
		Password:      cfg.RoomPassword,
		ParticipantID: uuid.NewString(),
		Name:          cfg.ParticipantName,
	}
	if err := conn.Call(ctx, "EnterRoom", enter, &entry); err != nil {
		logger.Error("Failed to enter room", "room", cfg.RoomID, "error", err)
		os.Exit(1)
	}
	logger.Info("entered room", "room", entry.Room.ID, "participant_no", entry.ParticipantNo)

	attr := rpc.ParticipantAttributeParams{Name: cfg.ParticipantName, AllowPosting: true}
	if err := conn.Notify(ctx, "SetParticipantAttribute", attr); err != nil {
		logger.Error("Failed to opt into posting", "error", err)
		os.Exit(1)
	}

	manager.SetAuthenticated(true)
	manager.Start(ctx)
	defer manager.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("Shutdown signal received")
		_ = conn.Notify(ctx, "LeaveRoom", nil)
	case <-conn.Done():
		logger.Warn("server connection lost")
	}
}
