package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/ebifrier/Okiami-sub000/internal/config"
	"github.com/ebifrier/Okiami-sub000/internal/domain"
	"github.com/ebifrier/Okiami-sub000/internal/liveroom"
	"github.com/ebifrier/Okiami-sub000/internal/logging"
	"github.com/ebifrier/Okiami-sub000/internal/room"
	"github.com/ebifrier/Okiami-sub000/internal/rpc"
	"github.com/ebifrier/Okiami-sub000/internal/version"
)

// networkClock stands in for an NTP-corrected clock; single-host deployments
// run fine on system time.
func networkClock(clock clockwork.Clock) domain.NetworkClock {
	return domain.NetworkClockFunc(clock.Now)
}

func setupConfig() *config.Config {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func runGracefulShutdown(srv *rpc.Server) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	registry := room.NewRegistry(room.Deps{
		Clock:    clock,
		NetClock: networkClock(clock),
		Relay: liveroom.Config{
			SubRoomCount:      cfg.SubRoomCount,
			CommenterCap:      cfg.CommenterCap,
			PostNotifications: cfg.PostNotifications,
		},
		ExtendSpan: cfg.ExtendSpan(),
		ExtendMin:  cfg.ExtendMinSpan(),
	})

	srv := rpc.NewServer(registry, slog.Default())
	done := runGracefulShutdown(srv)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
