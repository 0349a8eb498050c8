// Package config loads server settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	// Vote timing.
	ExtendSeconds    int // span delta applied per net time-extend vote
	ExtendMinSeconds int // floor the stabilize side may not push past

	// Relay.
	CommenterCap      int  // max commenters per broadcast
	SubRoomCount      int  // chat partitions per broadcast
	PostNotifications bool // master switch for mirroring into broadcasts

	// Client-side pool.
	PostIntervalSeconds  int // per-broadcast posting cooldown
	ErrorCooldownSeconds int // reconnect back-off after a failed connect

	// Agent (commenter process) only.
	ServerURL       string // websocket endpoint of the voting server
	RoomID          int
	RoomPassword    string
	ParticipantName string
	ChatServer      string // host:port of the comment server
	SubRoom         int    // chat partition this agent comments into
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "text"),
		ExtendSeconds:        getEnvInt("EXTEND_SECONDS", 60),
		ExtendMinSeconds:     getEnvInt("EXTEND_MIN_SECONDS", 15),
		CommenterCap:         getEnvInt("COMMENTER_CAP", 12),
		SubRoomCount:         getEnvInt("SUB_ROOM_COUNT", 4),
		PostNotifications:    getEnvBool("POST_NOTIFICATIONS", true),
		PostIntervalSeconds:  getEnvInt("POST_INTERVAL_SECONDS", 3),
		ErrorCooldownSeconds: getEnvInt("ERROR_COOLDOWN_SECONDS", 120),
		ServerURL:            getEnv("SERVER_URL", "ws://localhost:8080/ws"),
		RoomID:               getEnvInt("ROOM_ID", 0),
		RoomPassword:         getEnv("ROOM_PASSWORD", ""),
		ParticipantName:      getEnv("PARTICIPANT_NAME", "commenter"),
		ChatServer:           getEnv("CHAT_SERVER", "localhost:2805"),
		SubRoom:              getEnvInt("SUB_ROOM", 0),
	}

	if cfg.ExtendSeconds == 0 {
		return nil, fmt.Errorf("EXTEND_SECONDS must be non-zero")
	}
	if cfg.ExtendMinSeconds < 0 {
		return nil, fmt.Errorf("EXTEND_MIN_SECONDS must not be negative")
	}
	if cfg.CommenterCap < 1 {
		return nil, fmt.Errorf("COMMENTER_CAP must be at least 1")
	}
	if cfg.SubRoomCount < 1 {
		return nil, fmt.Errorf("SUB_ROOM_COUNT must be at least 1")
	}
	if cfg.PostIntervalSeconds < 1 {
		return nil, fmt.Errorf("POST_INTERVAL_SECONDS must be at least 1")
	}
	if cfg.ErrorCooldownSeconds < 1 {
		return nil, fmt.Errorf("ERROR_COOLDOWN_SECONDS must be at least 1")
	}

	return cfg, nil
}

// ExtendSpan is the vote-span delta applied when the time-extend tally moves.
func (c *Config) ExtendSpan() time.Duration {
	return time.Duration(c.ExtendSeconds) * time.Second
}

// ExtendMinSpan is the floor AddVoteSpan enforces for the stabilize side.
func (c *Config) ExtendMinSpan() time.Duration {
	return time.Duration(c.ExtendMinSeconds) * time.Second
}

func (c *Config) PostInterval() time.Duration {
	return time.Duration(c.PostIntervalSeconds) * time.Second
}

func (c *Config) ErrorCooldown() time.Duration {
	return time.Duration(c.ErrorCooldownSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
