// Package config reads runtime settings from SKYHUNT_* environment variables
// (with defaults), loading a local .env file first when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/avocetvr/skyhunt/internal/conn"
	"github.com/avocetvr/skyhunt/internal/session"
	"github.com/joho/godotenv"
)

type Config struct {
	// Addr is the relay's HTTP listen address.
	Addr string
	// RelayURL is the websocket endpoint clients dial.
	RelayURL string

	PositionInterval  time.Duration
	AutoJoinTimeout   time.Duration
	MatchDuration     time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	ReconnectAttempts int
}

func NewFromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Addr:              getEnv("SKYHUNT_ADDR", ":8080"),
		RelayURL:          getEnv("SKYHUNT_RELAY_URL", "ws://localhost:8080/ws"),
		PositionInterval:  getDuration("SKYHUNT_POSITION_INTERVAL", 50*time.Millisecond),
		AutoJoinTimeout:   getDuration("SKYHUNT_AUTOJOIN_TIMEOUT", 5*time.Second),
		MatchDuration:     getDuration("SKYHUNT_MATCH_DURATION", 2*time.Minute),
		InitialBackoff:    getDuration("SKYHUNT_BACKOFF_INITIAL", time.Second),
		MaxBackoff:        getDuration("SKYHUNT_BACKOFF_MAX", 10*time.Second),
		ReconnectAttempts: getInt("SKYHUNT_RECONNECT_ATTEMPTS", 5),
	}
}

// ConnConfig maps the env settings onto a connection supervisor config.
func (c Config) ConnConfig() conn.Config {
	cfg := conn.DefaultConfig(c.RelayURL)
	cfg.InitialBackoff = c.InitialBackoff
	cfg.MaxBackoff = c.MaxBackoff
	cfg.MaxAttempts = c.ReconnectAttempts
	return cfg
}

// SessionConfig maps the env settings onto a session client config.
func (c Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.PositionInterval = c.PositionInterval
	cfg.AutoJoinTimeout = c.AutoJoinTimeout
	cfg.MatchDuration = c.MatchDuration
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
