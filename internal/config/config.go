package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// We use a struct (not globals) so it's testable and explicit.
type Config struct {
	// Server
	ServerAddr string
	Env        string // "development" or "production"

	// CORS / allowed frontend origin
	AppBaseURL string

	// External collaborators
	AuthVerifyURL      string // GET, bearer token -> identity JSON
	BackendMessagesURL string // POST, message persistence
	OutboundTimeout    time.Duration

	// Auth mode: "remote" verifies tokens against AuthVerifyURL,
	// "local" validates JWTs in-process (development only)
	AuthMode      string
	JWTSigningKey string

	// Presence fan-out
	PubSubType string // "memory" or "redis"
	RedisURL   string

	// Handshake admission control (0 disables)
	HandshakesPerMin int
}

const (
	AuthModeRemote = "remote"
	AuthModeLocal  = "local"
)

// Load reads configuration from environment variables.
// In production these come from the host, in dev from .env via docker-compose.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:         getEnvOrDefault("SERVER_ADDR", "0.0.0.0:8090"),
		Env:                getEnvOrDefault("APP_ENV", "development"),
		AppBaseURL:         getEnvOrDefault("APP_BASE_URL", "http://localhost:5173"),
		AuthVerifyURL:      os.Getenv("AUTH_VERIFY_URL"),
		BackendMessagesURL: os.Getenv("BACKEND_MESSAGES_URL"),
		AuthMode:           getEnvOrDefault("AUTH_MODE", AuthModeRemote),
		JWTSigningKey:      os.Getenv("JWT_SIGNING_KEY"),
		PubSubType:         getEnvOrDefault("PUBSUB_TYPE", "memory"),
		RedisURL:           os.Getenv("REDIS_URL"),
	}

	timeoutSec, err := intEnv("OUTBOUND_TIMEOUT_SECONDS", 10)
	if err != nil {
		return nil, err
	}
	cfg.OutboundTimeout = time.Duration(timeoutSec) * time.Second

	cfg.HandshakesPerMin, err = intEnv("HANDSHAKES_PER_MIN", 60)
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.AuthMode {
	case AuthModeRemote:
		if c.AuthVerifyURL == "" {
			return fmt.Errorf("AUTH_VERIFY_URL is required when AUTH_MODE=remote")
		}
	case AuthModeLocal:
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY is required when AUTH_MODE=local")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeRemote, AuthModeLocal, c.AuthMode)
	}

	if c.BackendMessagesURL == "" {
		return fmt.Errorf("BACKEND_MESSAGES_URL is required")
	}

	if c.PubSubType == "redis" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when PUBSUB_TYPE=redis")
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
