package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hirebridge/relay/internal/auth"
	"github.com/hirebridge/relay/internal/backend"
	"github.com/hirebridge/relay/internal/config"
	"github.com/hirebridge/relay/internal/middleware"
	"github.com/hirebridge/relay/internal/pubsub"
	"github.com/hirebridge/relay/internal/server"
	"github.com/hirebridge/relay/internal/ws"
)

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Token verifier: remote auth service in production, local JWTs in dev
	var verifier auth.Verifier
	switch cfg.AuthMode {
	case config.AuthModeLocal:
		verifier, err = auth.NewJWTVerifier(cfg.JWTSigningKey)
		if err != nil {
			slog.Error("failed to create local verifier", "error", err)
			os.Exit(1)
		}
		slog.Warn("using local JWT verification - not for production")
	default:
		verifier = auth.NewHTTPVerifier(cfg.AuthVerifyURL, cfg.OutboundTimeout)
	}

	// Persistence collaborator
	store := backend.NewClient(cfg.BackendMessagesURL, cfg.OutboundTimeout, logger)

	// Presence bus: in-memory for a single instance, Redis to share
	// presence across instances
	var bus pubsub.PubSub
	if cfg.PubSubType == "redis" {
		bus, err = pubsub.NewRedisPubSub(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
	} else {
		bus = pubsub.NewMemoryPubSub()
	}
	defer bus.Close()

	// Handshake admission control
	var limiter *middleware.HandshakeLimiter
	if cfg.HandshakesPerMin > 0 {
		limiter = middleware.NewHandshakeLimiter(cfg.HandshakesPerMin)
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				limiter.Cleanup()
			}
		}()
	}

	// Hub and WebSocket handler
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()

	hub := ws.NewHub(verifier, store, bus, logger)
	go hub.Run(hubCtx)

	allowedOrigin := ""
	if !cfg.IsDevelopment() {
		allowedOrigin = cfg.AppBaseURL
	}
	wsHandler := ws.NewHandler(hub, limiter, allowedOrigin, logger)

	srv := server.New(cfg, &server.Dependencies{
		Hub:       hub,
		WSHandler: wsHandler,
		Logger:    logger,
	})

	// Graceful shutdown setup
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting relay", "addr", cfg.ServerAddr, "auth_mode", cfg.AuthMode, "pubsub", cfg.PubSubType)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")

	// Close live connections so their cleanup (deregistration, presence)
	// runs before the listener stops
	hub.Shutdown()

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("relay stopped")
}
