package ws

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hirebridge/relay/internal/middleware"
)

// Handler handles WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	limiter  *middleware.HandshakeLimiter // nil disables admission control
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a WebSocket handler. allowedOrigin restricts browser
// connections in production; empty allows any origin (development).
func NewHandler(hub *Hub, limiter *middleware.HandshakeLimiter, allowedOrigin string, logger *slog.Logger) *Handler {
	return &Handler{
		hub:     hub,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		logger: logger,
	}
}

// ServeHTTP upgrades HTTP to WebSocket and handles the connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(remoteHost(r)) {
		w.Header().Set("Retry-After", "1")
		http.Error(w, `{"error":"too many connection attempts"}`, http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, h.logger)

	// Use a dedicated context for the connection lifecycle; the request
	// context is cancelled when ServeHTTP returns after the upgrade
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.SetCancelFunc(cancel)

	go client.WritePump(ctx)
	client.ReadPump(ctx) // Block here until the client disconnects
}

// remoteHost extracts the host part of the request's remote address
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
