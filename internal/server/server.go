package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hirebridge/relay/internal/config"
	"github.com/hirebridge/relay/internal/ws"
)

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	Hub       *ws.Hub
	WSHandler *ws.Handler
	Logger    *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	mux := http.NewServeMux()

	registerRoutes(mux, deps)

	handler := chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)

	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Liveness: process status plus current registry size, read-only
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		users, connections := deps.Hub.Counts()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":       "ok",
			"online_users": users,
			"connections":  connections,
		})
	})

	// Introspection: currently registered user ids, read-only
	mux.HandleFunc("GET /presence/online", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"user_ids": deps.Hub.OnlineUserIDs(),
		})
	})

	// WebSocket route
	mux.Handle("GET /ws", deps.WSHandler)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
