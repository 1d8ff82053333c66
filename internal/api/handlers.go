package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"distributor/internal/config"
	"distributor/internal/metrics"
	"distributor/internal/registry"
	"distributor/internal/session"

	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

type Handlers struct {
	baseCtx  context.Context
	registry *registry.Registry
	upgrader websocket.Upgrader
	opts     session.Options
	logger   *slog.Logger
}

// NewHandlers builds the HTTP handlers. Sessions run until ctx is cancelled
// or their client goes away.
func NewHandlers(ctx context.Context, reg *registry.Registry, cfg config.WebSocket, logger *slog.Logger) *Handlers {
	return &Handlers{
		baseCtx:  ctx,
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		opts: session.Options{
			ReadLimit:    cfg.ReadLimit,
			WriteTimeout: cfg.WriteTimeout,
			PongWait:     cfg.PongWait,
			PingPeriod:   cfg.PingPeriod,
		},
		logger: logger,
	}
}

// checkOrigin allows any origin when the list is empty or contains "*".
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// ServeWS upgrades the request and runs a client session on it until the
// session closes.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	logger := h.logger.With(
		"remote_addr", r.RemoteAddr,
		"request_id", ChiMiddleware.GetReqID(r.Context()),
	)
	s := session.New(conn, h.registry, logger, h.opts)

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	if err := s.Run(h.baseCtx); err != nil {
		logger.Error("session failed to start", "error", err)
	}
}

func (h *Handlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.registry.Snapshot()); err != nil {
		h.logger.Error("failed to encode topic snapshot", "error", err)
	}
}
