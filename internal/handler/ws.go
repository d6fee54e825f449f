package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/relay"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/ws"
)

type WSHandler struct {
	engine         *relay.Engine
	limits         storage.LimitStore
	allowedOrigins string
	opts           ws.Options
}

// NewWSHandler creates the WebSocket upgrade handler. allowedOrigins is a
// comma-separated list or "*", as in CORS.
func NewWSHandler(engine *relay.Engine, limits storage.LimitStore, allowedOrigins string, opts ws.Options) *WSHandler {
	return &WSHandler{
		engine:         engine,
		limits:         limits,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
		opts:           opts,
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the connection and registers it with the engine. Identity
// arrives later over the socket (the Identify frame), so no auth happens
// here beyond origin checking and connect throttling.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ip := middleware.ClientIP(r)
	allowed, err := h.limits.AllowConnect(r.Context(), ip)
	if err != nil {
		logger.Errorf("ws connect limit check ip=%s: %v", ip, err)
		allowed = true
	}
	if !allowed {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.engine, conn, connID, h.opts)
	client.Start(ctx, cancel)

	if err := h.engine.HandleConnect(connID, client); err != nil {
		logger.Errorf("ws connect conn=%s: %v", connID, err)
		client.Close()
	}
}
