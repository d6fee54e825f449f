package handler

import (
	"net/http"

	"github.com/chatrelay/internal/relay"
)

// AdminCheck reports whether the request comes from an administrator. The
// relay does not implement admin auth itself; deployments inject their own
// predicate.
type AdminCheck func(r *http.Request) bool

// TokenAdminCheck gates on a bearer token. An empty token denies everyone.
func TokenAdminCheck(token string) AdminCheck {
	return func(r *http.Request) bool {
		if token == "" {
			return false
		}
		return r.Header.Get("Authorization") == "Bearer "+token
	}
}

type statsResponse struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Messages    int `json:"messages"`
	Channels    int `json:"channels"`
}

// StatsHandler exposes relay counters for the admin dashboard.
type StatsHandler struct {
	conns    *relay.ConnRegistry
	presence *relay.PresenceStore
	messages *relay.MessageStore
	channels *relay.ChannelRegistry
	isAdmin  AdminCheck
}

func NewStatsHandler(conns *relay.ConnRegistry, presence *relay.PresenceStore, messages *relay.MessageStore, channels *relay.ChannelRegistry, isAdmin AdminCheck) *StatsHandler {
	return &StatsHandler{conns: conns, presence: presence, messages: messages, channels: channels, isAdmin: isAdmin}
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Connections: h.conns.Count(),
		Users:       h.presence.Count(),
		Messages:    h.messages.Count(),
		Channels:    len(h.channels.List()),
	})
}
