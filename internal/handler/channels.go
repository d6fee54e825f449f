package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/relay"
)

// ChannelHandler is the read-only HTTP companion to the relay: channel list,
// recent history and live presence as JSON.
type ChannelHandler struct {
	channels *relay.ChannelRegistry
	messages *relay.MessageStore
	presence *relay.PresenceStore
}

func NewChannelHandler(channels *relay.ChannelRegistry, messages *relay.MessageStore, presence *relay.PresenceStore) *ChannelHandler {
	return &ChannelHandler{channels: channels, messages: messages, presence: presence}
}

// List returns all configured channels.
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.channels.List())
}

// Messages returns the retained log of a channel, oldest first. Query:
// limit (default all retained).
func (h *ChannelHandler) Messages(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 0)
	msgs, err := h.messages.Recent(channelID, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Presence returns the active users of a channel.
func (h *ChannelHandler) Presence(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	if _, err := h.channels.Get(channelID); err != nil {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	writeJSON(w, http.StatusOK, h.presence.ListActive(channelID))
}
