package relay

import (
	"encoding/json"

	"github.com/chatrelay/internal/model"
)

// Opcode tags the kind of protocol frame. Client->server: Heartbeat,
// Identify, PresenceUpdate, MessageCreate, ChannelJoin, TypingStart.
// Server->client: Dispatch, Hello, HeartbeatAck, Error, Ready.
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpPresenceUpdate Opcode = 3
	OpMessageCreate  Opcode = 4
	OpChannelJoin    Opcode = 5
	OpTypingStart    Opcode = 6
	OpHello          Opcode = 7
	OpHeartbeatAck   Opcode = 8
	OpError          Opcode = 9
	OpReady          Opcode = 10
)

// Dispatch event names carried in the t field of server pushes.
const (
	EventReady          = "READY"
	EventMessageCreate  = "MESSAGE_CREATE"
	EventMessageHistory = "MESSAGE_HISTORY"
	EventTypingStart    = "TYPING_START"
	EventPresenceUpdate = "PRESENCE_UPDATE"
	EventError          = "ERROR"
)

// Frame is the wire envelope for server->client pushes: {op, d, t}.
type Frame struct {
	Op Opcode `json:"op"`
	T  string `json:"t,omitempty"`
	D  any    `json:"d,omitempty"`
}

// InboundFrame is the wire envelope as received from a client; the payload
// stays raw until the opcode is known.
type InboundFrame struct {
	Op Opcode          `json:"op"`
	T  string          `json:"t,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// --- Client->server payloads ---

type IdentifyPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	ChannelID   string `json:"channel_id"`
}

type PresenceUpdatePayload struct {
	Status model.Status `json:"status"`
}

type MessageCreatePayload struct {
	Body string `json:"body"`
}

type ChannelJoinPayload struct {
	ChannelID string `json:"channel_id"`
}

// --- Server->client payloads (typed to keep the hot path off map[string]any) ---

// HelloPayload is sent once on connect and tells the client how often to
// heartbeat.
type HelloPayload struct {
	HeartbeatIntervalMs int64 `json:"heartbeat_interval_ms"`
}

// ReadyPayload acknowledges a successful identify to the caller only.
type ReadyPayload struct {
	SessionID string          `json:"session_id"`
	User      model.User      `json:"user"`
	Channels  []model.Channel `json:"channels"`
}

// ErrorPayload carries a recoverable protocol error back to the sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageHistoryPayload replays a channel's retained log to a joining
// connection, oldest first.
type MessageHistoryPayload struct {
	ChannelID string          `json:"channel_id"`
	Messages  []model.Message `json:"messages"`
}

// TypingPayload is broadcast when a user starts typing, excluding the sender.
type TypingPayload struct {
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// PresencePayload is the active roster of a channel, broadcast whenever
// membership or status changes.
type PresencePayload struct {
	ChannelID string       `json:"channel_id"`
	Users     []model.User `json:"users"`
}

func dispatchFrame(event string, d any) Frame {
	return Frame{Op: OpDispatch, T: event, D: d}
}

func errorFrame(code string, message string) Frame {
	return Frame{Op: OpError, T: EventError, D: ErrorPayload{Code: code, Message: message}}
}
