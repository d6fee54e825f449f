package model

import "time"

// Message is an immutable chat message. Author name and avatar are copied at
// send time so later renames do not rewrite history. Seq is assigned by the
// message store and is strictly increasing per channel; together with
// Timestamp it gives subscribers a total order within a channel.
type Message struct {
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	ChannelID   string    `json:"channel_id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Avatar      string    `json:"avatar"`
	Body        string    `json:"body"`
	Timestamp   int64     `json:"timestamp"` // server clock, unix milliseconds
	CreatedAt   time.Time `json:"created_at"`
}

// TypingIndicator is an ephemeral marker: user is typing in a channel. Not
// persisted; expired by the liveness sweep.
type TypingIndicator struct {
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	StartedAt time.Time `json:"started_at"`
}
