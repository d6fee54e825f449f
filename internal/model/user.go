package model

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// User is a presence record: one per connected identity. Owned by the
// presence store; other components hold only the ID.
type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Avatar       string    `json:"avatar"`
	Status       Status    `json:"status"`
	ChannelID    string    `json:"channel_id"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// ValidStatus reports whether s is one of the four presence states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}
