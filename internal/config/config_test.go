package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.LivenessWindow)
	assert.Equal(t, 200, cfg.MessageRetention)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("MESSAGE_RETENTION", "50")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.ServerAddr)
	assert.Equal(t, 50, cfg.MessageRetention)
}

func TestLivenessWindowCoveredByHeartbeat(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "40")
	t.Setenv("LIVENESS_WINDOW", "60")

	cfg := Load()
	assert.Equal(t, 80*time.Second, cfg.LivenessWindow,
		"liveness window stretches to two heartbeat intervals")
}

func TestChannelTableDefaults(t *testing.T) {
	cfg := &Config{}
	table := cfg.ChannelTable()
	require.NotEmpty(t, table)
	assert.Equal(t, "general", table[0].ID)
}

func TestChannelTableNormalizesLevels(t *testing.T) {
	cfg := &Config{Channels: []ChannelConfig{
		{ID: "lounge", FilterLevel: "anything-goes"},
		{ID: "kids", Name: "Kids", FilterLevel: "strict"},
	}}
	table := cfg.ChannelTable()
	require.Len(t, table, 2)
	assert.Equal(t, model.FilterModerate, table[0].FilterLevel, "unknown level falls back to moderate")
	assert.Equal(t, "lounge", table[0].Name, "missing name falls back to id")
	assert.Equal(t, model.FilterStrict, table[1].FilterLevel)
}
