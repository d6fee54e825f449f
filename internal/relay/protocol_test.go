package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEnvelopeShape(t *testing.T) {
	raw, err := json.Marshal(errorFrame("EMPTY_BODY", "empty message body"))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, float64(OpError), m["op"])
	assert.Equal(t, EventError, m["t"])
	require.Contains(t, m, "d")

	// Frames with no payload omit d and t entirely.
	raw, err = json.Marshal(Frame{Op: OpHeartbeatAck})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":8}`, string(raw))
}

func TestInboundFramePayloadStaysRaw(t *testing.T) {
	var f InboundFrame
	require.NoError(t, json.Unmarshal([]byte(`{"op":2,"d":{"user_id":"u1","display_name":"Alice","channel_id":"general"}}`), &f))
	assert.Equal(t, OpIdentify, f.Op)

	var p IdentifyPayload
	require.NoError(t, json.Unmarshal(f.D, &p))
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "general", p.ChannelID)
}
