package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
)

// rig wires an engine with all four stores on a shared fake clock.
type rig struct {
	engine   *Engine
	presence *PresenceStore
	messages *MessageStore
	conns    *ConnRegistry
	now      time.Time
}

func newRig(t *testing.T) *rig {
	t.Helper()
	channels := testChannels()
	r := &rig{
		presence: NewPresenceStore(channels, time.Minute),
		messages: NewMessageStore(channels, 200),
		conns:    NewConnRegistry(100),
		now:      time.Now(),
	}
	clock := func() time.Time { return r.now }
	r.presence.now = clock
	r.messages.now = clock
	r.conns.now = clock
	r.engine = NewEngine(channels, r.presence, r.messages, r.conns, nil, Options{
		HeartbeatInterval: 30 * time.Second,
		LivenessWindow:    time.Minute,
		TypingTTL:         4 * time.Second,
	})
	r.engine.now = clock
	return r
}

func (r *rig) connect(t *testing.T, connID string) *fakeSink {
	t.Helper()
	sink := &fakeSink{}
	require.NoError(t, r.engine.HandleConnect(connID, sink))
	frames := sink.all()
	require.Len(t, frames, 1)
	require.Equal(t, OpHello, frames[0].Op)
	return sink
}

func rawFrame(t *testing.T, op Opcode, d any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"op": op, "d": d})
	require.NoError(t, err)
	return raw
}

func (r *rig) identify(t *testing.T, connID, userID, name, channelID string) {
	t.Helper()
	r.engine.HandleFrame(connID, rawFrame(t, OpIdentify, IdentifyPayload{
		UserID:      userID,
		DisplayName: name,
		Avatar:      "av-" + userID,
		ChannelID:   channelID,
	}))
}

func lastErrorCode(t *testing.T, sink *fakeSink) string {
	t.Helper()
	frames := sink.all()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Op == OpError {
			return frames[i].D.(ErrorPayload).Code
		}
	}
	t.Fatal("no error frame pushed")
	return ""
}

func TestConnectSendsHello(t *testing.T) {
	r := newRig(t)
	sink := r.connect(t, "c1")

	hello := sink.all()[0].D.(HelloPayload)
	assert.Equal(t, int64(30000), hello.HeartbeatIntervalMs)
}

func TestIdentifyReadyAndPresence(t *testing.T) {
	r := newRig(t)
	a := r.connect(t, "ca")
	r.identify(t, "ca", "u1", "Alice", "general")

	var ready *Frame
	for _, f := range a.all() {
		if f.Op == OpReady {
			ready = &f
			break
		}
	}
	require.NotNil(t, ready, "Ready goes to the caller")
	p := ready.D.(ReadyPayload)
	assert.NotEmpty(t, p.SessionID)
	assert.Equal(t, "u1", p.User.ID)
	assert.Equal(t, "Alice", p.User.DisplayName)
	assert.Len(t, p.Channels, 3)

	// The caller is bound to the channel now, so the roster broadcast
	// reaches it too.
	rosters := a.byEvent(EventPresenceUpdate)
	require.NotEmpty(t, rosters)
	roster := rosters[len(rosters)-1].D.(PresencePayload)
	assert.Equal(t, "general", roster.ChannelID)
	require.Len(t, roster.Users, 1)
	assert.Equal(t, "u1", roster.Users[0].ID)
}

func TestIdentifyInvalidName(t *testing.T) {
	r := newRig(t)
	a := r.connect(t, "ca")
	r.identify(t, "ca", "u1", "ab", "general")

	assert.Equal(t, "INVALID_IDENTITY", lastErrorCode(t, a))
	assert.Empty(t, r.presence.ListActive(""), "failed identify leaves no presence")
}

func TestIdentifyUnknownChannel(t *testing.T) {
	r := newRig(t)
	a := r.connect(t, "ca")
	r.identify(t, "ca", "u1", "Alice", "atlantis")
	assert.Equal(t, "UNKNOWN_CHANNEL", lastErrorCode(t, a))
}

func TestMessageBeforeIdentifyRejected(t *testing.T) {
	r := newRig(t)
	a := r.connect(t, "ca")

	r.engine.HandleFrame("ca", rawFrame(t, OpMessageCreate, MessageCreatePayload{Body: "hi"}))

	assert.Equal(t, "NOT_IDENTIFIED", lastErrorCode(t, a))
	msgs, err := r.messages.Recent("general", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendMessageScenario(t *testing.T) {
	// Spec scenario: A and B identify into general, A sends "hi".
	r := newRig(t)
	a := r.connect(t, "ca")
	b := r.connect(t, "cb")
	r.identify(t, "ca", "uA", "Alice", "general")
	r.identify(t, "cb", "uB", "Bobby", "general")

	r.engine.HandleFrame("ca", rawFrame(t, OpMessageCreate, MessageCreatePayload{Body: "hi"}))

	msgs, err := r.messages.Recent("general", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.Equal(t, "uA", msgs[0].AuthorID)

	created := b.byEvent(EventMessageCreate)
	require.Len(t, created, 1, "B receives the broadcast")
	got := created[0].D.(model.Message)
	assert.Equal(t, "hi", got.Body, "body delivered verbatim")
	assert.Equal(t, "Alice", got.AuthorName)

	require.Len(t, a.byEvent(EventMessageCreate), 1, "sender receives its own message")

	active := r.presence.ListActive("general")
	assert.Len(t, active, 2)
}

func TestEmptyMessageRejected(t *testing.T) {
	r := newRig(t)
	a := r.connect(t, "ca")
	r.identify(t, "ca", "uA", "Alice", "general")

	r.engine.HandleFrame("ca", rawFrame(t, OpMessageCreate, MessageCreatePayload{Body: "   "}))

	assert.Equal(t, "EMPTY_BODY", lastErrorCode(t, a))
	msgs, _ := r.messages.Recent("general", 0)
	assert.Empty(t, msgs)
}

func TestHeartbeatAckAndTouch(t *testing.T) {
	r := newRig(t)
	a := r.connect(t, "ca")
	r.identify(t, "ca", "uA", "Alice", "general")

	r.now = r.now.Add(45 * time.Second)
	r.engine.HandleFrame("ca", rawFrame(t, OpHeartbeat, nil))

	var acked bool
	for _, f := range a.all() {
		if f.Op == OpHeartbeatAck {
			acked = true
		}
	}
	assert.True(t, acked)

	// The touch reset the liveness clock: 45s later the user is still active.
	r.now = r.now.Add(45 * time.Second)
	assert.Len(t, r.presence.ListActive("general"), 1)
}

func TestChannelJoinHistoryAndPresence(t *testing.T) {
	r := newRig(t)
	a := r.connect(t, "ca")
	b := r.connect(t, "cb")
	r.identify(t, "ca", "uA", "Alice", "general")
	r.identify(t, "cb", "uB", "Bobby", "games")

	r.engine.HandleFrame("cb", rawFrame(t, OpMessageCreate, MessageCreatePayload{Body: "old games talk"}))

	// A switches from general to games.
	r.engine.HandleFrame("ca", rawFrame(t, OpChannelJoin, ChannelJoinPayload{ChannelID: "games"}))

	history := a.byEvent(EventMessageHistory)
	require.Len(t, history, 1, "joiner receives the channel history")
	h := history[0].D.(MessageHistoryPayload)
	assert.Equal(t, "games", h.ChannelID)
	require.Len(t, h.Messages, 1)
	assert.Equal(t, "old games talk", h.Messages[0].Body)

	// B sees the roster grow.
	rosters := b.byEvent(EventPresenceUpdate)
	require.NotEmpty(t, rosters)
	last := rosters[len(rosters)-1].D.(PresencePayload)
	assert.Equal(t, "games", last.ChannelID)
	assert.Len(t, last.Users, 2)

	assert.Empty(t, r.presence.ListActive("general"))
	assert.Len(t, r.presence.ListActive("games"), 2)
}

func TestTypingExcludesSender(t *testing.T) {
	r := newRig(t)
	a := r.connect(t, "ca")
	b := r.connect(t, "cb")
	r.identify(t, "ca", "uA", "Alice", "general")
	r.identify(t, "cb", "uB", "Bobby", "general")

	r.engine.HandleFrame("ca", rawFrame(t, OpTypingStart, nil))

	assert.Empty(t, a.byEvent(EventTypingStart), "sender skipped")
	typing := b.byEvent(EventTypingStart)
	require.Len(t, typing, 1)
	p := typing[0].D.(TypingPayload)
	assert.Equal(t, "uA", p.UserID)
	assert.Equal(t, "Alice", p.DisplayName)

	require.Len(t, r.engine.TypingIn("general"), 1)
}

func TestTypingClearedOnMessage(t *testing.T) {
	r := newRig(t)
	r.connect(t, "ca")
	r.identify(t, "ca", "uA", "Alice", "general")

	r.engine.HandleFrame("ca", rawFrame(t, OpTypingStart, nil))
	require.Len(t, r.engine.TypingIn("general"), 1)

	r.engine.HandleFrame("ca", rawFrame(t, OpMessageCreate, MessageCreatePayload{Body: "done typing"}))
	assert.Empty(t, r.engine.TypingIn("general"))
}

func TestPresenceUpdateBroadcast(t *testing.T) {
	r := newRig(t)
	r.connect(t, "ca")
	b := r.connect(t, "cb")
	r.identify(t, "ca", "uA", "Alice", "general")
	r.identify(t, "cb", "uB", "Bobby", "general")

	r.engine.HandleFrame("ca", rawFrame(t, OpPresenceUpdate, PresenceUpdatePayload{Status: model.StatusAway}))

	rosters := b.byEvent(EventPresenceUpdate)
	require.NotEmpty(t, rosters)
	last := rosters[len(rosters)-1].D.(PresencePayload)
	var found bool
	for _, u := range last.Users {
		if u.ID == "uA" {
			found = true
			assert.Equal(t, model.StatusAway, u.Status)
		}
	}
	assert.True(t, found)
}

func TestMalformedFrame(t *testing.T) {
	r := newRig(t)
	a := r.connect(t, "ca")

	r.engine.HandleFrame("ca", []byte("{not json"))
	assert.Equal(t, "INVALID_PAYLOAD", lastErrorCode(t, a))

	// Connection is still usable afterwards.
	r.identify(t, "ca", "uA", "Alice", "general")
	assert.Len(t, r.presence.ListActive("general"), 1)
}

func TestCloseRetiresPresenceAndBroadcasts(t *testing.T) {
	r := newRig(t)
	r.connect(t, "ca")
	b := r.connect(t, "cb")
	r.identify(t, "ca", "uA", "Alice", "general")
	r.identify(t, "cb", "uB", "Bobby", "general")

	r.engine.HandleClose("ca")

	active := r.presence.ListActive("general")
	require.Len(t, active, 1)
	assert.Equal(t, "uB", active[0].ID)

	rosters := b.byEvent(EventPresenceUpdate)
	require.NotEmpty(t, rosters)
	last := rosters[len(rosters)-1].D.(PresencePayload)
	require.Len(t, last.Users, 1)
	assert.Equal(t, "uB", last.Users[0].ID, "B saw A leave")

	// Double close is a no-op.
	r.engine.HandleClose("ca")
}

func TestBroadcastFailureRetiresPresence(t *testing.T) {
	r := newRig(t)
	r.connect(t, "ca")
	b := r.connect(t, "cb")
	r.identify(t, "ca", "uA", "Alice", "general")
	r.identify(t, "cb", "uB", "Bobby", "general")

	// B's transport dies without a close handshake.
	b.mu.Lock()
	b.failing = true
	b.mu.Unlock()

	r.engine.HandleFrame("ca", rawFrame(t, OpMessageCreate, MessageCreatePayload{Body: "hi"}))

	assert.Equal(t, 1, r.conns.Count(), "dead connection unregistered")
	active := r.presence.ListActive("general")
	require.Len(t, active, 1, "dead peer's presence retired immediately, not at the next sweep")
	assert.Equal(t, "uA", active[0].ID)

	// The transport's own close sequence arriving later is a no-op.
	r.engine.HandleClose("cb")
	assert.Len(t, r.presence.ListActive("general"), 1)
}

func TestIdentifyUnknownConnectionLeavesNoPresence(t *testing.T) {
	r := newRig(t)

	// Identify racing a concurrent close: the connection is gone already.
	r.identify(t, "ghost", "uA", "Alice", "general")

	assert.Equal(t, 0, r.presence.Count())
	assert.Empty(t, r.presence.ListActive(""))
}

func TestReidentifyDifferentUserRetiresPrevious(t *testing.T) {
	r := newRig(t)
	r.connect(t, "ca")
	b := r.connect(t, "cb")
	r.identify(t, "cb", "uB", "Bobby", "general")
	r.identify(t, "ca", "uA", "Alice", "general")

	// The same connection claims a new identity; uA has no connections left.
	r.identify(t, "ca", "uC", "Carol", "general")

	active := r.presence.ListActive("general")
	require.Len(t, active, 2)
	ids := []string{active[0].ID, active[1].ID}
	assert.ElementsMatch(t, []string{"uB", "uC"}, ids)

	rosters := b.byEvent(EventPresenceUpdate)
	require.NotEmpty(t, rosters)
	last := rosters[len(rosters)-1].D.(PresencePayload)
	require.Len(t, last.Users, 2)
}

func TestReconnectKeepsSinglePresence(t *testing.T) {
	r := newRig(t)
	r.connect(t, "c1")
	r.identify(t, "c1", "uA", "Alice", "general")

	// Transport drops and the client reconnects with a fresh connection id.
	r.engine.HandleClose("c1")
	r.connect(t, "c2")
	r.identify(t, "c2", "uA", "Alice", "games")

	assert.Len(t, r.presence.ListActive(""), 1)
	u, err := r.presence.Get("uA")
	require.NoError(t, err)
	assert.Equal(t, "games", u.ChannelID)
}

func TestSweepExpiresStaleConnection(t *testing.T) {
	r := newRig(t)
	r.connect(t, "ca")
	b := r.connect(t, "cb")
	r.identify(t, "ca", "uA", "Alice", "general")
	r.identify(t, "cb", "uB", "Bobby", "general")

	// B keeps heartbeating, A goes silent past the liveness window.
	r.now = r.now.Add(45 * time.Second)
	r.engine.HandleFrame("cb", rawFrame(t, OpHeartbeat, nil))
	r.now = r.now.Add(45 * time.Second)

	r.engine.SweepExpired()

	assert.Equal(t, 1, r.conns.Count())
	active := r.presence.ListActive("general")
	require.Len(t, active, 1)
	assert.Equal(t, "uB", active[0].ID)

	rosters := b.byEvent(EventPresenceUpdate)
	require.NotEmpty(t, rosters)
	last := rosters[len(rosters)-1].D.(PresencePayload)
	require.Len(t, last.Users, 1)
	assert.Equal(t, "uB", last.Users[0].ID)
}

func TestSweepPurgesTypingIndicators(t *testing.T) {
	r := newRig(t)
	r.connect(t, "ca")
	r.identify(t, "ca", "uA", "Alice", "general")
	r.engine.HandleFrame("ca", rawFrame(t, OpTypingStart, nil))
	require.Len(t, r.engine.TypingIn("general"), 1)

	r.now = r.now.Add(5 * time.Second)
	r.engine.SweepExpired()
	assert.Empty(t, r.engine.TypingIn("general"))
}
