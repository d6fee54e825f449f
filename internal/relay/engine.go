package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/filter"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

// Options tune engine timing. Zero values fall back to the defaults below.
type Options struct {
	HeartbeatInterval time.Duration
	LivenessWindow    time.Duration
	TypingTTL         time.Duration
}

const (
	defaultHeartbeat = 30 * time.Second
	defaultLiveness  = 60 * time.Second
	defaultTypingTTL = 4 * time.Second
)

// Engine is the dispatch/protocol core: it decodes inbound frames, drives
// the per-connection state machine (unidentified -> identified -> closed)
// and mutates the presence, message and connection stores. Protocol errors
// are answered with Error events and never close the connection; only
// transport failures and liveness timeouts do.
type Engine struct {
	channels *ChannelRegistry
	presence *PresenceStore
	messages *MessageStore
	conns    *ConnRegistry
	filter   filter.Func
	opts     Options

	typingMu sync.Mutex
	typing   map[string]model.TypingIndicator

	now func() time.Time
}

func NewEngine(channels *ChannelRegistry, presence *PresenceStore, messages *MessageStore, conns *ConnRegistry, f filter.Func, opts Options) *Engine {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.LivenessWindow <= 0 {
		opts.LivenessWindow = defaultLiveness
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = defaultTypingTTL
	}
	if f == nil {
		f = filter.Passthrough
	}
	return &Engine{
		channels: channels,
		presence: presence,
		messages: messages,
		conns:    conns,
		filter:   f,
		opts:     opts,
		typing:   make(map[string]model.TypingIndicator),
		now:      time.Now,
	}
}

// HeartbeatInterval is the interval advertised to clients in Hello.
func (e *Engine) HeartbeatInterval() time.Duration { return e.opts.HeartbeatInterval }

// HandleConnect registers a fresh transport connection and greets it with
// Hello so the client knows the heartbeat cadence.
func (e *Engine) HandleConnect(connID string, sink Sink) error {
	if err := e.conns.Register(connID, sink); err != nil {
		return err
	}
	if err := e.conns.Send(connID, Frame{Op: OpHello, D: HelloPayload{
		HeartbeatIntervalMs: e.opts.HeartbeatInterval.Milliseconds(),
	}}); err != nil {
		e.conns.Unregister(connID)
		return err
	}
	return nil
}

// HandleFrame decodes and dispatches one inbound frame. A malformed frame is
// logged and answered with an Error event; the connection stays open.
func (e *Engine) HandleFrame(connID string, raw []byte) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		logger.Errorf("relay decode frame conn=%s: %v", connID, err)
		e.sendError(connID, ErrInvalidPayload)
		return
	}

	switch f.Op {
	case OpHeartbeat:
		e.handleHeartbeat(connID)
	case OpIdentify:
		e.handleIdentify(connID, f.D)
	case OpMessageCreate:
		e.handleMessageCreate(connID, f.D)
	case OpChannelJoin:
		e.handleChannelJoin(connID, f.D)
	case OpTypingStart:
		e.handleTypingStart(connID)
	case OpPresenceUpdate:
		e.handlePresenceUpdate(connID, f.D)
	default:
		e.sendError(connID, ErrInvalidPayload)
	}
}

func (e *Engine) handleIdentify(connID string, raw json.RawMessage) {
	defer logger.DeferLogDuration("relay.handleIdentify", time.Now())()
	var p IdentifyPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.UserID == "" {
		e.sendError(connID, ErrInvalidPayload)
		return
	}
	if !e.channels.Has(p.ChannelID) {
		e.sendError(connID, ErrUnknownChannel)
		return
	}

	user, err := e.presence.Upsert(p.UserID, p.DisplayName, p.Avatar, p.ChannelID)
	if err != nil {
		e.sendError(connID, err)
		return
	}
	prevUserID, prevLast, err := e.conns.Bind(connID, p.UserID, p.ChannelID)
	if err != nil {
		// Race with a concurrent close; the client should reconnect.
		logger.Errorf("relay bind conn=%s user=%s: %v", connID, p.UserID, err)
		e.presence.Remove(p.UserID)
		e.sendError(connID, err)
		return
	}
	if prevUserID != "" && prevLast {
		// The connection re-identified as somebody else; its old identity
		// has no connections left.
		e.retireUser(prevUserID)
	}

	ready := ReadyPayload{
		SessionID: uuid.New().String(),
		User:      user,
		Channels:  e.channels.List(),
	}
	if err := e.conns.Send(connID, Frame{Op: OpReady, T: EventReady, D: ready}); err != nil {
		logger.Errorf("relay send ready conn=%s: %v", connID, err)
		e.HandleClose(connID)
		return
	}
	e.broadcastPresence(p.ChannelID, "")
}

func (e *Engine) handleHeartbeat(connID string) {
	// Liveness is tracked even before identify; presence only after.
	e.conns.TouchAck(connID)
	if userID, ok := e.conns.UserID(connID); ok {
		e.presence.Touch(userID)
	}
	if err := e.conns.Send(connID, Frame{Op: OpHeartbeatAck}); err != nil {
		logger.Errorf("relay heartbeat ack conn=%s: %v", connID, err)
	}
}

func (e *Engine) handleMessageCreate(connID string, raw json.RawMessage) {
	defer logger.DeferLogDuration("relay.handleMessageCreate", time.Now())()
	user, ok := e.identifiedUser(connID)
	if !ok {
		return
	}

	var p MessageCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		e.sendError(connID, ErrInvalidPayload)
		return
	}

	ch, err := e.channels.Get(user.ChannelID)
	if err != nil {
		e.sendError(connID, err)
		return
	}
	body := e.filter(p.Body, ch.FilterLevel)

	m, err := e.messages.Append(ch.ID, user.ID, user.DisplayName, user.Avatar, body)
	if err != nil {
		e.sendError(connID, err)
		return
	}
	e.presence.Touch(user.ID)
	e.clearTyping(user.ID)
	e.broadcast(ch.ID, dispatchFrame(EventMessageCreate, m), "")
}

func (e *Engine) handleChannelJoin(connID string, raw json.RawMessage) {
	defer logger.DeferLogDuration("relay.handleChannelJoin", time.Now())()
	user, ok := e.identifiedUser(connID)
	if !ok {
		return
	}

	var p ChannelJoinPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ChannelID == "" {
		e.sendError(connID, ErrInvalidPayload)
		return
	}
	if !e.channels.Has(p.ChannelID) {
		e.sendError(connID, ErrUnknownChannel)
		return
	}

	prev, err := e.presence.SetChannel(user.ID, p.ChannelID)
	if err != nil {
		e.sendError(connID, err)
		return
	}
	if err := e.conns.Rebind(connID, p.ChannelID); err != nil {
		logger.Errorf("relay rebind conn=%s: %v", connID, err)
		return
	}
	e.clearTyping(user.ID)

	history, err := e.messages.Recent(p.ChannelID, 0)
	if err == nil {
		if err := e.conns.Send(connID, dispatchFrame(EventMessageHistory, MessageHistoryPayload{
			ChannelID: p.ChannelID,
			Messages:  history,
		})); err != nil {
			logger.Errorf("relay send history conn=%s: %v", connID, err)
		}
	}

	if prev != "" && prev != p.ChannelID {
		e.broadcastPresence(prev, "")
	}
	e.broadcastPresence(p.ChannelID, "")
}

func (e *Engine) handleTypingStart(connID string) {
	user, ok := e.identifiedUser(connID)
	if !ok {
		return
	}

	e.typingMu.Lock()
	e.typing[user.ID] = model.TypingIndicator{
		UserID:    user.ID,
		ChannelID: user.ChannelID,
		StartedAt: e.now(),
	}
	e.typingMu.Unlock()

	e.broadcast(user.ChannelID, dispatchFrame(EventTypingStart, TypingPayload{
		ChannelID:   user.ChannelID,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	}), connID)
}

func (e *Engine) handlePresenceUpdate(connID string, raw json.RawMessage) {
	user, ok := e.identifiedUser(connID)
	if !ok {
		return
	}

	var p PresenceUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		e.sendError(connID, ErrInvalidPayload)
		return
	}
	if err := e.presence.SetStatus(user.ID, p.Status); err != nil {
		e.sendError(connID, err)
		return
	}
	e.broadcastPresence(user.ChannelID, "")
}

// HandleClose runs the close sequence for a connection: unregister, retire
// presence if this was the user's last connection, and broadcast the updated
// roster to the channel the user was in. Idempotent.
func (e *Engine) HandleClose(connID string) {
	userID, last := e.conns.Unregister(connID)
	if userID == "" || !last {
		return
	}
	e.retireUser(userID)
}

// retireUser removes the user's presence and announces the roster change.
// A user already expired by the sweep is a no-op.
func (e *Engine) retireUser(userID string) {
	user, err := e.presence.Get(userID)
	if err != nil {
		return
	}
	e.presence.Remove(userID)
	e.clearTyping(userID)
	e.broadcastPresence(user.ChannelID, "")
}

// SweepExpired is the liveness pass: connections without a recent heartbeat
// ack go through the normal close sequence, presence records beyond the
// window are retired with a roster broadcast, and stale typing indicators
// are purged. Ties against concurrent touches resolve toward the most
// recent timestamp because both paths compare against the same clock.
func (e *Engine) SweepExpired() {
	defer logger.DeferLogDuration("relay.SweepExpired", time.Now())()

	for _, connID := range e.conns.ExpireStale(e.opts.LivenessWindow) {
		logger.Infof("relay liveness timeout conn=%s", connID)
		e.HandleClose(connID)
	}

	for _, u := range e.presence.ExpireStale() {
		logger.Infof("relay presence expired user=%s", u.ID)
		e.clearTyping(u.ID)
		e.broadcastPresence(u.ChannelID, "")
	}

	cutoff := e.now().Add(-e.opts.TypingTTL)
	e.typingMu.Lock()
	for id, t := range e.typing {
		if t.StartedAt.Before(cutoff) {
			delete(e.typing, id)
		}
	}
	e.typingMu.Unlock()
}

// Shutdown disconnects every client. Used during graceful process stop,
// after the HTTP server has stopped accepting new connections.
func (e *Engine) Shutdown() {
	e.conns.Shutdown()
}

// TypingIn returns the users currently marked as typing in the channel.
func (e *Engine) TypingIn(channelID string) []model.TypingIndicator {
	cutoff := e.now().Add(-e.opts.TypingTTL)
	e.typingMu.Lock()
	defer e.typingMu.Unlock()
	var out []model.TypingIndicator
	for _, t := range e.typing {
		if t.ChannelID == channelID && !t.StartedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// identifiedUser resolves the connection to its presence record, answering
// NotIdentified when the connection never identified and when the presence
// entry has expired (the client is expected to re-identify).
func (e *Engine) identifiedUser(connID string) (model.User, bool) {
	userID, ok := e.conns.UserID(connID)
	if !ok {
		e.sendError(connID, ErrNotIdentified)
		return model.User{}, false
	}
	user, err := e.presence.Get(userID)
	if err != nil {
		logger.Errorf("relay presence missing for bound conn=%s user=%s", connID, userID)
		e.sendError(connID, ErrNotIdentified)
		return model.User{}, false
	}
	return user, true
}

// broadcast fans f out to the channel and runs the close sequence for every
// connection whose sink failed: a dead peer's presence must be retired and
// announced right away, not left to the liveness sweep. Each close removes
// its connection first, so the cascade terminates.
func (e *Engine) broadcast(channelID string, f Frame, excludeConnID string) {
	for _, connID := range e.conns.Broadcast(channelID, f, excludeConnID) {
		e.HandleClose(connID)
	}
}

func (e *Engine) broadcastPresence(channelID, excludeConnID string) {
	if channelID == "" {
		return
	}
	e.broadcast(channelID, dispatchFrame(EventPresenceUpdate, PresencePayload{
		ChannelID: channelID,
		Users:     e.presence.ListActive(channelID),
	}), excludeConnID)
}

func (e *Engine) clearTyping(userID string) {
	e.typingMu.Lock()
	delete(e.typing, userID)
	e.typingMu.Unlock()
}

func (e *Engine) sendError(connID string, err error) {
	if sendErr := e.conns.Send(connID, errorFrame(errorCode(err), err.Error())); sendErr != nil {
		logger.Errorf("relay send error conn=%s: %v", connID, sendErr)
	}
}
