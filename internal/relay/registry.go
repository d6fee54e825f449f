package relay

import (
	"sync"
	"time"

	"github.com/chatrelay/internal/logger"
)

// Sink is a way to push one frame to a connected client, independent of the
// wire transport. Push must not block indefinitely; returning an error marks
// the connection dead. Close tears the transport down and must be safe to
// call more than once.
type Sink interface {
	Push(f Frame) error
	Close()
}

type conn struct {
	id        string
	sink      Sink
	userID    string
	channelID string
	lastAck   time.Time
}

// ConnRegistry maps opaque connection ids to live sinks. It is independent
// of user identity: a user may reconnect with a fresh connection id without
// orphaning presence state. The registry never owns user records, only a
// back-reference (connection id -> user id).
type ConnRegistry struct {
	mu       sync.RWMutex
	conns    map[string]*conn
	byUser   map[string]int
	maxConns int
	now      func() time.Time
}

func NewConnRegistry(maxConns int) *ConnRegistry {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &ConnRegistry{
		conns:    make(map[string]*conn),
		byUser:   make(map[string]int),
		maxConns: maxConns,
		now:      time.Now,
	}
}

// Register stores the sink under connID. Fails with ErrDuplicateConnection
// if the id is already registered.
func (r *ConnRegistry) Register(connID string, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; ok {
		return ErrDuplicateConnection
	}
	if len(r.conns) >= r.maxConns {
		return ErrConnectionLimit
	}
	r.conns[connID] = &conn{id: connID, sink: sink, lastAck: r.now()}
	return nil
}

// Bind associates a connection with a user and channel after a successful
// identify. A connection may re-identify as a different user; the displaced
// user id is returned along with whether this was its last connection, so
// the caller can retire that presence.
func (r *ConnRegistry) Bind(connID, userID, channelID string) (prevUserID string, last bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return "", false, ErrUnknownConnection
	}
	if c.userID != "" && c.userID != userID {
		prevUserID = c.userID
		r.byUser[prevUserID]--
		if r.byUser[prevUserID] <= 0 {
			delete(r.byUser, prevUserID)
			last = true
		}
	}
	if c.userID != userID {
		r.byUser[userID]++
	}
	c.userID = userID
	c.channelID = channelID
	return prevUserID, last, nil
}

// Rebind updates the channel association on a channel switch.
func (r *ConnRegistry) Rebind(connID, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	c.channelID = channelID
	return nil
}

// TouchAck records a heartbeat for the connection's liveness tracking.
func (r *ConnRegistry) TouchAck(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.lastAck = r.now()
	}
}

// Unregister removes the connection. Idempotent. Returns the bound user id
// and whether this was the user's last connection; if it was, the caller is
// responsible for retiring presence.
func (r *ConnRegistry) Unregister(connID string) (userID string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	delete(r.conns, connID)
	if c.userID == "" {
		return "", false
	}
	r.byUser[c.userID]--
	if r.byUser[c.userID] <= 0 {
		delete(r.byUser, c.userID)
		return c.userID, true
	}
	return c.userID, false
}

// UserID returns the user bound to the connection, if any.
func (r *ConnRegistry) UserID(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok || c.userID == "" {
		return "", false
	}
	return c.userID, true
}

// Broadcast delivers f to every connection bound to channelID, skipping
// excludeConnID if non-empty. A dead peer must never abort delivery to the
// healthy ones: push errors are collected and the failed connection ids
// returned, so the caller can run the full close sequence for each (the
// registry alone cannot retire presence).
func (r *ConnRegistry) Broadcast(channelID string, f Frame, excludeConnID string) []string {
	r.mu.RLock()
	targets := make([]*conn, 0, 8)
	for _, c := range r.conns {
		if c.channelID != channelID || c.id == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	var failed []string
	for _, c := range targets {
		if err := c.sink.Push(f); err != nil {
			logger.Errorf("broadcast push conn=%s channel=%s: %v", c.id, channelID, err)
			failed = append(failed, c.id)
		}
	}
	return failed
}

// Send delivers f to a single connection.
func (r *ConnRegistry) Send(connID string, f Frame) error {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return c.sink.Push(f)
}

// ExpireStale returns connections whose last heartbeat ack predates the
// given window. The caller runs the normal close sequence for each.
func (r *ConnRegistry) ExpireStale(window time.Duration) []string {
	cutoff := r.now().Add(-window)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []string
	for id, c := range r.conns {
		if c.lastAck.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Count returns the number of registered connections.
func (r *ConnRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown unregisters every connection and closes its sink. Sinks are
// collected under the lock but closed outside it: Close does network I/O.
func (r *ConnRegistry) Shutdown() {
	r.mu.Lock()
	sinks := make([]Sink, 0, len(r.conns))
	for _, c := range r.conns {
		sinks = append(sinks, c.sink)
	}
	r.conns = make(map[string]*conn)
	r.byUser = make(map[string]int)
	r.mu.Unlock()

	for _, s := range sinks {
		s.Close()
	}
}
