package relay

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/chatrelay/internal/model"
)

const (
	minDisplayName = 3
	maxDisplayName = 20
)

// PresenceStore owns all live user records. Callers hold only user ids;
// entries are evicted lazily on read and by the periodic sweep, both using
// the same liveness window. Channel membership always references a
// configured channel; the store enforces that itself.
type PresenceStore struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	channels *ChannelRegistry
	window   time.Duration
	now      func() time.Time
}

func NewPresenceStore(channels *ChannelRegistry, window time.Duration) *PresenceStore {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &PresenceStore{
		users:    make(map[string]*model.User),
		channels: channels,
		window:   window,
		now:      time.Now,
	}
}

// ValidDisplayName reports whether name is 3-20 printable characters.
func ValidDisplayName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < minDisplayName || n > maxDisplayName {
		return false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// Upsert creates or refreshes a presence record: status becomes online and
// last activity is reset. Reconnecting with an existing user id updates the
// same record, so a user is never present twice.
func (s *PresenceStore) Upsert(userID, displayName, avatar, channelID string) (model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if !ValidDisplayName(displayName) {
		return model.User{}, ErrInvalidIdentity
	}
	if !s.channels.Has(channelID) {
		return model.User{}, ErrUnknownChannel
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = &model.User{ID: userID}
		s.users[userID] = u
	}
	u.DisplayName = displayName
	u.Avatar = avatar
	u.ChannelID = channelID
	u.Status = model.StatusOnline
	u.LastActiveAt = s.now()
	return *u, nil
}

// Touch refreshes last activity. Unknown users are a no-op: callers may race
// with expiry and that must not surface as an error.
func (s *PresenceStore) Touch(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.LastActiveAt = s.now()
	}
}

// SetChannel moves the user to channelID and returns the previous channel.
// The swap is atomic: a user is in at most one channel at any time, and only
// ever in a configured one.
func (s *PresenceStore) SetChannel(userID, channelID string) (string, error) {
	if !s.channels.Has(channelID) {
		return "", ErrUnknownChannel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	prev := u.ChannelID
	u.ChannelID = channelID
	u.LastActiveAt = s.now()
	return prev, nil
}

// SetStatus updates the user's presence status.
func (s *PresenceStore) SetStatus(userID string, status model.Status) error {
	if !model.ValidStatus(status) {
		return ErrInvalidPayload
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUnknownUser
	}
	u.Status = status
	u.LastActiveAt = s.now()
	return nil
}

// Get returns a copy of the user's record.
func (s *PresenceStore) Get(userID string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return model.User{}, ErrUnknownUser
	}
	return *u, nil
}

// Remove deletes the user's record. Idempotent: removing an absent user is a
// no-op.
func (s *PresenceStore) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

// ListActive returns users whose last activity is within the liveness
// window, optionally filtered by channel (empty channelID means all).
// Observable side effect: expired entries are removed during the read.
func (s *PresenceStore) ListActive(channelID string) []model.User {
	cutoff := s.now().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for id, u := range s.users {
		if u.LastActiveAt.Before(cutoff) {
			delete(s.users, id)
			continue
		}
		if channelID != "" && u.ChannelID != channelID {
			continue
		}
		out = append(out, *u)
	}
	return out
}

// ExpireStale removes users whose last activity predates the liveness window
// and returns them, so the caller can broadcast presence updates. Shares the
// window constant with ListActive so both paths agree.
func (s *PresenceStore) ExpireStale() []model.User {
	cutoff := s.now().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []model.User
	for id, u := range s.users {
		if u.LastActiveAt.Before(cutoff) {
			expired = append(expired, *u)
			delete(s.users, id)
		}
	}
	return expired
}

// Count returns the number of retained presence records, including any not
// yet lazily evicted.
func (s *PresenceStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
