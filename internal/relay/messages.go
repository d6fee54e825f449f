package relay

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatrelay/internal/model"
)

// MessageStore keeps a bounded, append-only log per channel. Messages are
// immutable once appended; when a channel's log exceeds the retention cap the
// oldest entries are dropped. There is no delete or edit operation.
type MessageStore struct {
	mu       sync.RWMutex
	logs     map[string][]model.Message
	seq      map[string]uint64
	cap      int
	channels *ChannelRegistry
	now      func() time.Time
}

func NewMessageStore(channels *ChannelRegistry, retentionCap int) *MessageStore {
	if retentionCap <= 0 {
		retentionCap = 200
	}
	return &MessageStore{
		logs:     make(map[string][]model.Message),
		seq:      make(map[string]uint64),
		cap:      retentionCap,
		channels: channels,
		now:      time.Now,
	}
}

// Append validates, assigns id/seq/timestamp atomically and stores the
// message. Seq is strictly increasing per channel, so two messages can never
// share a (timestamp, seq) pair even within one clock tick.
func (s *MessageStore) Append(channelID, authorID, displayName, avatar, body string) (model.Message, error) {
	if !s.channels.Has(channelID) {
		return model.Message{}, ErrUnknownChannel
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Message{}, ErrEmptyBody
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[channelID]++
	seq := s.seq[channelID]
	now := s.now()
	m := model.Message{
		ID:         fmt.Sprintf("%s-%d-%d", channelID, now.UnixMilli(), seq),
		Seq:        seq,
		ChannelID:  channelID,
		AuthorID:   authorID,
		AuthorName: displayName,
		Avatar:     avatar,
		Body:       body,
		Timestamp:  now.UnixMilli(),
		CreatedAt:  now.UTC(),
	}

	log := append(s.logs[channelID], m)
	if len(log) > s.cap {
		// Oldest-first eviction; copy so the backing array does not pin
		// evicted messages.
		trimmed := make([]model.Message, s.cap)
		copy(trimmed, log[len(log)-s.cap:])
		log = trimmed
	}
	s.logs[channelID] = log
	return m, nil
}

// Recent returns up to limit retained messages for the channel, oldest
// first (display order). limit <= 0 means all retained.
func (s *MessageStore) Recent(channelID string, limit int) ([]model.Message, error) {
	if !s.channels.Has(channelID) {
		return nil, ErrUnknownChannel
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[channelID]
	if limit > 0 && limit < len(log) {
		log = log[len(log)-limit:]
	}
	out := make([]model.Message, len(log))
	copy(out, log)
	return out, nil
}

// Count returns the total number of retained messages across all channels.
func (s *MessageStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, log := range s.logs {
		n += len(log)
	}
	return n
}
