package memory

import (
	"context"
	"sync"
	"time"
)

const (
	requestLimitWindow = 60 * time.Second
	requestLimitMax    = 200
	connectLimitWindow = 60 * time.Second
	connectLimitMax    = 30
)

type Client struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	connects map[string][]time.Time
}

func New() *Client {
	return &Client{
		requests: make(map[string][]time.Time),
		connects: make(map[string][]time.Time),
	}
}

func (c *Client) Close() error { return nil }

func allow(m map[string][]time.Time, key string, window time.Duration, max int) bool {
	now := time.Now()
	cut := now.Add(-window)
	var kept []time.Time
	for _, t := range m[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= max {
		m[key] = kept
		return false
	}
	m[key] = append(kept, now)
	return true
}

func (c *Client) AllowRequest(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return allow(c.requests, key, requestLimitWindow, requestLimitMax), nil
}

func (c *Client) AllowConnect(ctx context.Context, ip string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return allow(c.connects, ip, connectLimitWindow, connectLimitMax), nil
}
