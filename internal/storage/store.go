package storage

import "context"

// LimitStore tracks request and connect rates for the HTTP/WS surface.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type LimitStore interface {
	// AllowRequest reports whether another API request is allowed for key
	// (IP or user id) within the rolling window.
	AllowRequest(ctx context.Context, key string) (bool, error)
	// AllowConnect reports whether another WebSocket connect is allowed for
	// the IP within the rolling window.
	AllowConnect(ctx context.Context, ip string) (bool, error)
	Close() error
}
