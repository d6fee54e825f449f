package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Request limit: 200/minute per key. Connect limit: 30/minute per IP (a
// reconnecting client with exponential backoff stays well under this).
const (
	requestLimitWindow = 60
	requestLimitMax    = 200
	connectLimitWindow = 60
	connectLimitMax    = 30
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) allow(ctx context.Context, key string, window, max int64) (bool, error) {
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, time.Duration(window)*time.Second)
	}
	return n <= max, nil
}

// AllowRequest counts API requests under req_limit:{key}, window reset by TTL.
func (c *Client) AllowRequest(ctx context.Context, key string) (bool, error) {
	return c.allow(ctx, "req_limit:"+key, requestLimitWindow, requestLimitMax)
}

// AllowConnect counts WebSocket connects under conn_limit:{ip}.
func (c *Client) AllowConnect(ctx context.Context, ip string) (bool, error) {
	return c.allow(ctx, "conn_limit:"+ip, connectLimitWindow, connectLimitMax)
}
