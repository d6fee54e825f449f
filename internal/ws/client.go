// Package ws binds the relay engine to a gorilla/websocket transport. Each
// accepted connection gets a Client with a read pump (inbound frames into
// the engine) and a write pump (outbound frames from the engine's sink).
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/relay"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4096
	defaultSendBufSize    = 256
)

var errSlowClient = errors.New("send buffer full")

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Options override the transport tuning constants; zero values use defaults.
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBufSize    int
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBufSize <= 0 {
		o.SendBufSize = defaultSendBufSize
	}
	return o
}

// Client is a single WebSocket connection. It implements relay.Sink.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] ->
// Close -> Wait.
type Client struct {
	engine *relay.Engine
	conn   *websocket.Conn
	send   chan relay.Frame
	connID string
	opts   Options

	// done is the non-blocking guard in Push.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(engine *relay.Engine, conn *websocket.Conn, connID string, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		engine: engine,
		conn:   conn,
		send:   make(chan relay.Frame, opts.SendBufSize),
		connID: connID,
		opts:   opts,
		done:   make(chan struct{}),
	}
}

// ConnID returns the opaque connection id used in the registry.
func (c *Client) ConnID() string { return c.connID }

// Push enqueues a frame for delivery. Never blocks: a full buffer means the
// peer is too slow and the connection is closed so the registry can prune it.
func (c *Client) Push(f relay.Frame) error {
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	default:
		logger.Errorf("ws send buffer full, closing slow client conn=%s", c.connID)
		c.Close()
		return errSlowClient
	}
}

// Start launches the pump goroutines with controlled lifecycle.
// ctx controls pump lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any
// goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// readPump reads frames and hands them to the engine. On any exit path the
// engine runs the close sequence, retiring presence and broadcasting the
// roster change.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.engine.HandleClose(c.connID)
		c.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline conn=%s: %v", c.connID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error conn=%s: %v", c.connID, err)
			}
			return
		}

		c.engine.HandleFrame(c.connID, raw)
	}
}

// writePump drains the send channel onto the wire and keeps the transport
// alive with pings. Exits on ctx cancellation, write error, or close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	pingPeriod := (c.opts.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message conn=%s: %v", c.connID, err)
			}
			return
		case f := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline conn=%s: %v", c.connID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(f); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error conn=%s: %v", c.connID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline conn=%s: %v", c.connID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
