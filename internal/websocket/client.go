package websocket

import (
	"context"
	"sync"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// closeNotice is delivered to the write pump when the server revokes a
// listener.
type closeNotice struct {
	code   ws.StatusCode
	reason string
}

// Client represents a single WebSocket connection listening on one path.
type Client struct {
	hub   *Hub
	conn  *ws.Conn
	topic string
	send  chan []byte

	closeOnce sync.Once
	closing   chan closeNotice
}

func NewClient(hub *Hub, conn *ws.Conn, topic string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		topic:   topic,
		send:    make(chan []byte, sendBufferSize),
		closing: make(chan closeNotice, 1),
	}
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		c.writePump(ctx)
		cancel()
	}()
	c.readPump(ctx)
}

func (c *Client) fail(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closing <- closeNotice{code: ws.StatusCode(code), reason: reason}
	})
}

// readPump discards incoming messages and returns when the connection
// closes.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

// writePump drains the send channel and pings periodically to detect stale
// connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case n := <-c.closing:
			c.conn.Close(n.code, n.reason)
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
