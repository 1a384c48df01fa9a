package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps a gorilla WebSocket connection with a single-writer
// goroutine so concurrent broadcast deliveries never interleave frames.
// Mutable per-connection state (role, language, settings) lives in the
// Registry, not here; the wrapper only owns identity and the write path.
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	writeWait time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection creates a connection wrapper and starts its writer
// goroutine. sendBuffer bounds the number of pending outbound frames.
func NewConnection(conn *websocket.Conn, sendBuffer int, writeWait time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:        uuid.NewString(),
		conn:      conn,
		writeCh:   make(chan []byte, sendBuffer),
		writeWait: writeWait,
		ctx:       ctx,
		cancel:    cancel,
	}

	go c.writeLoop()

	return c
}

// ID returns the connection's stable identity.
func (c *Connection) ID() string { return c.id }

// Done exposes the connection's lifetime for goroutines tied to it.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) writeLoop() {
	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it on the write channel. It fails fast on
// a closed connection and times out rather than blocking a broadcast behind
// a slow client.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeWait):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts the connection down exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// CloseAfter closes the connection once the grace delay elapses, giving a
// final payload time to flush first.
func (c *Connection) CloseAfter(grace time.Duration) {
	time.AfterFunc(grace, func() { _ = c.Close() })
}
