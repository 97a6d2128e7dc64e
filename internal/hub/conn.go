package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single websocket write so a wedged peer fails the send
// instead of blocking broadcasts to other subscribers.
const writeWait = 10 * time.Second

// WSConn adapts a gorilla websocket connection to the Conn interface.
// gorilla permits only one concurrent writer, so writes serialize on a
// mutex.
type WSConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWSConn wraps an upgraded websocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// IsOpen reports whether the connection has not been closed or failed.
func (c *WSConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send writes one text message, bounded by writeWait. A failed or timed-out
// write marks the connection closed; the hub removes it on the next
// broadcast or sweep.
func (c *WSConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// Close closes the underlying connection. Idempotent.
func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// MarkClosed flags the connection without writing to it. Called from the
// read loop when the peer goes away.
func (c *WSConn) MarkClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
