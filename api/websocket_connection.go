package api

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfitz/collabd/auth"
	"github.com/gorilla/websocket"
)

// Connection is one live WebSocket session. Room membership is tracked by
// the ConnectionRegistry, not here.
type Connection struct {
	ID          string
	Identity    auth.Identity
	ConnectedAt time.Time

	// nil for connections created without a transport (tests)
	conn *websocket.Conn

	// Buffered channel of outbound frames, drained by the write pump
	send chan []byte

	// closing guards send; enqueue holds the read lock so the channel is never
	// written after close
	mu        sync.RWMutex
	closing   bool
	closeCode int

	lastActivity atomic.Int64
	failed       atomic.Bool
	closeOnce    sync.Once
}

func newConnection(id string, identity auth.Identity, conn *websocket.Conn, bufferSize int, now time.Time) *Connection {
	c := &Connection{
		ID:          id,
		Identity:    identity,
		ConnectedAt: now,
		conn:        conn,
		send:        make(chan []byte, bufferSize),
		closeCode:   websocket.CloseNormalClosure,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// UserID returns the ID of the connected user
func (c *Connection) UserID() string {
	return c.Identity.ID
}

// Touch records inbound activity
func (c *Connection) Touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the time of the most recent inbound frame or pong
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Failed reports whether a send to this connection has failed
func (c *Connection) Failed() bool {
	return c.failed.Load()
}

// Closed reports whether the outbound queue has been closed
func (c *Connection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closing
}

// enqueue queues data without blocking. It returns false when the connection
// is closing or its queue is full.
func (c *Connection) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closing {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// markFailed flags the connection for eviction and closes the transport so
// the read pump unblocks and runs the disconnect path
func (c *Connection) markFailed() {
	if c.failed.CompareAndSwap(false, true) {
		c.closeTransport()
	}
}

// closeSend closes the outbound queue once. The write pump sends a close frame
// with code and exits when it sees the closed channel.
func (c *Connection) closeSend(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return
	}
	c.closing = true
	c.closeCode = code
	close(c.send)
}

func (c *Connection) getCloseCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeCode
}

func (c *Connection) closeTransport() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}
