package ws

import (
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// client is one live handle (§4.5: "a mapping session_id -> set of live
// client handles, plus per-handle flags {alive, session_id}"). The
// send-channel + dedicated-writer-goroutine shape follows the
// teacher's internal/ws/broadcast.go client/writePump.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	alive     atomic.Bool
}

func newClient(conn *websocket.Conn, sessionID string) *client {
	c := &client{
		conn:      conn,
		send:      make(chan []byte, 64),
		sessionID: sessionID,
	}
	c.alive.Store(true)
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// enqueue is a best-effort, non-blocking write (§4.5: "never block the
// subscriber loop on slow clients"). It reports whether the frame was
// accepted; the caller evicts the client on false.
func (c *client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	close(c.send)
}
