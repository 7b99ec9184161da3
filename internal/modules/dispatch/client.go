// README: Per-connection session with buffered write pump; a slow client
// drops messages instead of stalling the room.
package dispatch

import (
	"time"

	"github.com/gorilla/websocket"

	"reparto/internal/types"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
	maxMessageLen = 16 << 10
)

// Identity is the verified principal bound at upgrade time, when a token
// verifier is configured.
type Identity struct {
	UID  string
	Role Role
}

// Client is one connected session. Role, entityID, and room membership are
// owned by the Hub and only mutated under its lock; the pumps own the
// websocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	identity *Identity

	role     Role
	entityID types.ID
	rooms    map[string]struct{}
}

// readPump feeds inbound frames to the hub until the connection dies, then
// signals writePump via done (never closes send).
func (c *Client) readPump() {
	defer close(c.done)

	c.conn.SetReadLimit(maxMessageLen)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.HandleMessage(c, msg)
	}
}

// writePump drains send and keeps the connection alive with pings. It owns
// teardown: on exit the client leaves every room and the connection closes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a frame to the client's write pump without blocking; full
// buffer means the client is too slow and the frame is dropped.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// evict closes the underlying connection so the pumps tear the session down.
func (c *Client) evict() {
	if c.conn != nil {
		c.conn.Close()
	}
}
