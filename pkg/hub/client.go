package hub

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/jsbattig/share-things-sub004/internal/logger"
)

const (
	// writeWait is how long a single write may take before the
	// connection is considered dead.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds a single inbound frame. A chunk event is the
	// largest legal message: 64 KiB ciphertext serialized as JSON number
	// arrays inflates roughly 4x, plus envelope overhead.
	maxMessageSize = 512 * 1024

	// sendQueueSize is the per-client outbound buffer. A full queue drops
	// messages rather than blocking the broadcasting goroutine.
	sendQueueSize = 256
)

// Client is one websocket connection. A connection is unauthenticated until
// its first join or rejoin succeeds; after that it is bound to exactly one
// (sessionID, clientID) membership for its lifetime.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// done is closed by disconnect to stop the writePump. The send channel
	// is never closed, so concurrent broadcasters can always enqueue.
	done chan struct{}

	remoteAddr string

	// Set by the join handler; read only from the readPump goroutine,
	// which processes events strictly in order.
	sessionID  string
	clientID   string
	clientName string
	joined     bool
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		remoteAddr: conn.RemoteAddr().String(),
	}
}

// enqueue offers a message to the client without blocking. Returns false if
// the client's queue is full and the message was dropped.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// reply sends an enveloped event back to this client only.
func (c *Client) reply(event string, data any) {
	if msg := marshalEnvelope(event, data); msg != nil {
		c.enqueue(msg)
	}
}

// replyError sends an error reply for a rejected event.
func (c *Client) replyError(event, code, message string) {
	c.reply(EventError, ErrorReply{Event: event, Code: code, Message: message})
}

// readPump reads frames off the connection and dispatches them one at a
// time, which gives every connection in-order event processing.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Websocket read error", "remote_addr", c.remoteAddr, "error", err)
			}
			return
		}
		c.hub.dispatch(c, raw)
	}
}

// writePump drains the send queue onto the connection and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
