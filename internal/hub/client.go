// internal/hub/client.go
package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pointaged/internal/protocol"
)

type clientKind int

const (
	kindAgent clientKind = iota
	kindDashboard
)

type connState int

const (
	stateConnected connState = iota
	stateRegistered
	stateClosed
)

// client is one WebSocket connection, agent or dashboard. All writes
// to the socket go through the send channel and writePump; safeSend is
// the only producer other handlers may use.
type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	connID     string
	kind       clientKind
	remoteAddr string

	// state and identity belong to the hub's handlers; they are only
	// touched from the client's readPump goroutine.
	state    connState
	identity string

	closeOnce sync.Once
	closed    atomic.Bool
}

func encodeMessage(msg *protocol.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// safeSend queues data for the writer without ever blocking or
// panicking on a closed channel. It reports whether the message was
// queued.
func (c *client) safeSend(data []byte) (ok bool) {
	if c.closed.Load() {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendMessage marshals a typed payload into an envelope and queues it.
func (c *client) sendMessage(msgType string, payload any) bool {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Failed to marshal message")
		return false
	}
	data, err := encodeMessage(msg)
	if err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Failed to encode message")
		return false
	}
	return c.safeSend(data)
}

// sendError reports a rejected message back to the sender.
func (c *client) sendError(code, message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
}

// close tears the connection down exactly once. Safe to call from any
// goroutine.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump consumes inbound messages until the socket errors, then
// runs the disconnect sequence. One goroutine per connection.
func (c *client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).WithField("conn", c.connID).Debug("WebSocket read error")
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(protocol.CodeValidation, "malformed message envelope")
			continue
		}
		c.hub.handleMessage(c, &msg)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings. One goroutine per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		if c.conn != nil {
			c.conn.Close()
		}
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
