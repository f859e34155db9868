// internal/agent/client.go
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pointaged/internal/protocol"
)

// ErrNotConnected is returned by SendMessage while the connection is
// down; callers fall back to HTTP or retry after reconnect.
var ErrNotConnected = errors.New("not connected to server")

// ConnectionHandler is called on connection events.
type ConnectionHandler interface {
	OnConnected()
	OnDisconnected()
}

// Connection parameters
const (
	pingInterval     = 30 * time.Second
	pongWait         = 45 * time.Second
	writeWait        = 10 * time.Second
	maxBackoff       = 60 * time.Second
	initialBackoff   = 1 * time.Second
	closeGracePeriod = 5 * time.Second
)

// WSClient maintains the WebSocket connection to the server,
// reconnecting with exponential backoff.
type WSClient struct {
	url     string
	handler ConnectionHandler

	conn     *websocket.Conn
	mu       sync.Mutex
	messages chan *protocol.Message

	connected bool
	backoff   time.Duration
}

func NewWSClient(url string, handler ConnectionHandler) *WSClient {
	return &WSClient{
		url:      url,
		handler:  handler,
		messages: make(chan *protocol.Message, 100),
		backoff:  initialBackoff,
	}
}

// Run connects to the server and maintains the connection. It blocks
// until the context is cancelled.
func (c *WSClient) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			logrus.WithError(err).WithField("backoff", c.backoff).Warn("Connection failed, retrying")
			c.waitBackoff(ctx)
			continue
		}

		c.backoff = initialBackoff

		c.readLoop(ctx)

		c.waitBackoff(ctx)
	}
}

func (c *WSClient) connect(ctx context.Context) error {
	logrus.WithField("url", c.url).Debug("Connecting to server")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.pingLoop(ctx)

	c.handler.OnConnected()

	return nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
		c.handler.OnDisconnected()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Warn("WebSocket read error")
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithError(err).Warn("Failed to parse message")
			continue
		}

		select {
		case c.messages <- &msg:
		default:
			logrus.Warn("Message queue full, dropping message")
		}
	}
}

func (c *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			connected := c.connected
			c.mu.Unlock()

			if !connected || conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logrus.WithError(err).Debug("Ping failed")
				return
			}
		}
	}
}

func (c *WSClient) waitBackoff(ctx context.Context) {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	c.backoff *= 2
	if c.backoff > maxBackoff {
		c.backoff = maxBackoff
	}
}

// SendMessage sends a message to the server.
func (c *WSClient) SendMessage(msgType string, payload any) error {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the channel for incoming messages.
func (c *WSClient) Messages() <-chan *protocol.Message {
	return c.messages
}

// Close closes the connection gracefully.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	deadline := time.Now().Add(closeGracePeriod)
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		deadline,
	)
	if err != nil {
		c.conn.Close()
		return err
	}

	time.Sleep(100 * time.Millisecond)
	return c.conn.Close()
}

// IsConnected returns whether the client is connected.
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
