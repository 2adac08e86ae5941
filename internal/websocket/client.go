// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

var (
	errClientClosed   = errors.New("websocket client closed")
	errSendBufferFull = errors.New("websocket send buffer full")
)

// ClientConfig tunes per-connection behavior.
type ClientConfig struct {
	// AuthTimeout bounds the wait for the authenticate message.
	AuthTimeout time.Duration
	// PingInterval is how often the server pings; the read deadline is
	// extended by 10/9 of it on every pong.
	PingInterval time.Duration
	// SendBuffer is the per-connection outbound queue size.
	SendBuffer int
}

// DefaultClientConfig returns production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		AuthTimeout:  10 * time.Second,
		PingInterval: 54 * time.Second,
		SendBuffer:   256,
	}
}

func (c ClientConfig) pongWait() time.Duration {
	return c.PingInterval * 10 / 9
}

var clientIDCounter atomic.Uint64

// Client is a Handle backed by a gorilla websocket connection. One writer
// goroutine owns the socket, which keeps per-connection order.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	cfg  ClientConfig

	send      chan models.Message
	done      chan struct{}
	closeOnce sync.Once

	userID    string
	browserID string

	// logCtx carries log fields for this connection. It is never used for
	// cancellation.
	logCtx context.Context
}

// NewClient wraps conn. Call Run to authenticate and serve it.
func NewClient(hub *Hub, conn *websocket.Conn, cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		cfg:  cfg,
		send:   make(chan models.Message, cfg.SendBuffer),
		done:   make(chan struct{}),
		logCtx: connLogContext(context.Background()),
	}
}

// connLogContext tags ctx with a websocket component logger and, unless the
// request already has one, a correlation id for the connection.
func connLogContext(ctx context.Context) context.Context {
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	l := logging.LoggerFromContext(ctx).With().Str("component", "websocket").Logger()
	return logging.ContextWithLogger(ctx, l)
}

// ID returns the client's process-unique identifier.
func (c *Client) ID() uint64 { return c.id }

// Send implements Handle.
func (c *Client) Send(msg models.Message) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendBufferFull
	}
}

// Close implements Handle. Queued messages are flushed before the close frame.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run authenticates the connection and pumps messages until either side
// closes. It blocks; the HTTP handler goroutine is expected to call it.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if !c.authenticate() {
		return
	}

	pongWait := c.cfg.pongWait()
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msg, err := c.readMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Ctx(c.logCtx).Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		metrics.WSMessagesReceived.WithLabelValues(msg.Type).Inc()

		switch msg.Type {
		case models.MessagePing:
			_ = c.Send(models.Message{Type: models.MessagePong})
		case models.MessageAuthenticate:
			// Token refresh on a live connection.
			var p models.AuthenticatePayload
			if err := msg.Decode(&p); err != nil || p.BrowserInstanceID != c.browserID {
				c.fail("re-authentication must keep the same browser_instance_id")
				return
			}
			if _, err := c.hub.Register(c, p.Token, p.BrowserInstanceID); err != nil {
				return
			}
		default:
			logging.Ctx(c.logCtx).Debug().Str("type", msg.Type).Msg("ignoring client message")
		}
	}
}

// authenticate waits for the first message, which must be authenticate.
func (c *Client) authenticate() bool {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.AuthTimeout)); err != nil {
		return false
	}
	msg, err := c.readMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			metrics.WSAuthResults.WithLabelValues("timeout").Inc()
			c.fail("authentication timeout")
		}
		return false
	}
	if msg.Type != models.MessageAuthenticate {
		metrics.WSAuthResults.WithLabelValues("rejected").Inc()
		c.fail("first message must be authenticate")
		return false
	}

	var p models.AuthenticatePayload
	if err := msg.Decode(&p); err != nil {
		metrics.WSAuthResults.WithLabelValues("rejected").Inc()
		c.fail("malformed authenticate payload")
		return false
	}
	userID, err := c.hub.Register(c, p.Token, p.BrowserInstanceID)
	if err != nil {
		logging.Ctx(c.logCtx).Debug().Err(err).Uint64("client_id", c.id).Msg("websocket authentication failed")
		return false
	}
	c.userID = userID
	c.browserID = p.BrowserInstanceID
	c.logCtx = logging.ContextWithConnection(c.logCtx, userID, p.BrowserInstanceID)
	logging.Ctx(c.logCtx).Info().Uint64("client_id", c.id).Msg("websocket client authenticated")
	return true
}

func (c *Client) fail(reason string) {
	rejectHandle(c, reason)
}

func (c *Client) readMessage() (models.Message, error) {
	var msg models.Message
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, without blocking on new sends.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Ctx(c.logCtx).Error().Err(err).Str("type", msg.Type).Msg("failed to encode websocket message")
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Upgrader accepts cross-origin upgrades; authentication is in-band and CORS
// is enforced by the HTTP layer for the CRUD surface only.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and serves the connection until it closes.
func ServeWS(hub *Hub, cfg ClientConfig, w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := NewClient(hub, conn, cfg)
	c.logCtx = connLogContext(r.Context())
	c.Run()
}
