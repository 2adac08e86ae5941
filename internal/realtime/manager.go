// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

// Path is the gateway endpoint relative to the server URL.
const Path = "/api/v1/ws"

const (
	authTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// State of the channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("realtime: manager closed")

// Receiver consumes change events for one table. Receive is called from the
// manager's read goroutine, one event at a time, in arrival order.
type Receiver interface {
	Receive(evt models.ChangeEvent)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(evt models.ChangeEvent)

// Receive calls f(evt).
func (f ReceiverFunc) Receive(evt models.ChangeEvent) { f(evt) }

type registration struct {
	id       uint64
	receiver Receiver
}

// Manager owns the single realtime connection of one browser instance.
type Manager struct {
	url       string
	browserID string
	dialer    *websocket.Dialer
	limiter   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	token     string
	conn      *websocket.Conn
	authWait  chan models.AuthResultPayload
	receivers map[string][]registration
	nextID    uint64

	writeMu sync.Mutex
}

// New creates a manager for the gateway at cfg.ServerURL. It does not
// connect until Connect is called.
func New(cfg config.ClientConfig) (*Manager, error) {
	wsURL, err := gatewayURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	burst := cfg.ReconnectBurst
	if burst <= 0 {
		burst = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		url:       wsURL,
		browserID: uuid.NewString(),
		dialer:    &websocket.Dialer{HandshakeTimeout: authTimeout},
		limiter:   rate.NewLimiter(rate.Every(interval), burst),
		ctx:       ctx,
		cancel:    cancel,
		receivers: make(map[string][]registration),
	}, nil
}

// gatewayURL maps http(s)://host to ws(s)://host/api/v1/ws.
func gatewayURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("realtime: invalid server url %q", serverURL)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	u.Path += Path
	return u.String(), nil
}

// BrowserInstanceID is fixed for the lifetime of the manager.
func (m *Manager) BrowserInstanceID() string { return m.browserID }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Register routes change events for table to r. The returned function
// removes the registration.
func (m *Manager) Register(table string, r Receiver) (unregister func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.receivers[table] = append(m.receivers[table], registration{id: id, receiver: r})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		regs := m.receivers[table]
		for i, reg := range regs {
			if reg.id == id {
				m.receivers[table] = append(regs[:i:i], regs[i+1:]...)
				break
			}
		}
		if len(m.receivers[table]) == 0 {
			delete(m.receivers, table)
		}
	}
}

// Connect authenticates the channel with token. On a live connection the
// token is refreshed in place; otherwise a new connection is dialed. An
// authentication failure is returned as models.ErrAuthentication and stops
// automatic reconnects until the next Connect.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case StateConnected:
		m.token = token
		m.mu.Unlock()
		return m.reauthenticate(ctx, token)
	}
	m.token = token
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.dial(ctx, token)
	if err != nil {
		m.setStateUnlessClosed(StateDisconnected)
		return err
	}
	return m.install(conn)
}

// dial opens a connection and completes the authenticate handshake.
func (m *Manager) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %v", m.url, models.ErrTransport, err)
	}
	if err := m.write(conn, models.MessageAuthenticate, models.AuthenticatePayload{Token: token, BrowserInstanceID: m.browserID}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	deadline := time.Now().Add(authTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	msg, err := readMessage(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read auth_result: %w: %v", models.ErrTransport, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if err := authError(msg); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func authError(msg models.Message) error {
	if msg.Type != models.MessageAuthResult {
		return fmt.Errorf("expected auth_result, got %q: %w", msg.Type, models.ErrAuthentication)
	}
	var res models.AuthResultPayload
	if err := msg.Decode(&res); err != nil {
		return fmt.Errorf("%w: %v", models.ErrAuthentication, err)
	}
	return resultError(res)
}

func resultError(res models.AuthResultPayload) error {
	if res.Status == models.AuthStatusOK {
		return nil
	}
	if res.Message == "" {
		return models.ErrAuthentication
	}
	return fmt.Errorf("%w: %s", models.ErrAuthentication, res.Message)
}

// install makes conn the live connection and starts its reader. A connection
// dialed concurrently with one that is already live is discarded.
func (m *Manager) install(conn *websocket.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateClosed:
		_ = conn.Close()
		return ErrClosed
	case StateConnected, StateDisconnected:
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.state = StateConnected
	m.wg.Add(1)
	go m.readLoop(conn)
	logging.Debug().Str("browser_instance_id", m.browserID).Msg("realtime channel connected")
	return nil
}

func (m *Manager) reauthenticate(ctx context.Context, token string) error {
	m.mu.Lock()
	conn := m.conn
	wait := make(chan models.AuthResultPayload, 1)
	m.authWait = wait
	m.mu.Unlock()

	if err := m.write(conn, models.MessageAuthenticate, models.AuthenticatePayload{Token: token, BrowserInstanceID: m.browserID}); err != nil {
		return err
	}

	timer := time.NewTimer(authTimeout)
	defer timer.Stop()
	select {
	case res, ok := <-wait:
		if !ok {
			return fmt.Errorf("re-authenticate: %w: connection lost", models.ErrTransport)
		}
		if err := resultError(res); err != nil {
			// The gateway closes a connection that fails re-authentication;
			// detach it so that no reconnect is attempted with the bad token.
			m.mu.Lock()
			if m.conn == conn {
				m.conn = nil
				m.state = StateDisconnected
				m.token = ""
			}
			m.mu.Unlock()
			_ = conn.Close()
			return err
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("re-authenticate: %w: timed out waiting for auth_result", models.ErrTransport)
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	defer m.wg.Done()
	for {
		msg, err := readMessage(conn)
		if err != nil {
			m.connectionLost(conn, err)
			return
		}
		switch msg.Type {
		case models.MessageChange:
			var evt models.ChangeEvent
			if err := msg.Decode(&evt); err != nil {
				logging.Warn().Err(err).Msg("discarding malformed change event")
				continue
			}
			m.dispatch(evt)
		case models.MessageAuthResult:
			var res models.AuthResultPayload
			if err := msg.Decode(&res); err != nil {
				res = models.AuthResultPayload{Status: models.AuthStatusError, Message: err.Error()}
			}
			m.mu.Lock()
			wait := m.authWait
			m.authWait = nil
			m.mu.Unlock()
			if wait != nil {
				wait <- res
			}
		case models.MessagePong:
		default:
			logging.Debug().Str("type", msg.Type).Msg("ignoring realtime message")
		}
	}
}

func (m *Manager) dispatch(evt models.ChangeEvent) {
	m.mu.Lock()
	regs := append([]registration(nil), m.receivers[evt.Table]...)
	m.mu.Unlock()
	if len(regs) == 0 {
		logging.Debug().Str("table", evt.Table).Msg("no receiver for change event")
		return
	}
	for _, reg := range regs {
		reg.receiver.Receive(evt)
	}
}

// connectionLost runs on the reader goroutine when conn fails. Unless the
// manager was closed or the connection replaced, it reconnects.
func (m *Manager) connectionLost(conn *websocket.Conn, cause error) {
	_ = conn.Close()
	m.mu.Lock()
	if m.conn != conn || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateConnecting
	if m.authWait != nil {
		close(m.authWait)
		m.authWait = nil
	}
	m.mu.Unlock()

	logging.Warn().Err(cause).Str("browser_instance_id", m.browserID).Msg("realtime channel lost, reconnecting")
	m.reconnect()
}

func (m *Manager) reconnect() {
	for {
		if err := m.limiter.Wait(m.ctx); err != nil {
			return
		}
		m.mu.Lock()
		token, state := m.token, m.state
		m.mu.Unlock()
		if token == "" || state != StateConnecting {
			return
		}

		dialCtx, cancel := context.WithTimeout(m.ctx, authTimeout)
		conn, err := m.dial(dialCtx, token)
		cancel()
		switch {
		case err == nil:
			metrics.RealtimeReconnects.WithLabelValues("ok").Inc()
			_ = m.install(conn)
			return
		case errors.Is(err, models.ErrAuthentication):
			metrics.RealtimeReconnects.WithLabelValues("rejected").Inc()
			logging.Warn().Err(err).Msg("realtime reconnect rejected, waiting for a new session")
			m.setStateUnlessClosed(StateDisconnected)
			return
		case m.ctx.Err() != nil:
			return
		default:
			metrics.RealtimeReconnects.WithLabelValues("failed").Inc()
			logging.Debug().Err(err).Msg("realtime reconnect failed")
		}
	}
}

// Disconnect closes the connection without closing the manager. Automatic
// reconnects stop until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	if m.state != StateClosed {
		m.state = StateDisconnected
	}
	m.token = ""
	m.mu.Unlock()
	if conn != nil {
		m.closeConn(conn)
	}
}

// Close disconnects and releases the manager. It is safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		m.closeConn(conn)
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) closeConn(conn *websocket.Conn) {
	m.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	m.writeMu.Unlock()
	_ = conn.Close()
}

func (m *Manager) setStateUnlessClosed(s State) {
	m.mu.Lock()
	if m.state != StateClosed {
		m.state = s
	}
	m.mu.Unlock()
}

// Ping sends an application ping; the gateway answers with pong.
func (m *Manager) Ping() error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ping: %w: not connected", models.ErrTransport)
	}
	return m.write(conn, models.MessagePing, nil)
}

func (m *Manager) write(conn *websocket.Conn, msgType string, payload interface{}) error {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w: %v", msgType, models.ErrTransport, err)
	}
	return nil
}

func readMessage(conn *websocket.Conn) (models.Message, error) {
	var msg models.Message
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
