// Package feed owns the persistent streaming connections to the
// brokerage: dial, authentication handshake, heartbeat, and
// fixed-delay reconnect. It is protocol-agnostic above the auth frame;
// decoding inbound frames (including the auth acknowledgment) is the
// subscribing manager's job.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/event"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/metrics"
)

// ErrNotConnected is returned by Send while the connection is down.
var ErrNotConnected = errors.New("feed: not connected")

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	handshakeTimeout         = 10 * time.Second
	writeTimeout             = 5 * time.Second
)

// Credentials authenticate a feed connection.
type Credentials struct {
	KeyID     string
	SecretKey string
}

// Config describes one feed endpoint.
type Config struct {
	// Name tags log lines, metrics, and state changes ("market_data",
	// "trade_updates").
	Name string
	// URL and SandboxURL are the live and paper endpoints; Connect picks
	// one based on its sandbox flag.
	URL        string
	SandboxURL string
	// AuthFrame builds the credential frame sent immediately after the
	// transport connects. The ack format is the subscriber's concern.
	AuthFrame func(Credentials) ([]byte, error)
	// PingFrame, when set, is sent as an application-level keep-alive
	// every HeartbeatInterval. When nil a websocket control ping is sent
	// instead. Missed pongs are not detected; liveness is best effort and
	// a dead peer is only noticed on the next read or write error.
	PingFrame         []byte
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
}

// Conn maintains exactly one streaming connection, reconnecting with a
// fixed delay for as long as its context lives. Raw inbound frames and
// state changes are published on its topics.
type Conn struct {
	cfg Config

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	creds   Credentials
	sandbox bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	writeMu sync.Mutex

	frames     event.Topic[[]byte]
	states     event.Topic[StateChange]
	authErrors event.Topic[string]
}

// New builds a connection manager for one endpoint. Nothing dials until
// Connect is called.
func New(cfg Config) *Conn {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	return &Conn{cfg: cfg, state: StateDisconnected}
}

// Frames publishes every raw inbound frame.
func (c *Conn) Frames() *event.Topic[[]byte] { return &c.frames }

// States publishes every lifecycle transition.
func (c *Conn) States() *event.Topic[StateChange] { return &c.states }

// AuthErrors publishes authentication rejections. These are not retried;
// a new Connect with fresh credentials is required.
func (c *Conn) AuthErrors() *event.Topic[string] { return &c.authErrors }

// Connect starts (or restarts) the connection loop. Idempotent: an
// existing connection and its reconnect timer are torn down first rather
// than stacked.
func (c *Conn) Connect(ctx context.Context, creds Credentials, sandbox bool) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	prev := c.cancel
	c.creds = creds
	c.sandbox = sandbox
	c.mu.Unlock()

	if prev != nil {
		c.closeSocket()
		c.wg.Wait()
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(runCtx)
}

// Close stops the connection loop and closes the socket.
func (c *Conn) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.closeSocket()
	c.wg.Wait()
	c.setState(StateDisconnected, "closed")
}

// Send marshals payload and writes it to the wire. Fails with
// ErrNotConnected unless the connection is at least established.
func (c *Conn) Send(payload any) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil || state < StateConnected {
		return fmt.Errorf("%w (state=%s)", ErrNotConnected, state)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("feed: marshal outbound frame: %w", err)
	}
	return c.write(conn, websocket.TextMessage, data)
}

// Authenticated is called by the subscribing manager once it decodes the
// server's auth acknowledgment.
func (c *Conn) Authenticated() {
	c.setState(StateAuthenticated, "")
}

// AuthFailed is called by the subscribing manager on an auth rejection.
func (c *Conn) AuthFailed(reason string) {
	slog.Error("feed auth rejected", "feed", c.cfg.Name, "reason", reason)
	c.authErrors.Publish(reason)
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.dial(ctx); err != nil {
			slog.Warn("feed connect failed", "feed", c.cfg.Name, "err", err)
			c.setState(StateDisconnected, err.Error())
			if !c.waitReconnect(ctx) {
				return
			}
			continue
		}

		c.readLoop(ctx)
		c.closeSocket()
		c.setState(StateDisconnected, "read loop ended")
		if ctx.Err() != nil {
			return
		}
		metrics.FeedReconnects.WithLabelValues(c.cfg.Name).Inc()
		if !c.waitReconnect(ctx) {
			return
		}
	}
}

// waitReconnect sleeps the fixed reconnect delay. Cancelling the context
// cancels the pending attempt; there is never more than one timer.
func (c *Conn) waitReconnect(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.cfg.ReconnectDelay):
		return true
	}
}

func (c *Conn) dial(ctx context.Context) error {
	c.setState(StateConnecting, "")

	url := c.cfg.URL
	c.mu.Lock()
	if c.sandbox && c.cfg.SandboxURL != "" {
		url = c.cfg.SandboxURL
	}
	creds := c.creds
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected, "")

	if c.cfg.AuthFrame != nil {
		frame, err := c.cfg.AuthFrame(creds)
		if err != nil {
			c.closeSocket()
			return fmt.Errorf("build auth frame: %w", err)
		}
		if err := c.write(conn, websocket.TextMessage, frame); err != nil {
			c.closeSocket()
			return fmt.Errorf("send auth frame: %w", err)
		}
		c.setState(StateAuthenticating, "")
	}

	go c.heartbeat(ctx, conn)

	slog.Info("feed connected", "feed", c.cfg.Name, "url", url)
	return nil
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil || ctx.Err() != nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("feed read error", "feed", c.cfg.Name, "err", err)
			}
			return
		}
		c.frames.Publish(message)
	}
}

// heartbeat sends a keep-alive every interval while this particular
// socket is up. It exits on the first write failure; the read loop
// notices the dead peer and drives the reconnect.
func (c *Conn) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			if c.cfg.PingFrame != nil {
				err = c.write(conn, websocket.TextMessage, c.cfg.PingFrame)
			} else {
				err = c.write(conn, websocket.PingMessage, nil)
			}
			if err != nil {
				slog.Warn("feed heartbeat failed", "feed", c.cfg.Name, "err", err)
				return
			}
		}
	}
}

func (c *Conn) write(conn *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}

func (c *Conn) setState(to State, reason string) {
	c.mu.Lock()
	from := c.state
	if from == to || !canTransition(from, to) {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()

	c.states.Publish(StateChange{Feed: c.cfg.Name, From: from, To: to, Reason: reason})
}

func (c *Conn) closeSocket() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
