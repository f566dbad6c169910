// Package realtime manages the client's websocket channels: the global
// notification channel and the per-active-chat messaging channel.
//
// Each Channel is an explicit state object with a generation counter, so a
// callback from a superseded socket can tell it is stale with a single
// comparison instead of inspecting captured variables.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"campus/internal/metrics"
)

// DefaultReconnectDelay is the fixed delay before a single reconnect attempt
// after an abnormal closure. There is deliberately no backoff curve.
const DefaultReconnectDelay = 5 * time.Second

const (
	dialTimeout  = 10 * time.Second
	maxFrameSize = 1 << 20 // 1MiB
)

// CredentialSource supplies the query-token credential and the
// should-we-reconnect signal. Implemented by the session.
type CredentialSource interface {
	AccessToken() string
	Authenticated() bool
}

// Event is one inbound frame: a discriminant type plus an opaque payload.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler consumes the payload of one event type.
type Handler func(payload json.RawMessage)

// State is the channel connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "disconnected"
	}
}

// DialFunc opens a websocket connection; replaceable in tests.
type DialFunc func(ctx context.Context, target string) (*websocket.Conn, error)

// Factory builds channels that share the websocket base URL and credentials.
type Factory struct {
	Log     *slog.Logger
	BaseURL string
	Creds   CredentialSource
	Metrics *metrics.Metrics

	// ReconnectDelay overrides DefaultReconnectDelay when positive.
	ReconnectDelay time.Duration

	// Dial overrides the default dialer; used by tests.
	Dial DialFunc
}

// Channel constructs a channel for <base>/<path>?token=..., dispatching
// inbound events to handlers by their discriminant type.
func (f *Factory) Channel(name, path string, handlers map[string]Handler) *Channel {
	delay := f.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	dial := f.Dial
	if dial == nil {
		dial = func(ctx context.Context, target string) (*websocket.Conn, error) {
			conn, resp, err := websocket.Dial(ctx, target, nil)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			return conn, err
		}
	}
	return &Channel{
		log:      f.Log,
		name:     name,
		target:   strings.TrimRight(f.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		creds:    f.Creds,
		handlers: handlers,
		metrics:  f.Metrics,
		delay:    delay,
		dial:     dial,
	}
}

// Channel is one websocket connection lifecycle:
// Disconnected -> Connecting -> Open -> Disconnected, plus a single pending
// reconnect timer. At most one socket is open per channel at a time.
type Channel struct {
	log      *slog.Logger
	name     string
	target   string
	creds    CredentialSource
	handlers map[string]Handler
	metrics  *metrics.Metrics
	delay    time.Duration
	dial     DialFunc

	mu         sync.Mutex
	state      State
	gen        uint64
	conn       *websocket.Conn
	cancelRead context.CancelFunc
	reconnect  *time.Timer
	lastErr    string
}

// Open connects the channel. Opening while already open or connecting is a
// no-op. Without an access token the channel stays disconnected.
func (c *Channel) Open() {
	c.mu.Lock()
	if c.state == Connecting || c.state == Open {
		c.mu.Unlock()
		return
	}

	c.cancelReconnectLocked()

	token := c.creds.AccessToken()
	if token == "" {
		c.lastErr = "no access token"
		c.mu.Unlock()
		c.log.Warn("ws.open.no_token", "channel", c.name)
		return
	}

	c.gen++
	gen := c.gen
	c.state = Connecting
	c.mu.Unlock()

	go c.connect(gen, token)
}

// Close tears the channel down intentionally: normal-closure code, no
// reconnect. Bumping the generation makes every in-flight callback inert.
func (c *Channel) Close() {
	c.mu.Lock()
	c.gen++
	c.cancelReconnectLocked()
	conn := c.conn
	cancelRead := c.cancelRead
	c.conn = nil
	c.cancelRead = nil
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		c.log.Info("ws.close", "channel", c.name)
	}
	if cancelRead != nil {
		cancelRead()
	}
}

// State returns the connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent diagnostic message, or "".
func (c *Channel) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Channel) connect(gen uint64, token string) {
	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := c.dial(dialCtx, c.target+"?token="+url.QueryEscape(token))
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		c.state = Disconnected
		c.lastErr = err.Error()
		c.log.Warn("ws.dial.fail", "channel", c.name, "err", err)
		// A failed dial behaves like an abnormal close.
		if c.creds.Authenticated() {
			c.scheduleReconnectLocked(gen)
		}
		c.mu.Unlock()
		return
	}

	conn.SetReadLimit(maxFrameSize)
	readCtx, cancelRead := context.WithCancel(context.Background())
	c.conn = conn
	c.cancelRead = cancelRead
	c.state = Open
	c.lastErr = ""
	c.mu.Unlock()

	c.log.Info("ws.open", "channel", c.name)

	defer cancelRead()
	for {
		_, data, err := conn.Read(readCtx)
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.dispatch(gen, data)
	}
}

func (c *Channel) dispatch(gen uint64, data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
		c.log.Warn("ws.event.malformed", "channel", c.name, "err", err)
		c.countEvent("dropped")
		return
	}

	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		// A newer switch owns this channel; the frame belongs to nobody.
		return
	}

	handler, ok := c.handlers[ev.Type]
	if !ok {
		c.log.Warn("ws.event.unknown", "channel", c.name, "type", ev.Type)
		c.countEvent("dropped")
		return
	}

	c.countEvent("dispatched")
	handler(ev.Payload)
}

func (c *Channel) countEvent(result string) {
	if c.metrics != nil {
		c.metrics.EventsTotal.WithLabelValues(c.name, result).Inc()
	}
}

// handleClose runs when the read loop ends. Error is close's responsibility:
// every socket error is followed by a close, so reconnect policy lives here.
func (c *Channel) handleClose(gen uint64, err error) {
	status := websocket.CloseStatus(err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}

	c.conn = nil
	c.cancelRead = nil
	c.state = Disconnected

	if status == websocket.StatusNormalClosure {
		c.log.Info("ws.closed", "channel", c.name)
		return
	}

	c.lastErr = err.Error()
	c.log.Warn("ws.closed.abnormal", "channel", c.name, "status", int(status), "err", err)

	if !c.creds.Authenticated() {
		c.log.Info("ws.reconnect.skip", "channel", c.name, "reason", "logged out")
		return
	}
	c.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked arms the single reconnect timer. A new schedule
// cancels any previous one, so at most one timer is ever pending.
func (c *Channel) scheduleReconnectLocked(gen uint64) {
	c.cancelReconnectLocked()

	if c.metrics != nil {
		c.metrics.ReconnectTotal.WithLabelValues(c.name).Inc()
	}
	c.log.Info("ws.reconnect.schedule", "channel", c.name, "delay", c.delay)

	c.reconnect = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		if gen != c.gen || c.state != Disconnected {
			c.mu.Unlock()
			return
		}
		c.reconnect = nil
		c.mu.Unlock()
		c.Open()
	})
}

func (c *Channel) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}
