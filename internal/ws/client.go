package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("ws: not connected")

const (
	pingInterval      = 30 * time.Second
	pingTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	baseReconnectWait = time.Second
	maxReconnectDelay = 10 * time.Second
	readLimit         = 512 * 1024
)

// Handler receives the raw data of one inbound event.
type Handler func(data json.RawMessage)

// Client is a long-lived WebSocket channel to the chat service. It redials
// with backoff until Disconnect is called; handlers run on the single read
// goroutine, in arrival order.
type Client struct {
	url      string
	dialOpts *websocket.DialOptions
	backoff  *Backoff
	logger   zerolog.Logger

	hmu            sync.RWMutex
	handlers       map[string]Handler
	onConnected    func()
	onDisconnected func(err error)

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

type Option func(*Client)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) { c.backoff = NewBackoff(base, max) }
}

// WithDialOptions passes options through to websocket.Dial.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Client) { c.dialOpts = opts }
}

// NewClient returns a client for the websocket URL u. Nothing is dialed until
// Connect.
func NewClient(u string, opts ...Option) *Client {
	c := &Client{
		url:      u,
		backoff:  NewBackoff(baseReconnectWait, maxReconnectDelay),
		handlers: make(map[string]Handler),
		logger:   log.With().Str("component", "ws").Str("url", u).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URLFromBase turns a service base URL (http or https) into the channel URL.
func URLFromBase(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in %s", u.Scheme, base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %s", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// OnConnected registers fn to run each time a connection comes up.
func (c *Client) OnConnected(fn func()) {
	c.hmu.Lock()
	c.onConnected = fn
	c.hmu.Unlock()
}

// OnDisconnected registers fn to run each time an established connection drops.
func (c *Client) OnDisconnected(fn func(err error)) {
	c.hmu.Lock()
	c.onDisconnected = fn
	c.hmu.Unlock()
}

// OnMessage registers h for inbound events named event, replacing any
// previous handler for that name.
func (c *Client) OnMessage(event string, h Handler) {
	c.hmu.Lock()
	c.handlers[event] = h
	c.hmu.Unlock()
}

// Connect starts the background dial/read loop. Calling it again while the
// loop is running does nothing.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go c.run(loopCtx, c.done)
}

// Disconnect stops the loop and closes the connection with a normal
// closure. It is safe to call before Connect and more than once. It must not
// be called from a handler.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.started = false
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	<-done
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one event. It does not wait for any reply.
func (c *Client) Send(event string, payload any) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return c.writeJSON(context.Background(), env)
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		connected, err := c.connectAndServe(ctx)
		if connected {
			// was connected, start the next retry from the base delay
			c.backoff.Reset()
			c.notifyDisconnected(err)
		}
		if ctx.Err() != nil {
			c.logger.Debug().Msg("channel loop stopped")
			return
		}
		delay := c.backoff.Next()
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("chat service unreachable")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	conn, _, dialErr := websocket.Dial(ctx, c.url, c.dialOpts)
	if dialErr != nil {
		return false, fmt.Errorf("dial: %w", dialErr)
	}
	conn.SetReadLimit(readLimit)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.CloseNow()
	}()
	connected = true
	c.logger.Info().Msg("connected")
	c.notifyConnected()

	// Reads outlive ctx so that a Disconnect can finish the closing
	// handshake with a normal closure instead of dropping the socket.
	readCtx, readCancel := context.WithCancel(context.WithoutCancel(ctx))
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		select {
		case <-ctx.Done():
			if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
				c.logger.Debug().Err(err).Msg("close handshake")
			}
		case <-readCtx.Done():
		}
	}()
	defer func() {
		readCancel()
		<-closed
	}()

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.Read(readCtx)
		if err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("bad frame")
			continue
		}

		c.hmu.RLock()
		h := c.handlers[env.Event]
		c.hmu.RUnlock()
		if h == nil {
			c.logger.Debug().Str("event", env.Event).Msg("no handler for event")
			continue
		}
		h(env.Data)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn().Err(err).Msg("ping failed, dropping connection")
					conn.CloseNow()
				}
				return
			}
		}
	}
}

func (c *Client) notifyConnected() {
	c.hmu.RLock()
	fn := c.onConnected
	c.hmu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) notifyDisconnected(err error) {
	c.logger.Info().Err(err).Msg("disconnected")
	c.hmu.RLock()
	fn := c.onDisconnected
	c.hmu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
