package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	// ErrClosed is returned by Send once the client has been closed.
	ErrClosed = errors.New("client closed")
	// ErrSendBufferFull is returned by Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrUnhandledEvent is returned by a Renderer for event types the
	// connection does not deliver.
	ErrUnhandledEvent = errors.New("unhandled event type")
)

// Renderer turns a group event into the frame written to one connection.
type Renderer func(ev types.Event) ([]byte, error)

// RawRenderer writes the event payload as is.
func RawRenderer(ev types.Event) ([]byte, error) { return ev.Data, nil }

// ClientOptions tunes the per-connection pumps.
type ClientOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// DefaultClientOptions returns the pump settings used when none are configured.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		SendBuffer:     256,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 64 << 10,
	}
}

// Client wraps a WebSocket connection and manages message flow. It is the
// only writer on its connection.
type Client struct {
	ID          string
	RemoteAddr  string
	account     types.Account
	conn        types.Conn
	render      Renderer
	opts        ClientOptions
	logger      zerolog.Logger
	send        chan types.Event
	connectedAt time.Time
	groups      map[string]bool
	mu          sync.RWMutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a new WebSocket client wrapper.
func NewClient(id string, conn types.Conn, account types.Account, render Renderer, opts ClientOptions, logger zerolog.Logger) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultClientOptions().SendBuffer
	}
	if render == nil {
		render = RawRenderer
	}
	return &Client{
		ID:          id,
		account:     account,
		conn:        conn,
		render:      render,
		opts:        opts,
		logger:      logger.With().Str("client_id", id).Str("account_id", account.ID).Logger(),
		send:        make(chan types.Event, opts.SendBuffer),
		connectedAt: time.Now(),
		groups:      make(map[string]bool),
		done:        make(chan struct{}),
	}
}

// Account returns the snapshot of the authenticated account.
func (c *Client) Account() types.Account { return c.account }

// Groups returns the names of the groups the client is a member of.
func (c *Client) Groups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.Keys(c.groups)
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	return types.ClientInfo{
		ID:          c.ID,
		AccountID:   c.account.ID,
		ConnectedAt: c.connectedAt,
		Groups:      c.Groups(),
		RemoteAddr:  c.RemoteAddr,
	}
}

func (c *Client) addGroup(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[group] = true
}

func (c *Client) removeGroup(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, group)
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Send queues ev for the write pump without blocking.
func (c *Client) Send(ev types.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close signals the client to stop its write pump. It does not block.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// ReadPump reads frames from the WebSocket and hands them to handle in
// arrival order. It returns when the connection fails or is closed.
func (c *Client) ReadPump(handle func(data []byte)) error {
	if c.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		handle(data)
	}
}

func (c *Client) extendReadDeadline() {
	if c.opts.ReadTimeout <= 0 {
		return
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		c.logger.Debug().Err(err).Msg("set read deadline failed")
	}
}

// WritePump writes queued events to the WebSocket until the client is
// closed or a write fails.
func (c *Client) WritePump() {
	var tick <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case ev := <-c.send:
			if !c.write(ev) {
				c.Close()
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), c.deadline())
			return
		}
	}
}

// write renders and writes one event. It returns false if the connection
// should be abandoned.
func (c *Client) write(ev types.Event) bool {
	frame, err := c.render(ev)
	if errors.Is(err, ErrUnhandledEvent) {
		c.logger.Debug().Str("type", ev.Type).Str("group", ev.Group).Msg("event not delivered to this connection")
		return true
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("type", ev.Type).Msg("render failed, dropping event")
		return true
	}

	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		c.logger.Debug().Err(err).Msg("set write deadline failed")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Debug().Err(err).Msg("write failed")
		return false
	}
	return true
}

func (c *Client) deadline() time.Time {
	if c.opts.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.opts.WriteTimeout)
}
