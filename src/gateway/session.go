package gateway

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// State is a step of the connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoined
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one authenticated connection between Open and teardown.
type Session struct {
	id        string
	gw        *Gateway
	variant   Variant
	handshake Handshake
	account   types.Account
	groups    []string
	limiter   *rate.Limiter
	logger    zerolog.Logger

	state     atomic.Int32
	mu        sync.Mutex
	client    *hub.Client
	closeOnce sync.Once
}

func newSession(id string, g *Gateway, v Variant, hs Handshake) *Session {
	s := &Session{
		id:        id,
		gw:        g,
		variant:   v,
		handshake: hs,
		limiter:   g.newLimiter(),
		logger: g.logger.With().
			Str("session_id", id).
			Str("variant", v.Name).
			Str("remote_addr", hs.RemoteAddr).
			Logger(),
	}
	s.setState(StateConnecting)
	return s
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Account returns the authenticated account.
func (s *Session) Account() types.Account { return s.account }

// Groups returns the groups the connection joins.
func (s *Session) Groups() []string { return append([]string(nil), s.groups...) }

// Client returns the connection handle, or nil before Run.
func (s *Session) Client() *hub.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Abort ends a session whose transport could not be upgraded.
func (s *Session) Abort() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.logger.Debug().Msg("session aborted before join")
	})
}

// Run joins the connection to its groups and processes inbound frames until
// the transport closes. Teardown always removes the connection from every
// group before Run returns.
func (s *Session) Run(conn types.Conn) {
	client := hub.NewClient(s.id, conn, s.account, s.variant.Render, s.gw.opts.Client, s.logger)
	client.RemoteAddr = s.handshake.RemoteAddr
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	if !s.join(client) {
		done := make(chan struct{})
		close(done)
		s.teardown(conn, client, done)
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.WritePump()
		// A failed write leaves the reader blocked; closing unblocks it.
		_ = conn.Close()
	}()

	err := client.ReadPump(s.receive)
	s.logger.Debug().Err(err).Msg("read loop ended")
	s.teardown(conn, client, writerDone)
}

// join registers client and adds it to every group of the session. It
// reports false when the client was closed underneath it, as happens when
// the gateway shuts down mid-handshake; the session is then never Joined.
func (s *Session) join(client *hub.Client) bool {
	h := s.gw.hub
	h.Register(client)
	for _, name := range s.groups {
		if !h.Join(name, client) && client.Closed() {
			s.logger.Warn().Str("group", name).Msg("join refused, client already closed")
			return false
		}
	}
	s.setState(StateJoined)
	s.logger.Info().Strs("groups", s.groups).Msg("connection joined")
	return true
}

func (s *Session) teardown(conn types.Conn, client *hub.Client, writerDone <-chan struct{}) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.gw.hub.Unregister(client)
		client.Close()
		<-writerDone
		_ = conn.Close()
		s.setState(StateClosed)
		s.logger.Info().Msg("connection closed")
	})
}

// receive handles one client frame. Errors are scoped to the frame.
func (s *Session) receive(data []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn().Msg("rate limit exceeded, dropping message")
		return
	}

	ev, relay, err := s.variant.Receive(s.account, data)
	if errors.Is(err, ErrMalformedMessage) {
		s.logger.Debug().Err(err).Msg("dropping malformed message")
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping message")
		return
	}
	if !relay {
		return
	}
	for _, name := range s.groups {
		s.gw.hub.Broadcast(name, ev)
	}
}
