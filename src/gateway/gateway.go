// Package gateway runs the connection lifecycle: it authenticates a
// handshake, registers the resulting connection with the hub, relays its
// messages and cleans up after it.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/auth"
	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/identity"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrTooManyConnections is returned by Open when the connection limit is reached.
var ErrTooManyConnections = errors.New("too many connections")

// TokenVerifier maps a signed token to a subject identity.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Options tunes the gateway.
type Options struct {
	Client hub.ClientOptions
	// RateLimit is the sustained number of inbound frames per second allowed
	// per connection. Zero disables limiting.
	RateLimit      rate.Limit
	RateLimitBurst int
	// MaxConnections caps registered connections. Zero means unlimited.
	MaxConnections int
}

// Handshake is what the transport extracted from the upgrade request.
type Handshake struct {
	Token      string
	Room       string
	RemoteAddr string
}

// Gateway authenticates connections and drives their sessions.
type Gateway struct {
	verifier TokenVerifier
	resolver identity.Resolver
	hub      *hub.Hub
	opts     Options
	logger   zerolog.Logger
}

// New creates a gateway.
func New(verifier TokenVerifier, resolver identity.Resolver, h *hub.Hub, opts Options, logger zerolog.Logger) *Gateway {
	return &Gateway{
		verifier: verifier,
		resolver: resolver,
		hub:      h,
		opts:     opts,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// Hub returns the registry connections are joined to.
func (g *Gateway) Hub() *hub.Hub { return g.hub }

// Open authenticates a handshake and returns a session ready to Run once the
// transport has been upgraded. On error the transport must be refused
// without upgrading; the error carries no detail meant for the client.
func (g *Gateway) Open(ctx context.Context, hs Handshake, v Variant) (*Session, error) {
	s := newSession(uuid.NewString(), g, v, hs)
	logger := s.logger

	if g.opts.MaxConnections > 0 && g.hub.ClientCount() >= g.opts.MaxConnections {
		s.setState(StateClosed)
		logger.Warn().Int("max", g.opts.MaxConnections).Msg("connection refused: limit reached")
		return nil, ErrTooManyConnections
	}

	s.setState(StateAuthenticating)
	account, err := g.authenticate(ctx, hs.Token)
	if err != nil {
		s.setState(StateClosed)
		logger.Warn().Str("reason", auth.KindOf(err).String()).Err(err).Msg("connection refused: authentication failed")
		return nil, err
	}

	groups, err := v.Groups(account, hs.Room)
	if err != nil {
		s.setState(StateClosed)
		logger.Warn().Err(err).Str("account_id", account.ID).Msg("connection refused")
		return nil, err
	}

	s.account = account
	s.groups = groups
	s.logger = logger.With().Str("account_id", account.ID).Logger()
	return s, nil
}

// authenticate verifies the token then resolves its subject. Anything that
// goes wrong, including a panic in a collaborator, is an authentication
// failure.
func (g *Gateway) authenticate(ctx context.Context, token string) (account types.Account, err error) {
	defer func() {
		if r := recover(); r != nil {
			account = types.Account{}
			err = auth.NewError(auth.KindLookup, fmt.Errorf("panic during authentication: %v", r))
		}
	}()

	subject, err := g.verifier.Verify(token)
	if err != nil {
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			return types.Account{}, err
		}
		return types.Account{}, auth.NewError(auth.KindInvalid, err)
	}

	account, ok, err := g.resolver.Resolve(ctx, subject)
	if err != nil {
		return types.Account{}, auth.NewError(auth.KindLookup, err)
	}
	if !ok {
		return types.Account{}, auth.NewError(auth.KindNotFound, fmt.Errorf("account %s", subject))
	}
	if account.ID == "" {
		return types.Account{}, auth.NewError(auth.KindLookup, fmt.Errorf("account %s resolved without an id", subject))
	}
	return account, nil
}

func (g *Gateway) newLimiter() *rate.Limiter {
	if g.opts.RateLimit <= 0 {
		return nil
	}
	burst := g.opts.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(g.opts.RateLimit, burst)
}
