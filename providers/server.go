// Package providers wires the gateway components together and exposes them
// over HTTP transports.
package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/auth"
	"github.com/orchestra-mcp/realtime/src/bridge"
	"github.com/orchestra-mcp/realtime/src/gateway"
	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/identity"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 5 * time.Second

// ErrNotActive is returned when serving before Activate.
var ErrNotActive = errors.New("server not active")

// Server is the composition root of the gateway.
type Server struct {
	cfg      *config.Config
	resolver identity.Resolver
	logger   zerolog.Logger

	mu       sync.Mutex
	active   bool
	ctx      context.Context
	cancel   context.CancelFunc
	hub      *hub.Hub
	gateway  *gateway.Gateway
	notifier *service.Notifier
	bridge   bridge.Bridge
	app      *fiber.App
	origins  []string
}

// NewServer creates a server. Nothing runs until Activate.
func NewServer(cfg *config.Config, resolver identity.Resolver, logger zerolog.Logger) *Server {
	return &Server{cfg: cfg, resolver: resolver, logger: logger}
}

// Activate builds the hub, gateway and notifier, and connects the Redis
// bridge when enabled.
func (s *Server) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.hub = hub.New(s.logger)
	verifier := auth.NewVerifier([]byte(s.cfg.JWTSecret), auth.WithLeeway(s.cfg.JWTLeeway))
	s.gateway = gateway.New(verifier, s.resolver, s.hub, gatewayOptions(s.cfg), s.logger)
	s.notifier = service.New(s.hub, s.logger)
	s.origins = s.cfg.Origins()
	s.app = s.newApp()

	if s.cfg.RedisEnabled {
		s.initBridge()
	}

	s.active = true
	s.logger.Info().
		Str("transport", s.cfg.Transport).
		Strs("allowed_origins", s.origins).
		Msg("realtime gateway activated")
	return nil
}

func gatewayOptions(cfg *config.Config) gateway.Options {
	return gateway.Options{
		Client: hub.ClientOptions{
			SendBuffer:     cfg.SendBufferSize,
			WriteTimeout:   cfg.WriteTimeout,
			PingInterval:   cfg.PingInterval,
			ReadTimeout:    cfg.ReadTimeout,
			MaxMessageSize: cfg.MaxMessageSize,
		},
		RateLimit:      rate.Limit(cfg.RateLimit),
		RateLimitBurst: cfg.RateLimitBurst,
		MaxConnections: cfg.MaxConnections,
	}
}

// initBridge tries to start the Redis pub/sub bridge.
// If Redis is not reachable, the hub runs in standalone mode.
func (s *Server) initBridge() {
	cfg := bridge.RedisConfigFrom(s.cfg)
	rb := bridge.NewRedisBridge(cfg, s.hub, s.logger)

	if err := rb.Start(); err != nil {
		s.logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		_ = rb.Stop()
		return
	}

	s.bridge = rb
	s.hub.SetBridge(rb)
	s.logger.Info().Str("redis_addr", cfg.Addr).Msg("redis bridge connected")
}

// Deactivate closes every connection and stops the bridge.
func (s *Server) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}

	s.cancel()
	s.hub.CloseAll()
	if s.bridge != nil {
		s.hub.SetBridge(nil)
		if err := s.bridge.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("bridge stop error")
		}
		s.bridge = nil
	}
	s.active = false
	s.logger.Info().Msg("realtime gateway deactivated")
	return nil
}

// IsActive reports whether the server has been activated.
func (s *Server) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Server) bridgeAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge != nil && s.bridge.Available()
}

// Notifier returns the event bridge other backend code publishes through.
func (s *Server) Notifier() *service.Notifier { return s.notifier }

// Hub returns the group registry.
func (s *Server) Hub() *hub.Hub { return s.hub }

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln with the configured transport until ctx is
// done, then closes every connection and shuts the listener down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.IsActive() {
		return ErrNotActive
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Str("transport", s.cfg.Transport).Msg("listening")

	if s.cfg.Transport == config.TransportNetHTTP {
		return s.serveNetHTTP(ctx, ln)
	}
	return s.serveFastHTTP(ctx, ln)
}

func (s *Server) serveFastHTTP(ctx context.Context, ln net.Listener) error {
	srv := &fasthttp.Server{
		Handler:         s.Handler(),
		Name:            "realtime",
		ReadBufferSize:  4096,
		CloseOnShutdown: true,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := s.Deactivate(); err != nil {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.ShutdownWithContext(shutdownCtx)
}

func (s *Server) serveNetHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := s.Deactivate(); err != nil {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
