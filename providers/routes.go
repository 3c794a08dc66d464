package providers

import (
	"errors"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/realtime/src/gateway"
	"github.com/samber/lo"
	"github.com/valyala/fasthttp"
)

const (
	chatPathPrefix = "/ws/chat/"
	realtimePath   = "/ws/realtime"
)

const upgradeRequiredBody = `{"error":"upgrade_required","message":"WebSocket upgrade required"}`

// route maps a request path to the variant serving it and the room it names.
func route(path string) (gateway.Variant, string, bool) {
	switch {
	case path == realtimePath || path == realtimePath+"/":
		return gateway.Personal, "", true
	case strings.HasPrefix(path, chatPathPrefix):
		room := strings.TrimSuffix(strings.TrimPrefix(path, chatPathPrefix), "/")
		return gateway.Room, room, true
	}
	return gateway.Variant{}, "", false
}

// refusalStatus is the HTTP status for a handshake the gateway refused. The
// response carries no body so a client cannot tell why it was refused.
func refusalStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrTooManyConnections):
		return fasthttp.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrInvalidRoom):
		return fasthttp.StatusNotFound
	default:
		return fasthttp.StatusForbidden
	}
}

// originAllowed reports whether a browser origin may connect. Requests
// without an Origin header come from non-browser clients and are allowed.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	origin = strings.ToLower(strings.TrimRight(origin, "/"))
	return lo.Contains(allowed, "*") || lo.Contains(allowed, origin)
}

// Handler returns the fasthttp handler serving WebSocket upgrades on the
// chat and realtime paths. Every other request goes to the fiber app.
func (s *Server) Handler() fasthttp.RequestHandler {
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
		CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
			return originAllowed(s.origins, string(ctx.Request.Header.Peek("Origin")))
		},
	}
	app := s.app.Handler()

	return func(ctx *fasthttp.RequestCtx) {
		variant, room, ok := route(string(ctx.Path()))
		if !ok {
			app(ctx)
			return
		}
		if !websocket.FastHTTPIsWebSocketUpgrade(ctx) {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(upgradeRequiredBody)
			return
		}
		if !upgrader.CheckOrigin(ctx) {
			s.logger.Warn().Str("origin", string(ctx.Request.Header.Peek("Origin"))).Msg("origin not allowed")
			ctx.SetStatusCode(fasthttp.StatusForbidden)
			return
		}

		hs := gateway.Handshake{
			Token:      string(ctx.QueryArgs().Peek("token")),
			Room:       room,
			RemoteAddr: ctx.RemoteAddr().String(),
		}
		sess, err := s.gateway.Open(s.ctx, hs, variant)
		if err != nil {
			ctx.SetStatusCode(refusalStatus(err))
			return
		}

		err = upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			sess.Run(conn)
		})
		if err != nil {
			sess.Abort()
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}
