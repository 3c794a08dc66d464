package providers

import (
	"net/http"

	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gorilla/websocket"
	"github.com/orchestra-mcp/realtime/src/gateway"
)

// HTTPHandler is the net/http counterpart of Handler, built on
// gorilla/websocket. Every other request goes to the fiber app.
func (s *Server) HTTPHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(s.origins, r.Header.Get("Origin"))
		},
	}
	app := adaptor.FiberApp(s.app)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		variant, room, ok := route(r.URL.Path)
		if !ok {
			app(w, r)
			return
		}
		if !websocket.IsWebSocketUpgrade(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			_, _ = w.Write([]byte(upgradeRequiredBody))
			return
		}
		if !upgrader.CheckOrigin(r) {
			s.logger.Warn().Str("origin", r.Header.Get("Origin")).Msg("origin not allowed")
			w.WriteHeader(http.StatusForbidden)
			return
		}

		hs := gateway.Handshake{
			Token:      r.URL.Query().Get("token"),
			Room:       room,
			RemoteAddr: r.RemoteAddr,
		}
		sess, err := s.gateway.Open(r.Context(), hs, variant)
		if err != nil {
			w.WriteHeader(refusalStatus(err))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			sess.Abort()
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		sess.Run(conn)
	})
}
