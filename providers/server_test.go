package providers

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/auth"
	"github.com/orchestra-mcp/realtime/src/identity"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret     = "providers-test-secret-0123"
	testAdminToken = "admin-token-0123456789"
)

type testServer struct {
	*Server
	base string
}

func startServer(t *testing.T, transport string) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.JWTSecret = testSecret
	cfg.Transport = transport
	cfg.AllowedOrigins = "https://app.example.com"
	cfg.AdminToken = testAdminToken
	require.NoError(t, cfg.Validate())

	resolver := identity.NewStaticResolver(
		identity.Record{ID: "u1", DisplayName: "u1", Active: true},
		identity.Record{ID: "u2", DisplayName: "u2", Active: true},
	)
	srv := NewServer(cfg, resolver, zerolog.Nop())
	require.NoError(t, srv.Activate())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return &testServer{Server: srv, base: ln.Addr().String()}
}

func mint(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := auth.NewIssuer([]byte(testSecret)).Issue(userID, ttl)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) dial(t *testing.T, path, token string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws://" + ts.base + path + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func (ts *testServer) get(t *testing.T, path string, header http.Header) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://"+ts.base+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func waitGroup(t *testing.T, ts *testServer, group string, members int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ts.Hub().Groups()[group] == members
	}, 2*time.Second, 10*time.Millisecond)
}

var transports = []string{config.TransportFastHTTP, config.TransportNetHTTP}

func TestLobbyScenario(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			ts := startServer(t, transport)

			c1, _, err := ts.dial(t, "/ws/chat/lobby/", mint(t, "u1", time.Hour), nil)
			require.NoError(t, err)
			c2, _, err := ts.dial(t, "/ws/chat/lobby/", mint(t, "u2", time.Hour), nil)
			require.NoError(t, err)
			waitGroup(t, ts, "chat_lobby", 2)

			require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte(`{"message": "hi"}`)))

			assert.JSONEq(t, `{"user":"u1","message":"hi"}`, readFrame(t, c1))
			assert.JSONEq(t, `{"user":"u1","message":"hi"}`, readFrame(t, c2))
		})
	}
}

func TestExpiredTokenRefused(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			ts := startServer(t, transport)

			conn, resp, err := ts.dial(t, "/ws/chat/lobby/", mint(t, "u1", -time.Minute), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Empty(t, body)
			assert.Zero(t, ts.Hub().ClientCount())
			assert.Empty(t, ts.Hub().Groups())
		})
	}
}

func TestPersonalPublishScenario(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			ts := startServer(t, transport)

			c1, _, err := ts.dial(t, "/ws/realtime/", mint(t, "u1", time.Hour), nil)
			require.NoError(t, err)
			c2, _, err := ts.dial(t, "/ws/realtime/", mint(t, "u2", time.Hour), nil)
			require.NoError(t, err)
			waitGroup(t, ts, "user_u1", 1)
			waitGroup(t, ts, "user_u2", 1)

			require.NoError(t, ts.Notifier().Publish("u1", map[string]string{"kind": "ping"}))
			assert.JSONEq(t, `{"kind":"ping"}`, readFrame(t, c1))

			require.NoError(t, c2.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
			_, _, err = c2.ReadMessage()
			assert.Error(t, err, "unrelated account must receive nothing")
		})
	}
}

func TestAbruptDisconnectCleansUp(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			ts := startServer(t, transport)

			c1, _, err := ts.dial(t, "/ws/chat/lobby/", mint(t, "u1", time.Hour), nil)
			require.NoError(t, err)
			waitGroup(t, ts, "chat_lobby", 1)

			require.NoError(t, c1.NetConn().Close())

			require.Eventually(t, func() bool {
				return ts.Hub().ClientCount() == 0 && len(ts.Hub().Groups()) == 0
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestHandshakeRefusals(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			ts := startServer(t, transport)

			_, resp, err := ts.dial(t, "/ws/chat/lobby/", "", nil)
			require.Error(t, err)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)

			_, resp, err = ts.dial(t, "/ws/chat/lobby/", mint(t, "ghost", time.Hour), nil)
			require.Error(t, err)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)

			header := http.Header{"Origin": {"https://evil.example.com"}}
			_, resp, err = ts.dial(t, "/ws/chat/lobby/", mint(t, "u1", time.Hour), header)
			require.Error(t, err)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)

			header = http.Header{"Origin": {"https://APP.example.com/"}}
			_, _, err = ts.dial(t, "/ws/chat/lobby/", mint(t, "u1", time.Hour), header)
			assert.NoError(t, err)

			status, body := ts.get(t, "/ws/chat/lobby/", nil)
			assert.Equal(t, http.StatusUpgradeRequired, status)
			assert.Contains(t, body, "upgrade_required")
		})
	}
}

func TestInfoAndHealth(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			ts := startServer(t, transport)
			_, _, err := ts.dial(t, "/ws/chat/lobby/", mint(t, "u1", time.Hour), nil)
			require.NoError(t, err)
			waitGroup(t, ts, "chat_lobby", 1)

			status, body := ts.get(t, "/healthz", nil)
			assert.Equal(t, http.StatusOK, status)
			assert.JSONEq(t, `{"status":"ok","bridge":false}`, body)

			status, body = ts.get(t, "/ws/info", nil)
			assert.Equal(t, http.StatusOK, status)
			var info struct {
				WebSocket bool `json:"websocket"`
				Clients   int  `json:"clients"`
				Groups    int  `json:"groups"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &info))
			assert.True(t, info.WebSocket)
			assert.Equal(t, 1, info.Clients)
			assert.Equal(t, 1, info.Groups)
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			ts := startServer(t, transport)
			c1, _, err := ts.dial(t, "/ws/realtime/", mint(t, "u1", time.Hour), nil)
			require.NoError(t, err)
			waitGroup(t, ts, "user_u1", 1)

			status, _ := ts.get(t, "/admin/clients", nil)
			assert.Equal(t, http.StatusUnauthorized, status)

			bearer := http.Header{"Authorization": {"Bearer " + testAdminToken}}
			status, body := ts.get(t, "/admin/clients", bearer)
			assert.Equal(t, http.StatusOK, status)
			assert.Contains(t, body, `"account_id":"u1"`)

			status, body = ts.get(t, "/admin/groups", bearer)
			assert.Equal(t, http.StatusOK, status)
			assert.Contains(t, body, `"group":"user_u1"`)

			req, err := http.NewRequest(http.MethodPost, "http://"+ts.base+"/admin/publish",
				strings.NewReader(`{"account_id":"u1","data":{"kind":"ping"}}`))
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+testAdminToken)
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, `{"kind":"ping"}`, readFrame(t, c1))

			status, _ = ts.get(t, "/nowhere", nil)
			assert.Equal(t, http.StatusNotFound, status)
		})
	}
}

func TestLargeChatMessageIsRelayed(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			ts := startServer(t, transport)
			c1, _, err := ts.dial(t, "/ws/chat/lobby/", mint(t, "u1", time.Hour), nil)
			require.NoError(t, err)
			waitGroup(t, ts, "chat_lobby", 1)

			text := strings.Repeat("x", 5000)
			frame, err := json.Marshal(map[string]string{"message": text})
			require.NoError(t, err)
			require.NoError(t, c1.WriteMessage(websocket.TextMessage, frame))

			var got struct {
				User    string `json:"user"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal([]byte(readFrame(t, c1)), &got))
			assert.Equal(t, "u1", got.User)
			assert.Equal(t, text, got.Message)
			assert.Equal(t, 1, ts.Hub().ClientCount())
		})
	}
}

func TestBurstIsRelayedInFull(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			ts := startServer(t, transport)
			c1, _, err := ts.dial(t, "/ws/chat/lobby/", mint(t, "u1", time.Hour), nil)
			require.NoError(t, err)
			waitGroup(t, ts, "chat_lobby", 1)

			const n = 50
			for i := 0; i < n; i++ {
				require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte(`{"message": "m"}`)))
			}
			for i := 0; i < n; i++ {
				assert.JSONEq(t, `{"user":"u1","message":"m"}`, readFrame(t, c1))
			}
		})
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		path    string
		ok      bool
		variant string
		room    string
	}{
		{"/ws/chat/lobby/", true, "room", "lobby"},
		{"/ws/chat/lobby", true, "room", "lobby"},
		{"/ws/realtime/", true, "personal", ""},
		{"/ws/realtime", true, "personal", ""},
		{"/ws/info", false, "", ""},
		{"/healthz", false, "", ""},
	}
	for _, tt := range tests {
		v, room, ok := route(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.variant, v.Name, tt.path)
		assert.Equal(t, tt.room, room, tt.path)
	}
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed([]string{"*"}, "https://any.example.com"))
	assert.True(t, originAllowed([]string{"https://a.com"}, ""))
	assert.True(t, originAllowed([]string{"https://a.com"}, "https://A.com/"))
	assert.False(t, originAllowed([]string{"https://a.com"}, "https://b.com"))
}

func TestServeRequiresActivate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.JWTSecret = testSecret
	srv := NewServer(cfg, identity.NewStaticResolver(), zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.ErrorIs(t, srv.Serve(context.Background(), ln), ErrNotActive)
	assert.NoError(t, srv.Deactivate())
}
