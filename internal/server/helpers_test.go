package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/server"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const testOrigin = "http://localhost:8080"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a configuration using in-memory storage and broker.
func testConfig() server.Config {
	cfg := *server.NewConfig()
	cfg.Token.Secret = testSecret
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.PasswordHasher = "bcrypt"
	cfg.RateLimit.Burst = 50
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// startApp builds an App for mode and serves it on an httptest server.
func startApp(t *testing.T, cfg server.Config, mode server.Mode) (*server.App, *httptest.Server) {
	t.Helper()

	app, err := server.NewApp(cfg, mode, quietLogger())
	require.NoError(t, err)

	handler, err := app.Build(context.Background())
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		ts.Close()
		_ = app.Close()
	})
	return app, ts
}

func postJSON(t *testing.T, base, path string, body any) (int, string) {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(base+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, strings.TrimSpace(string(out))
}

func register(t *testing.T, base, username, email, password string) {
	t.Helper()
	status, body := postJSON(t, base, "/auth/register", map[string]string{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "registered", body)
}

func login(t *testing.T, base, username, password string) string {
	t.Helper()
	status, body := postJSON(t, base, "/auth/login", map[string]string{
		"username": username, "password": password,
	})
	require.Equal(t, http.StatusOK, status, body)

	var resp server.LoginResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func wsURL(t *testing.T, base, token string) string {
	t.Helper()
	u, err := url.Parse(base)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// dial opens a socket with the test origin. The returned response is closed.
func dial(t *testing.T, base, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	header.Set("Origin", testOrigin)

	conn, resp, err := dialer.Dial(wsURL(t, base, token), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func connect(t *testing.T, base, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := dial(t, base, token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, app *server.App, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return app.Hub().ClientCount() == n },
		2*time.Second, 10*time.Millisecond, "expected %d clients", n)
}

func sendChat(t *testing.T, conn *websocket.Conn, msg relay.ChatMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(server.InboundFrame{Type: relay.SendMessageRoute, Payload: msg}))
}

func readFrame(t *testing.T, conn *websocket.Conn) relay.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f relay.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// expectSilence fails if conn receives a frame within wait.
func expectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", raw)
	}
}
