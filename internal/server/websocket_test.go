package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/config"
)

func startHTTP(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func dialWebSocket(t *testing.T, ts *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: readTimeout}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", headers)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func expectFrame(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err, "waiting for %q", want)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, want, string(data))
}

func TestWebSocketGatewaySharesRegistryWithTCP(t *testing.T) {
	srv := newTestServer(t, nil)
	addr := startTCP(t, srv)
	ts := startHTTP(t, srv)

	tcpClient := dial(t, addr)
	join(t, tcpClient, "alice")

	ws, _, err := dialWebSocket(t, ts, "http://localhost:8080")
	require.NoError(t, err)

	expectFrame(t, ws, PromptLine)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("register:bob:pw")))
	expectFrame(t, ws, ReplyRegistered)
	expectFrame(t, ws, "bob joined.")
	expectLine(t, tcpClient, "bob joined.")

	require.NoError(t, tcpClient.Send("/msg bob over tcp"))
	expectFrame(t, ws, "alice (private): over tcp")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("over ws\n")))
	expectFrame(t, ws, "bob: over ws")
	expectLine(t, tcpClient, "bob: over ws")

	require.NoError(t, ws.Close())
	expectLine(t, tcpClient, "bob left.")
}

func TestWebSocketOriginPolicy(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"https://chat.example.com"}
	})
	ts := startHTTP(t, srv)

	_, resp, err := dialWebSocket(t, ts, "https://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := dialWebSocket(t, ts, "HTTPS://Chat.Example.com")
	require.NoError(t, err)
	expectFrame(t, ws, PromptLine)

	_, resp, err = dialWebSocket(t, ts, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "missing Origin is rejected by default")
}

func TestWebSocketAllowMissingOrigin(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.AllowMissingOrigin = true
	})
	ts := startHTTP(t, srv)

	ws, _, err := dialWebSocket(t, ts, "")
	require.NoError(t, err)
	expectFrame(t, ws, PromptLine)

	_, resp, err := dialWebSocket(t, ts, "https://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketRejectsNonGet(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := startHTTP(t, srv)

	resp, err := http.Post(ts.URL+"/ws", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthOnlineAndMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	addr := startTCP(t, srv)
	ts := startHTTP(t, srv)

	c := dial(t, addr)
	join(t, c, "alice")

	body := get(t, ts.URL+"/")
	assert.Contains(t, body, "online=1")

	assert.Equal(t, "alice\n", get(t, ts.URL+"/online"))

	metrics := get(t, ts.URL+"/metrics")
	assert.Contains(t, metrics, "linechat_sessions_online 1")
	assert.Contains(t, metrics, `linechat_auth_attempts_total{result="REGISTERED",verb="register"} 1`)
	assert.Contains(t, metrics, `linechat_connections_total{result="accepted"} 1`)
}

func get(t *testing.T, url string) string {
	t.Helper()
	client := &http.Client{Timeout: readTimeout}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}
