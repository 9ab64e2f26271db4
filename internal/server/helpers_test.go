package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/linechat/internal/chatclient"
	"github.com/Tyrowin/linechat/internal/config"
	"github.com/Tyrowin/linechat/internal/password"
	"github.com/Tyrowin/linechat/internal/store"
)

const readTimeout = 2 * time.Second

// testConfig returns the defaults without the HTTP side server.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.HTTPAddr = ""
	return cfg
}

// openTestStore opens a file-backed credential store in a temp dir.
func openTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.txt")
	logger := zaptest.NewLogger(t)
	st, err := store.Open(context.Background(), store.NewFileBackend(path, logger), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

// newTestServer builds a Server over a fresh store. mutate may adjust the config.
func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	st, _ := openTestStore(t)
	srv, err := New(cfg, st, password.SHA256{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(time.Second) })
	return srv
}

// startTCP runs srv on a loopback listener and returns its address.
func startTCP(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return ln.Addr().String()
}

// dial connects a protocol client and closes it when the test ends.
func dial(t *testing.T, addr string) *chatclient.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	c, err := chatclient.Dial(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// pipeSession runs a session over net.Pipe and returns the client side.
func pipeSession(t *testing.T, srv *Server) *chatclient.Client {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	go func() { _ = srv.ServeConn(context.Background(), NewTCPConn(serverSide, srv.cfg.MaxLineBytes)) }()
	c := chatclient.New(clientSide)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func expectLine(t *testing.T, c *chatclient.Client, want string) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(readTimeout)))
	got, err := c.ReadLine()
	require.NoError(t, err, "waiting for %q", want)
	require.Equal(t, want, got)
}

func expectNoLine(t *testing.T, c *chatclient.Client, wait time.Duration) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(wait)))
	line, err := c.ReadLine()
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "unexpected line %q (err %v)", line, err)
}

func expectClosed(t *testing.T, c *chatclient.Client) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		_, err := c.ReadLine()
		if err != nil {
			var ne net.Error
			require.False(t, errors.As(err, &ne) && ne.Timeout(), "connection still open")
			return
		}
	}
}

// join registers username and consumes its own join notice, which is sent
// after the session is in the registry.
func join(t *testing.T, c *chatclient.Client, username string) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(readTimeout)))
	require.NoError(t, c.Register(username, "pw-"+username))
	expectLine(t, c, username+" joined.")
}

// waitFor polls cond until it holds or the read timeout elapses.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, readTimeout, 5*time.Millisecond)
}
