// Package server constructs the chat engine and runs the TCP acceptor that
// spawns one session per inbound connection.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Tyrowin/linechat/internal/config"
	"github.com/Tyrowin/linechat/internal/password"
)

// ErrShuttingDown is returned for connections offered after Shutdown began.
var ErrShuttingDown = errors.New("server: shutting down")

// Server owns the shared chat state and hands it to every session it starts.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	auth     *Authenticator
	registry *Registry
	router   *Router
	metrics  *Metrics
	gatherer *prometheus.Registry
	origins  *originPolicy
	pool     *ants.Pool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
}

// New creates a Server. The credential store and hasher are shared by every
// session's handshake.
func New(cfg *config.Config, st CredentialStore, hasher password.Hasher, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gatherer := prometheus.NewRegistry()
	metrics := NewMetrics(gatherer)

	auth, err := NewAuthenticator(st, hasher, logger, metrics)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.MaxConnections,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			logger.Error("Session panicked", zap.Any("panic", v), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create session pool")
	}

	registry := NewRegistry(metrics)
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		logger:   logger,
		auth:     auth,
		registry: registry,
		router:   NewRouter(registry, logger, metrics),
		metrics:  metrics,
		gatherer: gatherer,
		origins:  newOriginPolicy(cfg.AllowedOrigins, cfg.AllowMissingOrigin, logger),
		pool:     pool,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Registry returns the registry of authenticated sessions.
func (s *Server) Registry() *Registry { return s.registry }

// Listen binds the TCP listener. A bind failure is fatal to startup.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return ln, nil
}

// Serve accepts connections from ln until ctx is cancelled or ln is closed.
// Each connection runs on the session pool; accept errors are retried with
// backoff and never end the loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("Chat server listening", zap.String("addr", ln.Addr().String()))

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Millisecond
	retry.MaxInterval = time.Second
	retry.MaxElapsedTime = 0

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("Chat server stopped accepting")
				return nil
			}

			delay := retry.NextBackOff()
			s.logger.Warn("Accept failed; retrying", zap.Error(err), zap.Duration("delay", delay))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		retry.Reset()

		s.dispatch(ctx, NewTCPConn(conn, s.cfg.MaxLineBytes))
	}
}

// dispatch runs conn on the pool without blocking the accept loop.
func (s *Server) dispatch(ctx context.Context, conn LineConn) {
	err := s.pool.Submit(func() {
		if err := s.ServeConn(ctx, conn); err != nil {
			s.logger.Debug("Connection not served", zap.Error(err))
		}
	})
	if err != nil {
		s.metrics.Connections.WithLabelValues("rejected").Inc()
		s.logger.Warn("Connection rejected", zap.String("addr", conn.RemoteAddr()), zap.Error(err))
		_ = conn.Close()
	}
}

// ServeConn runs one session on conn in the calling goroutine and returns
// when the session ends. conn is closed on every path.
func (s *Server) ServeConn(ctx context.Context, conn LineConn) error {
	sess := newSession(conn, s.cfg, s.auth, s.registry, s.router, s.logger)
	if !s.track(sess) {
		_ = conn.Close()
		return ErrShuttingDown
	}
	defer s.untrack(sess)

	s.metrics.Connections.WithLabelValues("accepted").Inc()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	sess.Run(ctx)
	return nil
}

func (s *Server) track(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown closes every live connection and waits for sessions to finish,
// or until timeout elapses. Clients get no goodbye line.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("Initiating chat server shutdown...")

	s.mu.Lock()
	s.closing = true
	sessions := lo.Keys(s.sessions)
	s.mu.Unlock()

	s.cancel()
	for _, sess := range sessions {
		_ = sess.Close()
	}
	s.logger.Info("Closed session connections", zap.Int("count", len(sessions)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	defer s.pool.Release()

	select {
	case <-done:
		s.logger.Info("Chat server shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("Chat server shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
