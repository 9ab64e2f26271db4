// Package server manages individual chat sessions, handling the handshake,
// the read loop, the write pump and cleanup for each connection.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/linechat/internal/config"
)

// identity is unset until the handshake succeeds and immutable afterwards.
type identity struct {
	username string
	set      bool
}

// Session is the server side of one connection, before and after
// authentication. It owns its LineConn exclusively.
type Session struct {
	id   string
	conn LineConn
	addr string

	send   chan string
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	who    identity

	closeOnce sync.Once
	closeErr  error

	auth        *Authenticator
	registry    *Registry
	router      *Router
	logger      *zap.Logger
	rateLimiter *rateLimiter
	cfg         *config.Config
}

func newSession(conn LineConn, cfg *config.Config, auth *Authenticator, registry *Registry, router *Router, logger *zap.Logger) *Session {
	id := uuid.NewString()
	var limiter *rateLimiter
	if cfg.RateLimit.Burst > 0 {
		limiter = newRateLimiter(cfg.RateLimit)
	}
	return &Session{
		id:          id,
		conn:        conn,
		addr:        conn.RemoteAddr(),
		send:        make(chan string, cfg.SendQueueSize),
		done:        make(chan struct{}),
		auth:        auth,
		registry:    registry,
		router:      router,
		logger:      logger.With(zap.String("session", id), zap.String("addr", conn.RemoteAddr())),
		rateLimiter: limiter,
		cfg:         cfg,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Username returns the bound username, if the handshake has completed.
func (s *Session) Username() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.who.username, s.who.set
}

// Authenticated reports whether a username is bound.
func (s *Session) Authenticated() bool {
	_, ok := s.Username()
	return ok
}

func (s *Session) bind(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.who.set {
		return errors.Newf("session already bound to %q", s.who.username)
	}
	s.who = identity{username: username, set: true}
	return nil
}

// Deliver queues line for the write pump without blocking. A session whose
// queue is full is treated as a slow consumer and closed.
func (s *Session) Deliver(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.send <- line:
		return true
	default:
		s.logger.Warn("Send queue full; dropping session")
		go func() { _ = s.Close() }()
		return false
	}
}

// closeSend stops further deliveries and lets the write pump drain and exit.
func (s *Session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Close closes the underlying connection. It is safe to call repeatedly and
// from any goroutine; blocked reads return with an error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		if isExpectedCloseError(s.closeErr) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

// Run drives the session until the connection ends or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	go s.writePump()
	defer s.terminate()

	s.logger.Info("Session opened")

	username, ok := s.handshake(ctx)
	if !ok {
		return
	}

	if err := s.registry.Add(s); err != nil {
		s.logger.Error("Could not register session", zap.Error(err))
		return
	}
	s.logger.Info("Session authenticated", zap.String("username", username), zap.Int("online", s.registry.Len()))
	s.router.Announce(joinNotice(username))

	s.readPump()
}

// handshake prompts and evaluates credential lines until one succeeds, the
// attempt budget runs out, or the stream ends.
func (s *Session) handshake(ctx context.Context) (string, bool) {
	for attempt := 1; ; attempt++ {
		if !s.Deliver(PromptLine) {
			return "", false
		}

		line, err := s.readLine()
		if err != nil {
			s.handleReadError(err)
			return "", false
		}

		res := s.auth.Handle(ctx, line)
		s.Deliver(res.Reply)
		if res.OK {
			if err := s.bind(res.Username); err != nil {
				s.logger.Error("Bind failed", zap.Error(err))
				return "", false
			}
			return res.Username, true
		}

		if limit := s.cfg.MaxAuthAttempts; limit > 0 && attempt >= limit {
			s.logger.Warn("Too many failed handshake attempts", zap.Int("attempts", attempt))
			return "", false
		}
	}
}

// readPump reads chat lines and hands them to the router.
func (s *Session) readPump() {
	for {
		line, err := s.readLine()
		if err != nil {
			s.handleReadError(err)
			return
		}

		if line == "" {
			continue
		}

		if !s.checkRateLimit() {
			continue
		}

		s.router.Route(s, line)
	}
}

func (s *Session) readLine() (string, error) {
	if timeout := s.cfg.IdleTimeout; timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", err
		}
	}
	return s.conn.ReadLine()
}

// handleReadError logs a read failure at a level matching its cause.
func (s *Session) handleReadError(err error) {
	switch {
	case isTimeout(err):
		s.logger.Info("Session idle timeout", zap.Duration("timeout", s.cfg.IdleTimeout))
	case errors.Is(err, ErrLineTooLong):
		s.logger.Warn("Line exceeded maximum length", zap.Int("max_bytes", s.cfg.MaxLineBytes))
	case isExpectedCloseError(err):
		s.logger.Info("Connection closed")
	default:
		s.logger.Warn("Read error", zap.Error(err))
	}
}

// checkRateLimit reports whether the next line may be routed.
func (s *Session) checkRateLimit() bool {
	if s.rateLimiter != nil && !s.rateLimiter.allow() {
		s.logger.Warn("Rate limit exceeded; discarding line",
			zap.Int("burst", s.cfg.RateLimit.Burst),
			zap.Duration("refill_interval", s.cfg.RateLimit.RefillInterval))
		return false
	}
	return true
}

// terminate runs on every exit path of Run. Only the call that actually
// removes the session from the registry announces the departure.
func (s *Session) terminate() {
	if s.registry.Remove(s) {
		username, _ := s.Username()
		s.logger.Info("Session left", zap.String("username", username), zap.Int("online", s.registry.Len()))
		s.router.Announce(leaveNotice(username))
	}

	s.closeSend()
	select {
	case <-s.done:
	case <-time.After(writeTimeout):
		s.logger.Warn("Write pump did not drain in time")
	}

	if err := s.Close(); err != nil {
		s.logger.Warn("Error closing connection", zap.Error(err))
	}
	s.logger.Info("Session closed")
}

// writePump writes queued lines until the queue is closed or a write fails.
func (s *Session) writePump() {
	defer close(s.done)

	for line := range s.send {
		if err := s.conn.WriteLine(line); err != nil {
			if !isExpectedCloseError(err) {
				s.logger.Warn("Write error", zap.Error(err))
			}
			_ = s.Close()
			// Discard whatever is still queued until closeSend.
			for range s.send {
			}
			return
		}
	}
}
