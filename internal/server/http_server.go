// Package server constructs and starts the linechat HTTP side server with
// helpers that apply sensible production defaults.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// CreateHTTPServer creates an HTTP server for addr and handler. WebSocket
// sessions outlive the request timeouts because the connection is hijacked.
func CreateHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartHTTPServer listens and serves until the server is shut down. A clean
// shutdown is not reported as an error.
func StartHTTPServer(server *http.Server, logger *zap.Logger) error {
	logger.Info("HTTP server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "http server on %s", server.Addr)
	}
	return nil
}

// ShutdownHTTPServer gracefully shuts down the HTTP server, waiting for
// in-flight requests until the timeout is reached.
func ShutdownHTTPServer(server *http.Server, timeout time.Duration, logger *zap.Logger) error {
	logger.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("HTTP server shutdown completed")
	return nil
}
