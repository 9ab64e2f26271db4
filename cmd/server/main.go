package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/linechat/internal/config"
	"github.com/Tyrowin/linechat/internal/logging"
	"github.com/Tyrowin/linechat/internal/password"
	"github.com/Tyrowin/linechat/internal/server"
	"github.com/Tyrowin/linechat/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "linechat: %+v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	addr := flag.String("addr", cfg.Addr, "TCP address for chat connections")
	httpAddr := flag.String("http-addr", cfg.HTTPAddr, "HTTP address for health, metrics and WebSocket (empty disables)")
	flag.Parse()
	cfg.Addr, cfg.HTTPAddr = *addr, *httpAddr

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	credentials, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = credentials.Close() }()

	hasher, err := password.New(cfg.PasswordScheme, cfg.BcryptCost)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, credentials, hasher, logger)
	if err != nil {
		return err
	}

	ln, err := server.Listen(cfg.Addr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})

	if cfg.HTTPAddr != "" {
		httpServer := server.CreateHTTPServer(cfg.HTTPAddr, srv.Routes())
		g.Go(func() error {
			return server.StartHTTPServer(httpServer, logger)
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.ShutdownHTTPServer(httpServer, cfg.ShutdownTimeout, logger)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
			logger.Warn("Chat server shutdown incomplete", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	var backend store.Backend
	switch cfg.CredentialsBackend {
	case config.BackendSQLite:
		b, err := store.OpenSQLite(cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
		backend = b
	case config.BackendFile:
		backend = store.NewFileBackend(cfg.CredentialsPath, logger)
	default:
		return nil, errors.Newf("unknown credentials backend %q", cfg.CredentialsBackend)
	}
	st, err := store.Open(ctx, backend, logger.Named("store"))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return st, nil
}
