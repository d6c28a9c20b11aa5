package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/api"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/app"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/cli"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/config"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("err", err))
		os.Exit(1)
	}

	log := app.NewLogger("api-server", cfg.LogLevel)
	log.Info("api-server starting up",
		slog.String("env", cfg.Env),
		slog.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("startup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer a.Close()

	rc := api.RouterConfig{
		Commands: cli.NewHandler(a.Coordinator, a.Identity, log),
		Sessions: api.NewSessionRegistry(),
		Log:      log,
		Env:      cfg.Env,
		Version:  version,
	}
	// Leave the probes nil for in-process backends so readiness skips them.
	if a.PgPool != nil {
		rc.Store = a.PgPool
	}
	if a.Redis != nil {
		rdb := a.Redis
		rc.Lock = api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(rc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutting down api-server", slog.Duration("timeout", cfg.ShutdownTimeout))
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", slog.Any("err", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", slog.Any("err", err))
	}
}
