package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/app"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/cli"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("err", err))
		os.Exit(1)
	}

	log := app.NewLogger("scheduler", cfg.LogLevel)
	log.Debug("scheduler starting up",
		slog.String("env", cfg.Env),
		slog.String("store", cfg.StoreBackend),
		slog.String("lock", cfg.LockBackend))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("startup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer a.Close()

	h := cli.NewHandler(a.Coordinator, a.Identity, log)
	if err := h.Run(rootCtx, os.Stdin, os.Stdout); err != nil {
		log.Error("read error", slog.Any("err", err))
	}
}
