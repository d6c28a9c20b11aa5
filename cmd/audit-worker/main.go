package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/app"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/config"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("err", err))
		os.Exit(1)
	}

	log := app.NewLogger("audit-worker", cfg.LogLevel)
	log.Info("running audit worker",
		slog.String("env", cfg.Env),
		slog.String("store", cfg.StoreBackend),
		slog.Duration("interval", cfg.AuditInterval))

	if cfg.StoreBackend == config.BackendMemory {
		log.Warn("memory store is private to this process; the audit only sees its own empty state")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("startup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, a.Coordinator, log)

	ticker := time.NewTicker(cfg.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping audit worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Coordinator, log)
		}
	}
}

func runOnce(ctx context.Context, coord *reservation.Coordinator, log *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	report, err := coord.Audit(runCtx)
	if err != nil {
		log.Error("audit run error", slog.Any("err", err))
		return
	}

	for _, v := range report.Violations {
		log.Error("invariant violated",
			slog.String("kind", string(v.Kind)),
			slog.String("detail", v.Detail))
	}
	log.Info("audit run complete",
		slog.Int("appointments", report.Appointments),
		slog.Int("vaccines", report.Vaccines),
		slog.Int("violations", len(report.Violations)),
		slog.Duration("took", time.Since(start)))
}
