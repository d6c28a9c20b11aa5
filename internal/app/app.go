// Package app turns a Config into running stores, locks and services.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/config"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/db"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/events"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/identity"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/lock"
	redisclient "github.com/hackgods/vaccine-reservation-scheduling/internal/redis"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/store/memory"
	pgstore "github.com/hackgods/vaccine-reservation-scheduling/internal/store/postgres"
	sqlitestore "github.com/hackgods/vaccine-reservation-scheduling/internal/store/sqlite"
)

type App struct {
	Config      config.Config
	Log         *slog.Logger
	Stores      reservation.Stores
	Coordinator *reservation.Coordinator
	Identity    *identity.Service

	// Set only for the backends that use them; health probes read these.
	PgPool *pgxpool.Pool
	Redis  *redis.Client

	closers []func() error
}

// NewLogger writes JSON to stderr; stdout belongs to the command protocol.
func NewLogger(service, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With(slog.String("service", service))
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.AMQPURL != "" {
		conn, ch, err := events.SetupConn(ctx, cfg.AMQPURL, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		a.Stores.Events = events.Multi{a.Stores.Events, events.NewPublisher(ch)}
		log.Info("publishing events to RabbitMQ", slog.String("exchange", events.ExchangeName))
	}

	a.Coordinator = reservation.NewCoordinator(a.Stores, locker, cfg, log)
	a.Identity = identity.NewService(a.Stores.Identities, cfg.LoginRate, cfg.LoginBurst, log)
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case config.BackendSQLite:
		gdb, err := db.OpenSQLite(a.Config.SQLitePath)
		if err != nil {
			return err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		if err := sqlitestore.Migrate(ctx, gdb); err != nil {
			return err
		}
		a.Stores = sqlitestore.New(gdb)
		a.Log.Info("using sqlite store", slog.String("path", a.Config.SQLitePath))

	case config.BackendPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, a.Config.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres connection error: %w", err)
		}
		a.PgPool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return err
		}
		a.Stores = pgstore.NewPgRepository(pool).Stores()
		a.Log.Info("connected to Postgres")

	default:
		a.Stores = memory.New()
		a.Log.Info("using in-memory store")
	}
	return nil
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.LockBackend != config.LockRedis {
		return lock.NewLocal(), nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, a.Config.RedisAddr, a.Config.RedisUsername, a.Config.RedisPassword)
	if err != nil {
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)
	a.Log.Info("connected to Redis", slog.String("addr", a.Config.RedisAddr))

	return redisclient.NewRedisSlotLocker(rdb, a.Config.LockTTL), nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("error during shutdown", slog.Any("err", err))
		}
	}
	a.closers = nil
}
