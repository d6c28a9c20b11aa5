package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/session"
)

// Commands executes one protocol line against a session.
type Commands interface {
	Execute(ctx context.Context, sess *session.Session, line string, w io.Writer) (quit bool)
}

type RouterConfig struct {
	Commands Commands
	Sessions *SessionRegistry
	Store    Pinger
	Lock     Pinger
	Log      *slog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionRegistry()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.Store, cfg.Lock, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/sessions", createSessionHandler(cfg.Sessions))
	r.Post("/sessions/{id}/commands", runCommandHandler(cfg))
	r.Delete("/sessions/{id}", deleteSessionHandler(cfg.Sessions))

	return r
}
