package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by *pgxpool.Pool and by PingFunc adapters.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler reports on the store and the lock backend. A nil probe
// means that dependency is in-process and is left out of the report.
type HealthHandler struct {
	store   Pinger
	lock    Pinger
	env     string
	version string
}

func NewHealthHandler(store, lock Pinger, env, version string) *HealthHandler {
	return &HealthHandler{
		store:   store,
		lock:    lock,
		env:     env,
		version: version,
	}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	// The store is required; without it no command can run.
	if h.store != nil {
		if probe(ctx, h.store) {
			deps["store"] = "ok"
		} else {
			deps["store"] = "down"
			status = "error"
		}
	}

	// Without the lock backend reservations fail but reads still work.
	if h.lock != nil {
		if probe(ctx, h.lock) {
			deps["lock"] = "ok"
		} else {
			deps["lock"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}

func probe(ctx context.Context, p Pinger) bool {
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return p.Ping(pingCtx) == nil
}
