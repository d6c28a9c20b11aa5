package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxCommandBytes bounds one command line.
const maxCommandBytes = 4 << 10

func createSessionHandler(sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessions.Create()
		w.Header().Set("Location", "/sessions/"+id)
		writeJSON(w, http.StatusCreated, CreateSessionResponse{ID: id})
	}
}

// runCommandHandler executes the request body as one command line and
// answers with the command's text output. quit ends the session.
func runCommandHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, ok := cfg.Sessions.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "session_not_found", "no session with id "+id)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "command_too_large", "a command is a single line")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read command")
			return
		}

		line := strings.TrimRight(string(body), "\r\n")
		if strings.ContainsAny(line, "\r\n") {
			writeError(w, http.StatusBadRequest, "multiple_lines", "send one command per request")
			return
		}

		var out bytes.Buffer
		quit := cfg.Commands.Execute(r.Context(), sess, line, &out)
		if quit {
			cfg.Sessions.Delete(id)
			w.Header().Set("X-Session-Closed", "true")
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Bytes())
	}
}

func deleteSessionHandler(sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !sessions.Delete(id) {
			writeError(w, http.StatusNotFound, "session_not_found", "no session with id "+id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
