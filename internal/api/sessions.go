package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/session"
)

// SessionRegistry gives every HTTP client its own session, keyed by an
// opaque id handed out at creation.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*session.Session)}
}

func (r *SessionRegistry) Create() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = session.New()
	r.mu.Unlock()
	return id
}

func (r *SessionRegistry) Get(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *SessionRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
