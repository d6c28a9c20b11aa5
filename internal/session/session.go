// Package session holds the single identity a command stream is acting as.
package session

import (
	"errors"
	"sync"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

var (
	ErrAlreadyLoggedIn = errors.New("user already logged in")
	ErrNotLoggedIn     = errors.New("not logged in")
)

// Session is at most one caregiver or patient at a time. The zero value is
// logged out and ready to use.
type Session struct {
	mu    sync.Mutex
	actor reservation.Actor
}

func New() *Session {
	return &Session{}
}

func (s *Session) Login(actor reservation.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actor.Authenticated() {
		return ErrAlreadyLoggedIn
	}
	if !actor.Authenticated() {
		return errors.New("login: incomplete identity")
	}
	s.actor = actor
	return nil
}

func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.actor.Authenticated() {
		return ErrNotLoggedIn
	}
	s.actor = reservation.Actor{}
	return nil
}

// Current returns the active identity, or the zero Actor when logged out.
func (s *Session) Current() reservation.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor
}

func (s *Session) LoggedIn() bool {
	return s.Current().Authenticated()
}
