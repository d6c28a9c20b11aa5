package session

import (
	"errors"
	"testing"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

func TestSession_Lifecycle(t *testing.T) {
	s := New()
	bob := reservation.Actor{Role: reservation.RolePatient, Username: "bob"}
	alice := reservation.Actor{Role: reservation.RoleCaregiver, Username: "alice"}

	if s.LoggedIn() {
		t.Fatalf("new session is logged in")
	}
	if err := s.Logout(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Logout err = %v, want %v", err, ErrNotLoggedIn)
	}

	if err := s.Login(bob); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := s.Login(alice); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Fatalf("second Login err = %v, want %v", err, ErrAlreadyLoggedIn)
	}
	if got := s.Current(); got != bob {
		t.Fatalf("Current = %+v, want %+v", got, bob)
	}

	if err := s.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if got := s.Current(); got.Authenticated() {
		t.Fatalf("Current after logout = %+v", got)
	}
	if err := s.Login(alice); err != nil {
		t.Fatalf("Login after logout: %v", err)
	}
}

func TestSession_RejectsIncompleteIdentity(t *testing.T) {
	var s Session
	if err := s.Login(reservation.Actor{Role: reservation.RolePatient}); err == nil {
		t.Fatalf("login without username accepted")
	}
	if s.LoggedIn() {
		t.Fatalf("session logged in after rejected login")
	}
}
