package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/config"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/identity"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/lock"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/session"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/store/memory"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores := memory.New()
	coord := reservation.NewCoordinator(stores, lock.NewLocal(), config.Default(), log)
	accounts := identity.NewService(stores.Identities, 100, 100, log)
	return NewHandler(coord, accounts, log)
}

// script runs lines against one session and returns each command's output.
func script(t *testing.T, h *Handler, lines ...string) []string {
	t.Helper()
	sess := session.New()
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		var buf bytes.Buffer
		h.Execute(context.Background(), sess, line, &buf)
		out = append(out, strings.TrimRight(buf.String(), "\n"))
	}
	return out
}

func expect(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d outputs, want %d:\n%q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("output %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAccounts(t *testing.T) {
	h := newHandler(t)

	got := script(t, h,
		"create_patient bob pw",
		"create_patient bob other",
		"create_caregiver bob pw",
		"create_patient onlyname",
		"login_patient bob wrong",
		"login_patient bob pw",
		"login_caregiver bob pw",
		"logout now",
		"logout",
		"logout",
	)
	expect(t, got,
		"Created user bob",
		"Username taken, try again!",
		"Created user bob",
		"Failed to create user.",
		"Login failed.",
		"Logged in as: bob",
		"User already logged in.",
		"Please try again!",
		"Successfully logged out!",
		"Please login first",
	)
}

func TestReservationFlow(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	caregiver := session.New()
	run := func(s *session.Session, line string) string {
		var buf bytes.Buffer
		h.Execute(ctx, s, line, &buf)
		return strings.TrimRight(buf.String(), "\n")
	}

	steps := []struct {
		sess *session.Session
		line string
		want string
	}{
		{caregiver, "create_caregiver alice pw", "Created user alice"},
		{caregiver, "login_caregiver alice pw", "Logged in as: alice"},
		{caregiver, "upload_availability 2024-06-01", "Availability uploaded!"},
		{caregiver, "upload_availability 2024-06-01", "Availability already uploaded!"},
		{caregiver, "upload_availability 2024-02-30", "Please enter a valid date!"},
		{caregiver, "upload_availability", "Please try again!"},
		{caregiver, "add_doses Moderna 1", "Doses updated!"},
		{caregiver, "add_doses Moderna many", "Please try again!"},
		{caregiver, "add_doses Moderna -5", "Please try again!"},
		{caregiver, "reserve 2024-06-01 Moderna", "Please login as a patient first!"},
		{caregiver, "search_caregiver_schedule 2024-06-01", "Caregiver: alice\nVaccine: Moderna Available Doses: 1"},
	}
	for _, s := range steps {
		if got := run(s.sess, s.line); got != s.want {
			t.Fatalf("%q = %q, want %q", s.line, got, s.want)
		}
	}

	patient := session.New()
	steps = []struct {
		sess *session.Session
		line string
		want string
	}{
		{patient, "reserve 2024-06-01 Moderna", "Please login first!"},
		{patient, "add_doses Moderna 1", "Please login as a caregiver first!"},
		{patient, "create_patient bob pw", "Created user bob"},
		{patient, "login_patient bob pw", "Logged in as: bob"},
		{patient, "upload_availability 2024-06-01", "Please login as a caregiver first!"},
		{patient, "reserve 2024-06-01", "Please try again!"},
		{patient, "reserve 2024-06-01 Moderna", "Appointment ID: 1, Caregiver Username: alice"},
		{patient, "reserve 2024-06-01 Moderna", "No Caregiver is available"},
		{patient, "show_appointments", "Appointment ID: 1 Vaccine: Moderna Time: 2024-06-01 Caregiver: alice"},
		{caregiver, "show_appointments", "Appointment ID: 1 Vaccine: Moderna Time: 2024-06-01 Patient: bob"},
		{caregiver, "upload_availability 2024-06-01", "Availability already uploaded!"},
		{patient, "search_caregiver_schedule 2024-06-01", "Vaccine: Moderna Available Doses: 0"},
		{patient, "cancel abc", "Please try again"},
		{patient, "cancel 1", "Appointment Canceled"},
		{patient, "cancel 1", "Please try again"},
		{caregiver, "upload_availability 2024-06-02", "Availability uploaded!"},
		{patient, "reserve 2024-06-02 Pfizer", "Not enough available doses!"},
		{patient, "reserve 2024-6-2 Moderna", "Appointment ID: 2, Caregiver Username: alice"},
		{patient, "reserve not-a-date Moderna", "Please try again"},
	}
	for _, s := range steps {
		if got := run(s.sess, s.line); got != s.want {
			t.Fatalf("%q = %q, want %q", s.line, got, s.want)
		}
	}
}

func TestDispatchEdgeCases(t *testing.T) {
	h := newHandler(t)

	got := script(t, h,
		"",
		"   ",
		"Reserve 2024-06-01 X",
		"show_appointments",
		"search_caregiver_schedule 2024-06-01",
		"cancel 1",
	)
	expect(t, got,
		"Please try again!",
		"Please try again!",
		"Invalid operation name!",
		"Please login first",
		"Please login first!",
		"Please login first!",
	)
}

func TestRun(t *testing.T) {
	h := newHandler(t)
	in := strings.NewReader("create_patient bob pw\nquit\ncreate_patient never pw\n")
	var out bytes.Buffer

	if err := h.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "Welcome to the COVID-19 Vaccine Reservation Scheduling Application!") {
		t.Fatalf("missing banner:\n%s", s)
	}
	if !strings.Contains(s, "> Created user bob\n> Bye!\n") {
		t.Fatalf("unexpected transcript:\n%s", s)
	}
	if strings.Contains(s, "never") {
		t.Fatalf("commands after quit were executed")
	}
}

func TestRun_EOF(t *testing.T) {
	h := newHandler(t)
	var out bytes.Buffer
	if err := h.Run(context.Background(), strings.NewReader("logout\n"), &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "> Please login first\n") {
		t.Fatalf("transcript:\n%s", out.String())
	}
}

type failingScheduler struct{ Scheduler }

func (failingScheduler) ListAppointments(context.Context, reservation.Actor) ([]reservation.Appointment, error) {
	return nil, reservation.StorageFailure("list", errors.New("db down"))
}

type staticAccounts struct{}

func (staticAccounts) Register(context.Context, reservation.Role, string, string) error { return nil }

func (staticAccounts) Verify(_ context.Context, role reservation.Role, username, _ string) (reservation.Actor, error) {
	return reservation.Actor{Role: role, Username: username}, nil
}

func TestStorageFailureMessage(t *testing.T) {
	h := NewHandler(failingScheduler{}, staticAccounts{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	got := script(t, h, "login_patient bob pw", "show_appointments")
	expect(t, got, "Logged in as: bob", "Please try again!")
}
