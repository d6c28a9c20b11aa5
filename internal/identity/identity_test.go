package identity

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/store/memory"
)

func newService(t *testing.T, burst int) (*Service, *memory.Identities) {
	t.Helper()
	store := memory.NewIdentities()
	return NewService(store, 0.001, burst, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestRegisterAndVerify(t *testing.T) {
	svc, store := newService(t, 10)
	ctx := context.Background()

	if err := svc.Register(ctx, reservation.RolePatient, "bob", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	creds, err := store.FetchCredentials(ctx, "bob", reservation.RolePatient)
	if err != nil {
		t.Fatalf("FetchCredentials: %v", err)
	}
	if len(creds.PasswordSalt) != saltLen || len(creds.PasswordHash) != keyLen {
		t.Fatalf("salt/hash lengths = %d/%d", len(creds.PasswordSalt), len(creds.PasswordHash))
	}
	if bytes.Contains(creds.PasswordHash, []byte("hunter2")) {
		t.Fatalf("password stored in clear")
	}

	actor, err := svc.Verify(ctx, reservation.RolePatient, "bob", "hunter2")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if actor != (reservation.Actor{Role: reservation.RolePatient, Username: "bob"}) {
		t.Fatalf("actor = %+v", actor)
	}

	if _, err := svc.Verify(ctx, reservation.RolePatient, "bob", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := svc.Verify(ctx, reservation.RoleCaregiver, "bob", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong namespace err = %v", err)
	}
}

func TestRegister_SaltsDiffer(t *testing.T) {
	svc, store := newService(t, 10)
	ctx := context.Background()

	_ = svc.Register(ctx, reservation.RolePatient, "a", "same")
	_ = svc.Register(ctx, reservation.RolePatient, "b", "same")

	ca, _ := store.FetchCredentials(ctx, "a", reservation.RolePatient)
	cb, _ := store.FetchCredentials(ctx, "b", reservation.RolePatient)
	if bytes.Equal(ca.PasswordHash, cb.PasswordHash) {
		t.Fatalf("same password produced identical hashes")
	}
}

func TestRegister_UsernameTaken(t *testing.T) {
	svc, _ := newService(t, 10)
	ctx := context.Background()

	if err := svc.Register(ctx, reservation.RoleCaregiver, "sam", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.Register(ctx, reservation.RoleCaregiver, "sam", "pw2"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("err = %v, want %v", err, ErrUsernameTaken)
	}
	if err := svc.Register(ctx, reservation.RolePatient, "sam", "pw"); err != nil {
		t.Fatalf("same name as patient: %v", err)
	}
}

type brokenStore struct{ reservation.Identities }

func (brokenStore) Exists(context.Context, string, reservation.Role) (bool, error) {
	return false, errors.New("db down")
}

func TestRegister_StorageFailureIsNotTaken(t *testing.T) {
	svc := NewService(brokenStore{}, 1, 1, nil)

	err := svc.Register(context.Background(), reservation.RolePatient, "bob", "pw")
	if !errors.Is(err, reservation.ErrStorage) {
		t.Fatalf("err = %v, want storage failure", err)
	}
	if errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("storage failure reported as username taken")
	}
}

func TestRegister_RejectsBadInput(t *testing.T) {
	svc, _ := newService(t, 10)
	ctx := context.Background()

	if err := svc.Register(ctx, reservation.Role("admin"), "x", "pw"); err == nil {
		t.Fatalf("unknown role accepted")
	}
	if err := svc.Register(ctx, reservation.RolePatient, "", "pw"); err == nil {
		t.Fatalf("empty username accepted")
	}
}

func TestVerify_Throttled(t *testing.T) {
	svc, _ := newService(t, 2)
	ctx := context.Background()
	_ = svc.Register(ctx, reservation.RolePatient, "bob", "pw")

	for i := 0; i < 2; i++ {
		if _, err := svc.Verify(ctx, reservation.RolePatient, "bob", "nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d err = %v", i, err)
		}
	}
	if _, err := svc.Verify(ctx, reservation.RolePatient, "bob", "pw"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("err = %v, want %v", err, ErrTooManyAttempts)
	}
	if _, err := svc.Verify(ctx, reservation.RoleCaregiver, "bob", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("other namespace throttled: %v", err)
	}
}
