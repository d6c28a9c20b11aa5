package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/config"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reserveOnce(t *testing.T, a *App) {
	t.Helper()
	ctx := context.Background()
	caregiver := reservation.Actor{Role: reservation.RoleCaregiver, Username: "alice"}
	patient := reservation.Actor{Role: reservation.RolePatient, Username: "bob"}

	if err := a.Identity.Register(ctx, reservation.RolePatient, "bob", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := a.Coordinator.AdjustDoses(ctx, caregiver, "Moderna", 1); err != nil {
		t.Fatalf("AdjustDoses: %v", err)
	}
	if err := a.Coordinator.UploadAvailability(ctx, caregiver, "2024-06-01"); err != nil {
		t.Fatalf("UploadAvailability: %v", err)
	}
	res, err := a.Coordinator.Reserve(ctx, patient, "2024-06-01", "Moderna")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.CaregiverUsername != "alice" {
		t.Fatalf("Reserve = %+v", res)
	}
}

func TestNew_Memory(t *testing.T) {
	a, err := New(context.Background(), config.Default(), quiet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.PgPool != nil || a.Redis != nil {
		t.Fatalf("memory backend opened external connections")
	}
	reserveOnce(t, a)
}

func TestNew_SQLiteFile(t *testing.T) {
	cfg := config.Default()
	cfg.StoreBackend = config.BackendSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "scheduler.db")

	a, err := New(context.Background(), cfg, quiet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reserveOnce(t, a)
	a.Close()

	// state survives a restart
	b, err := New(context.Background(), cfg, quiet())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	appts, err := b.Coordinator.ListAppointments(context.Background(),
		reservation.Actor{Role: reservation.RolePatient, Username: "bob"})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(appts) != 1 || appts[0].ID != 1 {
		t.Fatalf("appointments after reopen = %+v", appts)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	if !NewLogger("test", "debug").Enabled(ctx, slog.LevelDebug) {
		t.Fatalf("debug level not enabled")
	}
	if NewLogger("test", "").Enabled(ctx, slog.LevelDebug) {
		t.Fatalf("default level should be info")
	}
	if NewLogger("test", "error").Enabled(ctx, slog.LevelWarn) {
		t.Fatalf("warn enabled at error level")
	}
}
