package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/db"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/store/storetest"
)

// Runs against a live database only when VACCINE_TEST_POSTGRES_DSN is set.
// The tables it touches are truncated before every subtest.
func TestStores(t *testing.T) {
	dsn := os.Getenv("VACCINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VACCINE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run must be a no-op
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}

	repo := NewPgRepository(pool)
	storetest.Run(t, func(t *testing.T) reservation.Stores {
		_, err := pool.Exec(ctx, `
			TRUNCATE caregivers, patients, availabilities, vaccines, appointments, event_logs
		`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return repo.Stores()
	})
}

func TestIdentityTable(t *testing.T) {
	if tbl, err := identityTable(reservation.RoleCaregiver); err != nil || tbl != "caregivers" {
		t.Fatalf("caregiver table = %q, %v", tbl, err)
	}
	if tbl, err := identityTable(reservation.RolePatient); err != nil || tbl != "patients" {
		t.Fatalf("patient table = %q, %v", tbl, err)
	}
	if _, err := identityTable("admin"); err == nil {
		t.Fatalf("unknown role accepted")
	}
}
