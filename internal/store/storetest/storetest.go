// Package storetest holds the behavior every reservation store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

// Factory returns an empty set of stores. It is called once per subtest.
type Factory func(t *testing.T) reservation.Stores

var day = reservation.NewDate(2024, time.June, 1)

func Run(t *testing.T, newStores Factory) {
	t.Run("ledger", func(t *testing.T) { testLedger(t, newStores(t)) })
	t.Run("ledger concurrent claim", func(t *testing.T) { testConcurrentClaim(t, newStores(t)) })
	t.Run("inventory", func(t *testing.T) { testInventory(t, newStores(t)) })
	t.Run("inventory concurrent decrement", func(t *testing.T) { testConcurrentDecrement(t, newStores(t)) })
	t.Run("book", func(t *testing.T) { testBook(t, newStores(t)) })
	t.Run("identities", func(t *testing.T) { testIdentities(t, newStores(t)) })
	t.Run("events", func(t *testing.T) { testEvents(t, newStores(t)) })
}

func testLedger(t *testing.T, s reservation.Stores) {
	ctx := context.Background()
	l := s.Ledger

	for _, c := range []string{"zed", "alice", "Bob"} {
		if err := l.Upload(ctx, c, day); err != nil {
			t.Fatalf("Upload(%s): %v", c, err)
		}
	}
	if err := l.Upload(ctx, "alice", day); !errors.Is(err, reservation.ErrConflict) {
		t.Fatalf("duplicate Upload err = %v, want %v", err, reservation.ErrConflict)
	}
	if err := l.Upload(ctx, "alice", day.AddDays(1)); err != nil {
		t.Fatalf("Upload next day: %v", err)
	}

	got, err := l.ListAvailable(ctx, day)
	if err != nil {
		t.Fatalf("ListAvailable: %v", err)
	}
	want := []string{"Bob", "alice", "zed"}
	if !equalStrings(got, want) {
		t.Fatalf("ListAvailable = %v, want %v", got, want)
	}

	if ok, err := l.Claim(ctx, "alice", day); err != nil || !ok {
		t.Fatalf("Claim = %v, %v, want true", ok, err)
	}
	if ok, err := l.Claim(ctx, "alice", day); err != nil || ok {
		t.Fatalf("second Claim = %v, %v, want false", ok, err)
	}
	if ok, _ := l.Exists(ctx, "alice", day); ok {
		t.Fatalf("claimed slot still exists")
	}
	if ok, _ := l.Exists(ctx, "alice", day.AddDays(1)); !ok {
		t.Fatalf("claim removed a different date")
	}

	if err := l.Restore(ctx, "alice", day); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := l.Restore(ctx, "alice", day); !errors.Is(err, reservation.ErrConflict) {
		t.Fatalf("Restore over open slot err = %v, want %v", err, reservation.ErrConflict)
	}

	empty, err := l.ListAvailable(ctx, day.AddDays(30))
	if err != nil || len(empty) != 0 {
		t.Fatalf("ListAvailable on empty date = %v, %v", empty, err)
	}
}

func testConcurrentClaim(t *testing.T, s reservation.Stores) {
	ctx := context.Background()
	if err := s.Ledger.Upload(ctx, "alice", day); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Ledger.Claim(ctx, "alice", day)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func testInventory(t *testing.T, s reservation.Stores) {
	ctx := context.Background()
	inv := s.Inventory

	if _, err := inv.Get(ctx, "Moderna"); !errors.Is(err, reservation.ErrNotFound) {
		t.Fatalf("Get unknown err = %v, want %v", err, reservation.ErrNotFound)
	}
	if ok, err := inv.TryDecrement(ctx, "Moderna"); err != nil || ok {
		t.Fatalf("TryDecrement unknown = %v, %v, want false", ok, err)
	}
	if _, err := inv.Increase(ctx, "Moderna", 1); !errors.Is(err, reservation.ErrNotFound) {
		t.Fatalf("Increase unknown err = %v, want %v", err, reservation.ErrNotFound)
	}

	if err := inv.Create(ctx, "Moderna", 1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := inv.Create(ctx, "Moderna", 3); !errors.Is(err, reservation.ErrConflict) {
		t.Fatalf("duplicate Create err = %v, want %v", err, reservation.ErrConflict)
	}

	if ok, err := inv.TryDecrement(ctx, "Moderna"); err != nil || !ok {
		t.Fatalf("TryDecrement = %v, %v, want true", ok, err)
	}
	if ok, err := inv.TryDecrement(ctx, "Moderna"); err != nil || ok {
		t.Fatalf("TryDecrement at zero = %v, %v, want false", ok, err)
	}
	if err := inv.RestoreOne(ctx, "Moderna"); err != nil {
		t.Fatalf("RestoreOne: %v", err)
	}

	if n, err := inv.Increase(ctx, "Moderna", 9); err != nil || n != 10 {
		t.Fatalf("Increase = %d, %v, want 10", n, err)
	}
	if _, err := inv.Decrease(ctx, "Moderna", 11); !errors.Is(err, reservation.ErrInsufficientDoses) {
		t.Fatalf("Decrease past zero err = %v, want %v", err, reservation.ErrInsufficientDoses)
	}
	if n, err := inv.Decrease(ctx, "Moderna", 4); err != nil || n != 6 {
		t.Fatalf("Decrease = %d, %v, want 6", n, err)
	}
	if _, err := inv.Decrease(ctx, "Ghost", 1); !errors.Is(err, reservation.ErrNotFound) {
		t.Fatalf("Decrease unknown err = %v, want %v", err, reservation.ErrNotFound)
	}

	if err := inv.Create(ctx, "Astra", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap, err := inv.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	want := []reservation.VaccineStock{{Name: "Astra", DoseCount: 0}, {Name: "Moderna", DoseCount: 6}}
	if len(snap) != len(want) || snap[0] != want[0] || snap[1] != want[1] {
		t.Fatalf("Snapshot = %+v, want %+v", snap, want)
	}
}

func testConcurrentDecrement(t *testing.T, s reservation.Stores) {
	ctx := context.Background()
	if err := s.Inventory.Create(ctx, "Pfizer", 5); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Inventory.TryDecrement(ctx, "Pfizer")
			if err != nil {
				t.Errorf("TryDecrement: %v", err)
				return
			}
			if ok {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if taken != 5 {
		t.Fatalf("taken = %d, want 5", taken)
	}
	if n, _ := s.Inventory.Get(ctx, "Pfizer"); n != 0 {
		t.Fatalf("doses left = %d, want 0", n)
	}
}

func testBook(t *testing.T, s reservation.Stores) {
	ctx := context.Background()
	b := s.Book

	var ids []int64
	for i, patient := range []string{"bob", "carl", "bob"} {
		id, err := b.NextID(ctx)
		if err != nil {
			t.Fatalf("NextID: %v", err)
		}
		if len(ids) > 0 && id <= ids[len(ids)-1] {
			t.Fatalf("NextID = %d after %d", id, ids[len(ids)-1])
		}
		ids = append(ids, id)

		appt := reservation.Appointment{
			ID:                id,
			CaregiverUsername: "alice",
			PatientUsername:   patient,
			Date:              day.AddDays(i),
			VaccineName:       "Moderna",
		}
		if err := b.Create(ctx, appt); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	clash := reservation.Appointment{ID: ids[2] + 100, CaregiverUsername: "alice", PatientUsername: "dora", Date: day, VaccineName: "X"}
	if err := b.Create(ctx, clash); !errors.Is(err, reservation.ErrConflict) {
		t.Fatalf("double-booked slot err = %v, want %v", err, reservation.ErrConflict)
	}

	got, err := b.Find(ctx, ids[1])
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.PatientUsername != "carl" || !got.Date.Equal(day.AddDays(1)) || got.VaccineName != "Moderna" {
		t.Fatalf("Find = %+v", got)
	}
	if _, err := b.Find(ctx, 9999); !errors.Is(err, reservation.ErrNotFound) {
		t.Fatalf("Find unknown err = %v, want %v", err, reservation.ErrNotFound)
	}

	bySlot, err := b.FindBySlot(ctx, "alice", day.AddDays(2))
	if err != nil || bySlot.ID != ids[2] {
		t.Fatalf("FindBySlot = %+v, %v", bySlot, err)
	}
	if _, err := b.FindBySlot(ctx, "dan", day); !errors.Is(err, reservation.ErrNotFound) {
		t.Fatalf("FindBySlot unknown err = %v", err)
	}

	mine, err := b.ListForPatient(ctx, "bob")
	if err != nil {
		t.Fatalf("ListForPatient: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != ids[2] || mine[1].ID != ids[0] {
		t.Fatalf("ListForPatient = %+v, want newest first", mine)
	}
	hers, _ := b.ListForCaregiver(ctx, "alice")
	if len(hers) != 3 || hers[0].ID != ids[2] {
		t.Fatalf("ListForCaregiver = %+v", hers)
	}
	all, _ := b.ListAll(ctx)
	if len(all) != 3 {
		t.Fatalf("ListAll = %+v", all)
	}

	deleted, err := b.Delete(ctx, ids[0])
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.ID != ids[0] || deleted.PatientUsername != "bob" {
		t.Fatalf("Delete returned %+v", deleted)
	}
	if _, err := b.Delete(ctx, ids[0]); !errors.Is(err, reservation.ErrNotFound) {
		t.Fatalf("second Delete err = %v, want %v", err, reservation.ErrNotFound)
	}

	next, err := b.NextID(ctx)
	if err != nil || next <= ids[2] {
		t.Fatalf("NextID after delete = %d, %v, want > %d", next, err, ids[2])
	}
}

func testIdentities(t *testing.T, s reservation.Stores) {
	ctx := context.Background()
	ids := s.Identities

	c := reservation.Credentials{Username: "sam", Role: reservation.RoleCaregiver, PasswordSalt: []byte{1, 2}, PasswordHash: []byte{3, 4}}
	if err := ids.Insert(ctx, c); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ids.Insert(ctx, c); !errors.Is(err, reservation.ErrConflict) {
		t.Fatalf("duplicate Insert err = %v, want %v", err, reservation.ErrConflict)
	}

	p := c
	p.Role = reservation.RolePatient
	if err := ids.Insert(ctx, p); err != nil {
		t.Fatalf("Insert patient with caregiver's name: %v", err)
	}

	if ok, err := ids.Exists(ctx, "sam", reservation.RoleCaregiver); err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if ok, _ := ids.Exists(ctx, "max", reservation.RolePatient); ok {
		t.Fatalf("Exists(max) = true")
	}

	got, err := ids.FetchCredentials(ctx, "sam", reservation.RoleCaregiver)
	if err != nil {
		t.Fatalf("FetchCredentials: %v", err)
	}
	if string(got.PasswordSalt) != string(c.PasswordSalt) || string(got.PasswordHash) != string(c.PasswordHash) {
		t.Fatalf("FetchCredentials = %+v", got)
	}
	if _, err := ids.FetchCredentials(ctx, "max", reservation.RolePatient); !errors.Is(err, reservation.ErrNotFound) {
		t.Fatalf("FetchCredentials unknown err = %v", err)
	}
}

func testEvents(t *testing.T, s reservation.Stores) {
	ctx := context.Background()
	id := int64(7)
	ev := reservation.EventLog{
		EventType:     reservation.EventAppointmentReserved,
		AppointmentID: &id,
		Payload:       []byte(`{"caregiver":"alice"}`),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.Events.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	ev.AppointmentID = nil
	ev.Payload = nil
	if err := s.Events.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("InsertEvent without appointment: %v", err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
