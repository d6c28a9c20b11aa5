package memory

import (
	"context"
	"testing"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/store/storetest"
)

func TestStores(t *testing.T) {
	storetest.Run(t, func(t *testing.T) reservation.Stores { return New() })
}

func TestLedger_DropsEmptyDates(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	d := reservation.NewDate(2024, 6, 1)

	_ = l.Upload(ctx, "alice", d)
	_, _ = l.Claim(ctx, "alice", d)

	if len(l.slots) != 0 {
		t.Fatalf("slots = %v, want empty after last claim", l.slots)
	}
}

func TestEventLog_AssignsIDsInOrder(t *testing.T) {
	ctx := context.Background()
	e := NewEventLog()

	for _, typ := range []string{"A", "B", "C"} {
		if err := e.InsertEvent(ctx, reservation.EventLog{EventType: typ}); err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}

	evs := e.Events()
	if len(evs) != 3 {
		t.Fatalf("events = %d, want 3", len(evs))
	}
	for i, ev := range evs {
		if ev.ID != int64(i+1) || ev.CreatedAt.IsZero() {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
}
