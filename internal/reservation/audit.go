package reservation

import (
	"context"
	"fmt"
	"log/slog"
)

type ViolationKind string

const (
	ViolationSlotDoubleState ViolationKind = "slot_available_and_booked"
	ViolationSlotDoubleBook  ViolationKind = "slot_booked_twice"
	ViolationNegativeDoses   ViolationKind = "negative_dose_count"
)

type Violation struct {
	Kind   ViolationKind
	Detail string
}

// Report is the outcome of one Audit pass. An empty Violations slice means
// every checked invariant held at the time of reading.
type Report struct {
	Appointments int
	Vaccines     int
	Violations   []Violation
}

func (r Report) OK() bool { return len(r.Violations) == 0 }

// Audit reads the whole store and checks the cross-resource invariants.
// The reads are not a snapshot; run it against a quiet store for exact
// results.
func (c *Coordinator) Audit(ctx context.Context) (Report, error) {
	var report Report

	appts, err := c.book.ListAll(ctx)
	if err != nil {
		return Report{}, StorageFailure("list appointments", err)
	}
	report.Appointments = len(appts)

	seen := make(map[string]int64, len(appts))
	for _, a := range appts {
		key := a.CaregiverUsername + "/" + a.Date.String()
		if prev, dup := seen[key]; dup {
			report.Violations = append(report.Violations, Violation{
				Kind:   ViolationSlotDoubleBook,
				Detail: fmt.Sprintf("appointments %d and %d both hold %s", prev, a.ID, key),
			})
			continue
		}
		seen[key] = a.ID

		open, err := c.ledger.Exists(ctx, a.CaregiverUsername, a.Date)
		if err != nil {
			return Report{}, StorageFailure("check availability", err)
		}
		if open {
			report.Violations = append(report.Violations, Violation{
				Kind:   ViolationSlotDoubleState,
				Detail: fmt.Sprintf("appointment %d holds %s which is still available", a.ID, key),
			})
		}
	}

	stock, err := c.inventory.Snapshot(ctx)
	if err != nil {
		return Report{}, StorageFailure("snapshot inventory", err)
	}
	report.Vaccines = len(stock)
	for _, v := range stock {
		if v.DoseCount < 0 {
			report.Violations = append(report.Violations, Violation{
				Kind:   ViolationNegativeDoses,
				Detail: fmt.Sprintf("%s has %d doses", v.Name, v.DoseCount),
			})
		}
	}

	if !report.OK() {
		c.log.Error("audit found invariant violations", slog.Int("count", len(report.Violations)))
	}
	return report, nil
}
