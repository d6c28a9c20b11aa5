package reservation

import "context"

// Store implementations report domain outcomes only through ErrConflict and
// ErrNotFound. Every other error is treated as a storage failure.

// Ledger tracks which caregiver is free on which date.
type Ledger interface {
	Upload(ctx context.Context, caregiver string, date Date) error
	// ListAvailable returns caregivers with an open slot, ascending by username
	// in byte order.
	ListAvailable(ctx context.Context, date Date) ([]string, error)
	// Claim removes the slot if present and reports whether it was.
	Claim(ctx context.Context, caregiver string, date Date) (bool, error)
	Restore(ctx context.Context, caregiver string, date Date) error
	Exists(ctx context.Context, caregiver string, date Date) (bool, error)
}

// Inventory tracks named vaccine stock counts. Counts never go below zero.
type Inventory interface {
	Get(ctx context.Context, name string) (int, error)
	Create(ctx context.Context, name string, initial int) error
	Increase(ctx context.Context, name string, delta int) (int, error)
	// Decrease fails with ErrInsufficientDoses when count would go negative.
	Decrease(ctx context.Context, name string, delta int) (int, error)
	// TryDecrement takes one dose iff count > 0.
	TryDecrement(ctx context.Context, name string) (bool, error)
	RestoreOne(ctx context.Context, name string) error
	// Snapshot returns every vaccine ordered by name.
	Snapshot(ctx context.Context) ([]VaccineStock, error)
}

// Book tracks booked appointments.
type Book interface {
	// NextID is strictly increasing for the lifetime of the store.
	NextID(ctx context.Context) (int64, error)
	Create(ctx context.Context, appt Appointment) error
	Find(ctx context.Context, id int64) (Appointment, error)
	FindBySlot(ctx context.Context, caregiver string, date Date) (Appointment, error)
	Delete(ctx context.Context, id int64) (Appointment, error)
	// ListForPatient and ListForCaregiver return newest first.
	ListForPatient(ctx context.Context, patient string) ([]Appointment, error)
	ListForCaregiver(ctx context.Context, caregiver string) ([]Appointment, error)
	ListAll(ctx context.Context) ([]Appointment, error)
}

// Identities is the persistence side of the identity store. Caregivers and
// patients are separate namespaces.
type Identities interface {
	Exists(ctx context.Context, username string, role Role) (bool, error)
	Insert(ctx context.Context, creds Credentials) error
	FetchCredentials(ctx context.Context, username string, role Role) (Credentials, error)
}

type EventRecorder interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Stores bundles one backend's implementation of every collaborator.
type Stores struct {
	Ledger     Ledger
	Inventory  Inventory
	Book       Book
	Identities Identities
	Events     EventRecorder
}
