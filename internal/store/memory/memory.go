// Package memory keeps every reservation collaborator in process memory.
// Each type guards its own state with one mutex, so every method is atomic
// on its own resource and nothing else.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

// New returns a fresh, empty set of stores.
func New() reservation.Stores {
	return reservation.Stores{
		Ledger:     NewLedger(),
		Inventory:  NewInventory(),
		Book:       NewBook(),
		Identities: NewIdentities(),
		Events:     NewEventLog(),
	}
}

type Ledger struct {
	mu    sync.Mutex
	slots map[string]map[string]struct{} // date -> caregivers
}

func NewLedger() *Ledger {
	return &Ledger{slots: make(map[string]map[string]struct{})}
}

func (l *Ledger) Upload(_ context.Context, caregiver string, date reservation.Date) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.add(caregiver, date) {
		return reservation.ErrConflict
	}
	return nil
}

func (l *Ledger) Restore(ctx context.Context, caregiver string, date reservation.Date) error {
	return l.Upload(ctx, caregiver, date)
}

func (l *Ledger) add(caregiver string, date reservation.Date) bool {
	day := l.slots[date.String()]
	if day == nil {
		day = make(map[string]struct{})
		l.slots[date.String()] = day
	}
	if _, ok := day[caregiver]; ok {
		return false
	}
	day[caregiver] = struct{}{}
	return true
}

func (l *Ledger) ListAvailable(_ context.Context, date reservation.Date) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.slots[date.String()]
	out := make([]string, 0, len(day))
	for c := range day {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (l *Ledger) Claim(_ context.Context, caregiver string, date reservation.Date) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.slots[date.String()]
	if _, ok := day[caregiver]; !ok {
		return false, nil
	}
	delete(day, caregiver)
	if len(day) == 0 {
		delete(l.slots, date.String())
	}
	return true, nil
}

func (l *Ledger) Exists(_ context.Context, caregiver string, date reservation.Date) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.slots[date.String()][caregiver]
	return ok, nil
}

type Inventory struct {
	mu    sync.Mutex
	doses map[string]int
}

func NewInventory() *Inventory {
	return &Inventory{doses: make(map[string]int)}
}

func (i *Inventory) Get(_ context.Context, name string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	n, ok := i.doses[name]
	if !ok {
		return 0, reservation.ErrNotFound
	}
	return n, nil
}

func (i *Inventory) Create(_ context.Context, name string, initial int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.doses[name]; ok {
		return reservation.ErrConflict
	}
	i.doses[name] = initial
	return nil
}

func (i *Inventory) Increase(_ context.Context, name string, delta int) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	n, ok := i.doses[name]
	if !ok {
		return 0, reservation.ErrNotFound
	}
	n += delta
	i.doses[name] = n
	return n, nil
}

func (i *Inventory) Decrease(_ context.Context, name string, delta int) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	n, ok := i.doses[name]
	if !ok {
		return 0, reservation.ErrNotFound
	}
	if n < delta {
		return n, reservation.ErrInsufficientDoses
	}
	n -= delta
	i.doses[name] = n
	return n, nil
}

func (i *Inventory) TryDecrement(_ context.Context, name string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	n, ok := i.doses[name]
	if !ok || n <= 0 {
		return false, nil
	}
	i.doses[name] = n - 1
	return true, nil
}

func (i *Inventory) RestoreOne(ctx context.Context, name string) error {
	_, err := i.Increase(ctx, name, 1)
	return err
}

func (i *Inventory) Snapshot(_ context.Context) ([]reservation.VaccineStock, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]reservation.VaccineStock, 0, len(i.doses))
	for name, n := range i.doses {
		out = append(out, reservation.VaccineStock{Name: name, DoseCount: n})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

type Book struct {
	mu     sync.Mutex
	lastID int64
	byID   map[int64]reservation.Appointment
}

func NewBook() *Book {
	return &Book{byID: make(map[int64]reservation.Appointment)}
}

func (b *Book) NextID(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	return b.lastID, nil
}

func (b *Book) Create(_ context.Context, appt reservation.Appointment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byID[appt.ID]; ok {
		return reservation.ErrConflict
	}
	for _, a := range b.byID {
		if a.CaregiverUsername == appt.CaregiverUsername && a.Date.Equal(appt.Date) {
			return reservation.ErrConflict
		}
	}
	b.byID[appt.ID] = appt
	return nil
}

func (b *Book) Find(_ context.Context, id int64) (reservation.Appointment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.byID[id]
	if !ok {
		return reservation.Appointment{}, reservation.ErrNotFound
	}
	return a, nil
}

func (b *Book) FindBySlot(_ context.Context, caregiver string, date reservation.Date) (reservation.Appointment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.byID {
		if a.CaregiverUsername == caregiver && a.Date.Equal(date) {
			return a, nil
		}
	}
	return reservation.Appointment{}, reservation.ErrNotFound
}

func (b *Book) Delete(_ context.Context, id int64) (reservation.Appointment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.byID[id]
	if !ok {
		return reservation.Appointment{}, reservation.ErrNotFound
	}
	delete(b.byID, id)
	return a, nil
}

func (b *Book) ListForPatient(_ context.Context, patient string) ([]reservation.Appointment, error) {
	return b.filter(func(a reservation.Appointment) bool { return a.PatientUsername == patient }), nil
}

func (b *Book) ListForCaregiver(_ context.Context, caregiver string) ([]reservation.Appointment, error) {
	return b.filter(func(a reservation.Appointment) bool { return a.CaregiverUsername == caregiver }), nil
}

func (b *Book) ListAll(_ context.Context) ([]reservation.Appointment, error) {
	return b.filter(func(reservation.Appointment) bool { return true }), nil
}

// filter returns matching appointments, newest first.
func (b *Book) filter(keep func(reservation.Appointment) bool) []reservation.Appointment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]reservation.Appointment, 0)
	for _, a := range b.byID {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

type identityKey struct {
	role     reservation.Role
	username string
}

type Identities struct {
	mu    sync.Mutex
	creds map[identityKey]reservation.Credentials
}

func NewIdentities() *Identities {
	return &Identities{creds: make(map[identityKey]reservation.Credentials)}
}

func (s *Identities) Exists(_ context.Context, username string, role reservation.Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.creds[identityKey{role, username}]
	return ok, nil
}

func (s *Identities) Insert(_ context.Context, creds reservation.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := identityKey{creds.Role, creds.Username}
	if _, ok := s.creds[k]; ok {
		return reservation.ErrConflict
	}
	s.creds[k] = creds
	return nil
}

func (s *Identities) FetchCredentials(_ context.Context, username string, role reservation.Role) (reservation.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[identityKey{role, username}]
	if !ok {
		return reservation.Credentials{}, reservation.ErrNotFound
	}
	return c, nil
}

// EventLog keeps recorded events in insertion order.
type EventLog struct {
	mu     sync.Mutex
	events []reservation.EventLog
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (e *EventLog) InsertEvent(_ context.Context, ev reservation.EventLog) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev.ID = int64(len(e.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	e.events = append(e.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (e *EventLog) Events() []reservation.EventLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]reservation.EventLog(nil), e.events...)
}
