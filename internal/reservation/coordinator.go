package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/config"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/lock"
)

const (
	EventAppointmentReserved  = "APPOINTMENT_RESERVED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAvailabilityUploaded = "AVAILABILITY_UPLOADED"
	EventDosesAdjusted        = "DOSES_ADJUSTED"
)

// errSlotTaken means a concurrent reservation claimed the candidate slot first.
var errSlotTaken = errors.New("slot claimed concurrently")

type Coordinator struct {
	ledger    Ledger
	inventory Inventory
	book      Book
	events    EventRecorder
	locker    lock.Locker
	cfg       config.Config
	log       *slog.Logger
}

func NewCoordinator(stores Stores, locker lock.Locker, cfg config.Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		ledger:    stores.Ledger,
		inventory: stores.Inventory,
		book:      stores.Book,
		events:    stores.Events,
		locker:    locker,
		cfg:       cfg,
		log:       log,
	}
}

// Reserve books the first available caregiver on date for the patient and
// consumes one dose of vaccine.
//
// The dose is taken before the slot. If the slot was claimed concurrently the
// dose goes back and the next caregiver in order is tried, so a failed
// attempt never leaves inventory short or a slot ghosted.
func (c *Coordinator) Reserve(ctx context.Context, actor Actor, rawDate, vaccine string) (Reservation, error) {
	if !actor.Authenticated() {
		return Reservation{}, ErrUnauthorized
	}
	if actor.Role != RolePatient {
		return Reservation{}, ErrUnauthorized
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return Reservation{}, err
	}
	vaccine = strings.TrimSpace(vaccine)
	if vaccine == "" {
		return Reservation{}, validationError("vaccine is required")
	}

	candidates, err := c.ledger.ListAvailable(ctx, date)
	if err != nil {
		return Reservation{}, StorageFailure("list available caregivers", err)
	}
	if len(candidates) == 0 {
		return Reservation{}, ErrNoCaregiverAvailable
	}

	for _, caregiver := range candidates {
		ok, err := c.inventory.TryDecrement(ctx, vaccine)
		if err != nil {
			return Reservation{}, StorageFailure("take dose", err)
		}
		if !ok {
			return Reservation{}, ErrInsufficientDoses
		}

		appt, err := c.bookSlot(ctx, caregiver, actor.Username, date, vaccine)
		if err == nil {
			c.logEvent(ctx, &appt.ID, EventAppointmentReserved, map[string]any{
				"caregiver": appt.CaregiverUsername,
				"patient":   appt.PatientUsername,
				"date":      appt.Date.String(),
				"vaccine":   appt.VaccineName,
			})
			return Reservation{AppointmentID: appt.ID, CaregiverUsername: caregiver}, nil
		}

		if rbErr := c.inventory.RestoreOne(ctx, vaccine); rbErr != nil {
			c.log.Error("failed to return dose after aborted reservation",
				slog.String("vaccine", vaccine), slog.Any("err", rbErr))
		}

		if errors.Is(err, errSlotTaken) || errors.Is(err, lock.ErrNotAcquired) {
			c.log.Debug("candidate slot lost to concurrent reservation",
				slog.String("caregiver", caregiver), slog.String("date", date.String()))
			continue
		}
		return Reservation{}, StorageFailure("reserve", err)
	}

	return Reservation{}, ErrNoCaregiverAvailable
}

// bookSlot claims the slot and writes the appointment under the slot lock.
// A failure after the claim puts the slot back before returning.
func (c *Coordinator) bookSlot(ctx context.Context, caregiver, patient string, date Date, vaccine string) (Appointment, error) {
	var created Appointment

	err := c.locker.WithSlotLock(ctx, lock.SlotKey(caregiver, date.String()), func(lockCtx context.Context) error {
		claimed, err := c.ledger.Claim(lockCtx, caregiver, date)
		if err != nil {
			return fmt.Errorf("claim slot: %w", err)
		}
		if !claimed {
			return errSlotTaken
		}

		appt := Appointment{
			CaregiverUsername: caregiver,
			PatientUsername:   patient,
			Date:              date,
			VaccineName:       vaccine,
		}
		appt.ID, err = c.book.NextID(lockCtx)
		if err == nil {
			err = c.book.Create(lockCtx, appt)
		}
		if err != nil {
			if rbErr := c.ledger.Restore(lockCtx, caregiver, date); rbErr != nil {
				c.log.Error("failed to restore slot after aborted reservation",
					slog.String("caregiver", caregiver), slog.String("date", date.String()), slog.Any("err", rbErr))
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})
	return created, err
}

// Cancel deletes the appointment and gives its slot and dose back.
func (c *Coordinator) Cancel(ctx context.Context, actor Actor, id int64) error {
	if !actor.Authenticated() {
		return ErrUnauthorized
	}

	appt, err := c.book.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return StorageFailure("load appointment", err)
	}

	if c.cfg.CancelRequiresOwnership && !isParty(actor, appt) {
		return ErrUnauthorized
	}

	err = c.locker.WithSlotLock(ctx, lock.SlotKey(appt.CaregiverUsername, appt.Date.String()), func(lockCtx context.Context) error {
		deleted, err := c.book.Delete(lockCtx, id)
		if err != nil {
			return err
		}

		if err := c.ledger.Restore(lockCtx, deleted.CaregiverUsername, deleted.Date); err != nil {
			if !errors.Is(err, ErrConflict) {
				c.undoDelete(lockCtx, deleted)
				return fmt.Errorf("restore availability: %w", err)
			}
			c.log.Warn("availability already present while cancelling",
				slog.Int64("appointment_id", id),
				slog.String("caregiver", deleted.CaregiverUsername),
				slog.String("date", deleted.Date.String()))
		}

		if err := c.inventory.RestoreOne(lockCtx, deleted.VaccineName); err != nil {
			if _, claimErr := c.ledger.Claim(lockCtx, deleted.CaregiverUsername, deleted.Date); claimErr != nil {
				c.log.Error("failed to re-claim slot after aborted cancel", slog.Any("err", claimErr))
			}
			c.undoDelete(lockCtx, deleted)
			return fmt.Errorf("restore dose: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return StorageFailure("cancel", err)
	}

	c.logEvent(ctx, &id, EventAppointmentCancelled, map[string]any{
		"caregiver":    appt.CaregiverUsername,
		"patient":      appt.PatientUsername,
		"date":         appt.Date.String(),
		"vaccine":      appt.VaccineName,
		"cancelled_by": string(actor.Role) + ":" + actor.Username,
	})
	return nil
}

func (c *Coordinator) undoDelete(ctx context.Context, appt Appointment) {
	if err := c.book.Create(ctx, appt); err != nil {
		c.log.Error("failed to reinstate appointment after aborted cancel",
			slog.Int64("appointment_id", appt.ID), slog.Any("err", err))
	}
}

func isParty(actor Actor, appt Appointment) bool {
	switch actor.Role {
	case RolePatient:
		return appt.PatientUsername == actor.Username
	case RoleCaregiver:
		return appt.CaregiverUsername == actor.Username
	}
	return false
}

// UploadAvailability opens a slot for the calling caregiver. A date that is
// already open, or already booked, is a conflict.
func (c *Coordinator) UploadAvailability(ctx context.Context, actor Actor, rawDate string) error {
	if !actor.Authenticated() || actor.Role != RoleCaregiver {
		return ErrUnauthorized
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return err
	}

	err = c.locker.WithSlotLock(ctx, lock.SlotKey(actor.Username, date.String()), func(lockCtx context.Context) error {
		_, err := c.book.FindBySlot(lockCtx, actor.Username, date)
		switch {
		case err == nil:
			return ErrConflict
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("check booked slot: %w", err)
		}
		return c.ledger.Upload(lockCtx, actor.Username, date)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrConflict
		}
		return StorageFailure("upload availability", err)
	}

	c.logEvent(ctx, nil, EventAvailabilityUploaded, map[string]any{
		"caregiver": actor.Username,
		"date":      date.String(),
	})
	return nil
}

// AdjustDoses adds delta doses to a vaccine, creating it on first use. It
// returns the resulting count.
func (c *Coordinator) AdjustDoses(ctx context.Context, actor Actor, vaccine string, delta int) (int, error) {
	if !actor.Authenticated() || actor.Role != RoleCaregiver {
		return 0, ErrUnauthorized
	}
	vaccine = strings.TrimSpace(vaccine)
	if vaccine == "" {
		return 0, validationError("vaccine is required")
	}
	if delta == 0 {
		return 0, validationError("dose change must be non-zero")
	}

	count, err := c.adjust(ctx, vaccine, delta)
	if err != nil {
		return 0, err
	}

	c.logEvent(ctx, nil, EventDosesAdjusted, map[string]any{
		"vaccine": vaccine,
		"delta":   delta,
		"count":   count,
	})
	return count, nil
}

func (c *Coordinator) adjust(ctx context.Context, vaccine string, delta int) (int, error) {
	_, err := c.inventory.Get(ctx, vaccine)
	switch {
	case errors.Is(err, ErrNotFound):
		if delta < 0 {
			return 0, validationError("dose count cannot go below zero")
		}
		err = c.inventory.Create(ctx, vaccine, delta)
		if err == nil {
			return delta, nil
		}
		if !errors.Is(err, ErrConflict) {
			return 0, StorageFailure("create vaccine", err)
		}
		// Lost a first-insert race; the vaccine exists now.
	case err != nil:
		return 0, StorageFailure("load vaccine", err)
	}

	if delta > 0 {
		count, err := c.inventory.Increase(ctx, vaccine, delta)
		if err != nil {
			return 0, StorageFailure("increase doses", err)
		}
		return count, nil
	}

	count, err := c.inventory.Decrease(ctx, vaccine, -delta)
	if err != nil {
		if errors.Is(err, ErrInsufficientDoses) {
			return 0, validationError("dose count cannot go below zero")
		}
		return 0, StorageFailure("decrease doses", err)
	}
	return count, nil
}

// SearchSchedule lists caregivers free on date and every vaccine's stock.
func (c *Coordinator) SearchSchedule(ctx context.Context, actor Actor, rawDate string) (Schedule, error) {
	if !actor.Authenticated() {
		return Schedule{}, ErrUnauthorized
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return Schedule{}, err
	}

	caregivers, err := c.ledger.ListAvailable(ctx, date)
	if err != nil {
		return Schedule{}, StorageFailure("list available caregivers", err)
	}
	vaccines, err := c.inventory.Snapshot(ctx)
	if err != nil {
		return Schedule{}, StorageFailure("snapshot inventory", err)
	}

	return Schedule{Date: date, Caregivers: caregivers, Vaccines: vaccines}, nil
}

// ListAppointments returns the actor's appointments, newest first.
func (c *Coordinator) ListAppointments(ctx context.Context, actor Actor) ([]Appointment, error) {
	var (
		appts []Appointment
		err   error
	)
	switch {
	case !actor.Authenticated():
		return nil, ErrUnauthorized
	case actor.Role == RolePatient:
		appts, err = c.book.ListForPatient(ctx, actor.Username)
	default:
		appts, err = c.book.ListForCaregiver(ctx, actor.Username)
	}
	if err != nil {
		return nil, StorageFailure("list appointments", err)
	}
	return appts, nil
}

func (c *Coordinator) logEvent(ctx context.Context, appointmentID *int64, eventType string, payload map[string]any) {
	if c.events == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("failed to marshal event payload", slog.String("event", eventType), slog.Any("err", err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	}

	if err := c.events.InsertEvent(ctx, ev); err != nil {
		c.log.Warn("failed to record event", slog.String("event", eventType), slog.Any("err", err))
	}
}
