// Package sqlitestore implements the reservation stores on gorm over sqlite.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

const appointmentSequence = "appointment"

// Migrate creates the schema and seeds the appointment id sequence.
func Migrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(
		&identityRow{},
		&availabilityRow{},
		&vaccineRow{},
		&appointmentRow{},
		&sequenceRow{},
		&eventRow{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	err = db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&sequenceRow{Name: appointmentSequence, Value: 0}).
		Error
	if err != nil {
		return fmt.Errorf("seed sequence: %w", err)
	}
	return nil
}

// New returns every store backed by db. db must have been opened with
// TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
func New(db *gorm.DB) reservation.Stores {
	s := &Store{db: db}
	return reservation.Stores{
		Ledger:     (*Ledger)(s),
		Inventory:  (*Inventory)(s),
		Book:       (*Book)(s),
		Identities: (*Identities)(s),
		Events:     (*Events)(s),
	}
}

type Store struct {
	db *gorm.DB
}

type (
	Ledger     Store
	Inventory  Store
	Book       Store
	Identities Store
	Events     Store
)

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return reservation.ErrConflict
	case errors.Is(err, gorm.ErrRecordNotFound):
		return reservation.ErrNotFound
	}
	return err
}

// Ledger

func (l *Ledger) Upload(ctx context.Context, caregiver string, date reservation.Date) error {
	row := availabilityRow{SlotDate: date.String(), CaregiverUsername: caregiver}
	return translate(l.db.WithContext(ctx).Create(&row).Error)
}

func (l *Ledger) Restore(ctx context.Context, caregiver string, date reservation.Date) error {
	return l.Upload(ctx, caregiver, date)
}

func (l *Ledger) ListAvailable(ctx context.Context, date reservation.Date) ([]string, error) {
	var names []string
	err := l.db.WithContext(ctx).
		Model(&availabilityRow{}).
		Where("slot_date = ?", date.String()).
		Order("caregiver_username ASC").
		Pluck("caregiver_username", &names).
		Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (l *Ledger) Claim(ctx context.Context, caregiver string, date reservation.Date) (bool, error) {
	res := l.db.WithContext(ctx).
		Where("slot_date = ? AND caregiver_username = ?", date.String(), caregiver).
		Delete(&availabilityRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (l *Ledger) Exists(ctx context.Context, caregiver string, date reservation.Date) (bool, error) {
	var n int64
	err := l.db.WithContext(ctx).
		Model(&availabilityRow{}).
		Where("slot_date = ? AND caregiver_username = ?", date.String(), caregiver).
		Count(&n).
		Error
	return n > 0, err
}

// Inventory

func (i *Inventory) Get(ctx context.Context, name string) (int, error) {
	var row vaccineRow
	if err := i.db.WithContext(ctx).First(&row, "name = ?", name).Error; err != nil {
		return 0, translate(err)
	}
	return row.Doses, nil
}

func (i *Inventory) Create(ctx context.Context, name string, initial int) error {
	return translate(i.db.WithContext(ctx).Create(&vaccineRow{Name: name, Doses: initial}).Error)
}

func (i *Inventory) Increase(ctx context.Context, name string, delta int) (int, error) {
	var count int
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&vaccineRow{}).
			Where("name = ?", name).
			Update("doses", gorm.Expr("doses + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return reservation.ErrNotFound
		}
		var row vaccineRow
		if err := tx.First(&row, "name = ?", name).Error; err != nil {
			return err
		}
		count = row.Doses
		return nil
	})
	return count, translate(err)
}

func (i *Inventory) Decrease(ctx context.Context, name string, delta int) (int, error) {
	var count int
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row vaccineRow
		if err := tx.First(&row, "name = ?", name).Error; err != nil {
			return err
		}
		if row.Doses < delta {
			count = row.Doses
			return reservation.ErrInsufficientDoses
		}
		res := tx.Model(&vaccineRow{}).
			Where("name = ? AND doses >= ?", name, delta).
			Update("doses", gorm.Expr("doses - ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return reservation.ErrInsufficientDoses
		}
		count = row.Doses - delta
		return nil
	})
	return count, translate(err)
}

func (i *Inventory) TryDecrement(ctx context.Context, name string) (bool, error) {
	res := i.db.WithContext(ctx).
		Model(&vaccineRow{}).
		Where("name = ? AND doses > 0", name).
		Update("doses", gorm.Expr("doses - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (i *Inventory) RestoreOne(ctx context.Context, name string) error {
	_, err := i.Increase(ctx, name, 1)
	return err
}

func (i *Inventory) Snapshot(ctx context.Context) ([]reservation.VaccineStock, error) {
	var rows []vaccineRow
	if err := i.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]reservation.VaccineStock, 0, len(rows))
	for _, r := range rows {
		out = append(out, reservation.VaccineStock{Name: r.Name, DoseCount: r.Doses})
	}
	return out, nil
}

// Book

func (b *Book) NextID(ctx context.Context) (int64, error) {
	var next int64
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sequenceRow{}).
			Where("name = ?", appointmentSequence).
			Update("value", gorm.Expr("value + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("appointment sequence missing; run Migrate")
		}
		var row sequenceRow
		if err := tx.First(&row, "name = ?", appointmentSequence).Error; err != nil {
			return err
		}
		next = row.Value
		return nil
	})
	return next, err
}

func (b *Book) Create(ctx context.Context, appt reservation.Appointment) error {
	row := appointmentRow{
		ID:                appt.ID,
		CaregiverUsername: appt.CaregiverUsername,
		SlotDate:          appt.Date.String(),
		PatientUsername:   appt.PatientUsername,
		VaccineName:       appt.VaccineName,
	}
	return translate(b.db.WithContext(ctx).Create(&row).Error)
}

func (b *Book) Find(ctx context.Context, id int64) (reservation.Appointment, error) {
	var row appointmentRow
	if err := b.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return reservation.Appointment{}, translate(err)
	}
	return row.toDomain()
}

func (b *Book) FindBySlot(ctx context.Context, caregiver string, date reservation.Date) (reservation.Appointment, error) {
	var row appointmentRow
	err := b.db.WithContext(ctx).
		First(&row, "caregiver_username = ? AND slot_date = ?", caregiver, date.String()).
		Error
	if err != nil {
		return reservation.Appointment{}, translate(err)
	}
	return row.toDomain()
}

func (b *Book) Delete(ctx context.Context, id int64) (reservation.Appointment, error) {
	var row appointmentRow
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&appointmentRow{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return reservation.Appointment{}, translate(err)
	}
	return row.toDomain()
}

func (b *Book) ListForPatient(ctx context.Context, patient string) ([]reservation.Appointment, error) {
	return b.list(ctx, "patient_username = ?", patient)
}

func (b *Book) ListForCaregiver(ctx context.Context, caregiver string) ([]reservation.Appointment, error) {
	return b.list(ctx, "caregiver_username = ?", caregiver)
}

func (b *Book) ListAll(ctx context.Context) ([]reservation.Appointment, error) {
	return b.list(ctx, "1 = 1")
}

func (b *Book) list(ctx context.Context, where string, args ...any) ([]reservation.Appointment, error) {
	var rows []appointmentRow
	if err := b.db.WithContext(ctx).Where(where, args...).Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]reservation.Appointment, 0, len(rows))
	for _, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r appointmentRow) toDomain() (reservation.Appointment, error) {
	d, err := reservation.ParseDate(r.SlotDate)
	if err != nil {
		return reservation.Appointment{}, fmt.Errorf("appointment %d: stored date: %w", r.ID, err)
	}
	return reservation.Appointment{
		ID:                r.ID,
		CaregiverUsername: r.CaregiverUsername,
		PatientUsername:   r.PatientUsername,
		Date:              d,
		VaccineName:       r.VaccineName,
	}, nil
}

// Identities

func (s *Identities) Exists(ctx context.Context, username string, role reservation.Role) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&identityRow{}).
		Where("role = ? AND username = ?", string(role), username).
		Count(&n).
		Error
	return n > 0, err
}

func (s *Identities) Insert(ctx context.Context, creds reservation.Credentials) error {
	row := identityRow{
		Role:         string(creds.Role),
		Username:     creds.Username,
		PasswordSalt: creds.PasswordSalt,
		PasswordHash: creds.PasswordHash,
	}
	return translate(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Identities) FetchCredentials(ctx context.Context, username string, role reservation.Role) (reservation.Credentials, error) {
	var row identityRow
	err := s.db.WithContext(ctx).First(&row, "role = ? AND username = ?", string(role), username).Error
	if err != nil {
		return reservation.Credentials{}, translate(err)
	}
	return reservation.Credentials{
		Username:     row.Username,
		Role:         reservation.Role(row.Role),
		PasswordSalt: row.PasswordSalt,
		PasswordHash: row.PasswordHash,
	}, nil
}

// Events

func (e *Events) InsertEvent(ctx context.Context, ev reservation.EventLog) error {
	row := eventRow{
		EventType:     ev.EventType,
		AppointmentID: ev.AppointmentID,
		Payload:       datatypes.JSON(ev.Payload),
		CreatedAt:     ev.CreatedAt,
	}
	return e.db.WithContext(ctx).Create(&row).Error
}

// List returns recorded events oldest first.
func (e *Events) List(ctx context.Context) ([]reservation.EventLog, error) {
	var rows []eventRow
	if err := e.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]reservation.EventLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, reservation.EventLog{
			ID:            r.ID,
			EventType:     r.EventType,
			AppointmentID: r.AppointmentID,
			Payload:       []byte(r.Payload),
			CreatedAt:     r.CreatedAt,
		})
	}
	return out, nil
}
