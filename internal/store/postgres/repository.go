// Package pgstore implements the reservation stores on Postgres through pgx.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Stores exposes the repository as every reservation collaborator.
func (r *PgRepository) Stores() reservation.Stores {
	return reservation.Stores{
		Ledger:     (*ledger)(r),
		Inventory:  (*inventory)(r),
		Book:       (*book)(r),
		Identities: (*identities)(r),
		Events:     r,
	}
}

type (
	ledger     PgRepository
	inventory  PgRepository
	book       PgRepository
	identities PgRepository
)

// Helpers

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return reservation.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return reservation.ErrConflict
	}
	return err
}

func scanAppointment(row pgx.Row) (reservation.Appointment, error) {
	var (
		a    reservation.Appointment
		date time.Time
	)

	err := row.Scan(
		&a.ID,
		&a.CaregiverUsername,
		&a.PatientUsername,
		&date,
		&a.VaccineName,
	)
	if err != nil {
		return reservation.Appointment{}, translate(err)
	}

	a.Date = reservation.DateOf(date)
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]reservation.Appointment, error) {
	defer rows.Close()

	result := make([]reservation.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Ledger

func (l *ledger) Upload(ctx context.Context, caregiver string, date reservation.Date) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO availabilities (caregiver_username, slot_date)
		VALUES ($1, $2)
	`, caregiver, date.Time())
	return translate(err)
}

func (l *ledger) Restore(ctx context.Context, caregiver string, date reservation.Date) error {
	return l.Upload(ctx, caregiver, date)
}

func (l *ledger) ListAvailable(ctx context.Context, date reservation.Date) ([]string, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT caregiver_username
		FROM availabilities
		WHERE slot_date = $1
		ORDER BY caregiver_username COLLATE "C" ASC
	`, date.Time())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (l *ledger) Claim(ctx context.Context, caregiver string, date reservation.Date) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		DELETE FROM availabilities
		WHERE caregiver_username = $1 AND slot_date = $2
	`, caregiver, date.Time())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (l *ledger) Exists(ctx context.Context, caregiver string, date reservation.Date) (bool, error) {
	var ok bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM availabilities
			WHERE caregiver_username = $1 AND slot_date = $2
		)
	`, caregiver, date.Time()).Scan(&ok)
	return ok, err
}

// Inventory

func (i *inventory) Get(ctx context.Context, name string) (int, error) {
	var n int
	err := i.pool.QueryRow(ctx, `SELECT doses FROM vaccines WHERE name = $1`, name).Scan(&n)
	return n, translate(err)
}

func (i *inventory) Create(ctx context.Context, name string, initial int) error {
	_, err := i.pool.Exec(ctx, `INSERT INTO vaccines (name, doses) VALUES ($1, $2)`, name, initial)
	return translate(err)
}

func (i *inventory) Increase(ctx context.Context, name string, delta int) (int, error) {
	var n int
	err := i.pool.QueryRow(ctx, `
		UPDATE vaccines
		SET doses = doses + $2
		WHERE name = $1
		RETURNING doses
	`, name, delta).Scan(&n)
	return n, translate(err)
}

func (i *inventory) Decrease(ctx context.Context, name string, delta int) (int, error) {
	var n int
	err := i.pool.QueryRow(ctx, `
		UPDATE vaccines
		SET doses = doses - $2
		WHERE name = $1 AND doses >= $2
		RETURNING doses
	`, name, delta).Scan(&n)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// Either the vaccine is unknown or it has too few doses.
	current, err := i.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	return current, reservation.ErrInsufficientDoses
}

func (i *inventory) TryDecrement(ctx context.Context, name string) (bool, error) {
	tag, err := i.pool.Exec(ctx, `
		UPDATE vaccines
		SET doses = doses - 1
		WHERE name = $1 AND doses > 0
	`, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (i *inventory) RestoreOne(ctx context.Context, name string) error {
	_, err := i.Increase(ctx, name, 1)
	return err
}

func (i *inventory) Snapshot(ctx context.Context) ([]reservation.VaccineStock, error) {
	rows, err := i.pool.Query(ctx, `
		SELECT name, doses
		FROM vaccines
		ORDER BY name COLLATE "C" ASC
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (reservation.VaccineStock, error) {
		var v reservation.VaccineStock
		err := row.Scan(&v.Name, &v.DoseCount)
		return v, err
	})
}

// Book

func (b *book) NextID(ctx context.Context) (int64, error) {
	var id int64
	err := b.pool.QueryRow(ctx, `SELECT nextval('appointment_id_seq')`).Scan(&id)
	return id, err
}

func (b *book) Create(ctx context.Context, appt reservation.Appointment) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO appointments (id, caregiver_username, patient_username, slot_date, vaccine_name, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, appt.ID, appt.CaregiverUsername, appt.PatientUsername, appt.Date.Time(), appt.VaccineName)
	return translate(err)
}

func (b *book) Find(ctx context.Context, id int64) (reservation.Appointment, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT id, caregiver_username, patient_username, slot_date, vaccine_name
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (b *book) FindBySlot(ctx context.Context, caregiver string, date reservation.Date) (reservation.Appointment, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT id, caregiver_username, patient_username, slot_date, vaccine_name
		FROM appointments
		WHERE caregiver_username = $1 AND slot_date = $2
	`, caregiver, date.Time())
	return scanAppointment(row)
}

func (b *book) Delete(ctx context.Context, id int64) (reservation.Appointment, error) {
	row := b.pool.QueryRow(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		RETURNING id, caregiver_username, patient_username, slot_date, vaccine_name
	`, id)
	return scanAppointment(row)
}

func (b *book) ListForPatient(ctx context.Context, patient string) ([]reservation.Appointment, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, caregiver_username, patient_username, slot_date, vaccine_name
		FROM appointments
		WHERE patient_username = $1
		ORDER BY id DESC
	`, patient)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (b *book) ListForCaregiver(ctx context.Context, caregiver string) ([]reservation.Appointment, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, caregiver_username, patient_username, slot_date, vaccine_name
		FROM appointments
		WHERE caregiver_username = $1
		ORDER BY id DESC
	`, caregiver)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (b *book) ListAll(ctx context.Context) ([]reservation.Appointment, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, caregiver_username, patient_username, slot_date, vaccine_name
		FROM appointments
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Identities

func identityTable(role reservation.Role) (string, error) {
	switch role {
	case reservation.RoleCaregiver:
		return "caregivers", nil
	case reservation.RolePatient:
		return "patients", nil
	}
	return "", fmt.Errorf("unknown role %q", role)
}

func (s *identities) Exists(ctx context.Context, username string, role reservation.Role) (bool, error) {
	table, err := identityTable(role)
	if err != nil {
		return false, err
	}
	var ok bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE username = $1)`, username).Scan(&ok)
	return ok, err
}

func (s *identities) Insert(ctx context.Context, creds reservation.Credentials) error {
	table, err := identityTable(creds.Role)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+table+` (username, salt, hash) VALUES ($1, $2, $3)`,
		creds.Username, creds.PasswordSalt, creds.PasswordHash)
	return translate(err)
}

func (s *identities) FetchCredentials(ctx context.Context, username string, role reservation.Role) (reservation.Credentials, error) {
	table, err := identityTable(role)
	if err != nil {
		return reservation.Credentials{}, err
	}
	c := reservation.Credentials{Username: username, Role: role}
	err = s.pool.QueryRow(ctx,
		`SELECT salt, hash FROM `+table+` WHERE username = $1`, username).
		Scan(&c.PasswordSalt, &c.PasswordHash)
	if err != nil {
		return reservation.Credentials{}, translate(err)
	}
	return c, nil
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev reservation.EventLog) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3::jsonb, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Ping lets readiness probes share the repository's pool.
func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
