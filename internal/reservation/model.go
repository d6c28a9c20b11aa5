package reservation

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleCaregiver Role = "caregiver"
	RolePatient   Role = "patient"
)

func (r Role) Valid() bool {
	return r == RoleCaregiver || r == RolePatient
}

// Actor is the authenticated identity a coordinator call runs on behalf of.
// The zero value is unauthenticated.
type Actor struct {
	Role     Role
	Username string
}

func (a Actor) Authenticated() bool {
	return a.Role.Valid() && a.Username != ""
}

// Credentials is the stored form of a caregiver or patient. Salt and hash
// are opaque to everything except the identity package.
type Credentials struct {
	Username     string
	Role         Role
	PasswordSalt []byte
	PasswordHash []byte
}

const dateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day component.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate accepts yyyy-m-d with one or two digit month and day.
// Dates that do not exist on the calendar are rejected.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-1-2", s)
	if err != nil {
		return Date{}, validationError(fmt.Sprintf("invalid date %q", s))
	}
	return DateOf(t), nil
}

func (d Date) Time() time.Time { return d.t }

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) String() string { return d.t.Format(dateLayout) }

func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Availability is an open slot for one caregiver on one date.
type Availability struct {
	CaregiverUsername string
	Date              Date
}

type VaccineStock struct {
	Name      string
	DoseCount int
}

type Appointment struct {
	ID                int64
	CaregiverUsername string
	PatientUsername   string
	Date              Date
	VaccineName       string
}

// Reservation is what a successful reserve reports back to the patient.
type Reservation struct {
	AppointmentID     int64
	CaregiverUsername string
}

// Schedule is the read model returned by SearchSchedule.
type Schedule struct {
	Date       Date
	Caregivers []string
	Vaccines   []VaccineStock
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	Payload       []byte
	CreatedAt     time.Time
}
