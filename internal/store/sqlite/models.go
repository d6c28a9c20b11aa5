package sqlitestore

import (
	"time"

	"gorm.io/datatypes"
)

// Dates are stored as yyyy-mm-dd text so ordering and equality are plain
// string comparisons.

type identityRow struct {
	Role         string `gorm:"primaryKey;type:text"`
	Username     string `gorm:"primaryKey;type:text"`
	PasswordSalt []byte `gorm:"not null"`
	PasswordHash []byte `gorm:"not null"`
	CreatedAt    time.Time
}

func (identityRow) TableName() string { return "identities" }

type availabilityRow struct {
	SlotDate          string `gorm:"primaryKey;type:text"`
	CaregiverUsername string `gorm:"primaryKey;type:text"`
}

func (availabilityRow) TableName() string { return "availabilities" }

type vaccineRow struct {
	Name  string `gorm:"primaryKey;type:text"`
	Doses int    `gorm:"not null"`
}

func (vaccineRow) TableName() string { return "vaccines" }

type appointmentRow struct {
	ID                int64  `gorm:"primaryKey;autoIncrement:false"`
	CaregiverUsername string `gorm:"not null;uniqueIndex:idx_appointments_slot"`
	SlotDate          string `gorm:"not null;uniqueIndex:idx_appointments_slot"`
	PatientUsername   string `gorm:"not null;index"`
	VaccineName       string `gorm:"not null"`
	CreatedAt         time.Time
}

func (appointmentRow) TableName() string { return "appointments" }

type sequenceRow struct {
	Name  string `gorm:"primaryKey;type:text"`
	Value int64  `gorm:"not null"`
}

func (sequenceRow) TableName() string { return "sequences" }

type eventRow struct {
	ID            int64  `gorm:"primaryKey"`
	EventType     string `gorm:"not null;index"`
	AppointmentID *int64 `gorm:"index"`
	Payload       datatypes.JSON
	CreatedAt     time.Time
}

func (eventRow) TableName() string { return "event_logs" }
