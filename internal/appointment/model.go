package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Active reports whether the appointment still occupies its slot.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

type Appointment struct {
	ID               uuid.UUID
	BookingID        string
	PatientID        string
	PatientName      string
	PatientEmail     string
	PatientPhone     string
	DoctorID         string
	Location         string
	StartTime        time.Time
	DurationMinutes  int
	Status           Status
	FormsCompletedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// NewAppointment is what the booking flow knows when it creates a row.
type NewAppointment struct {
	BookingID       string
	PatientID       string
	PatientName     string
	PatientEmail    string
	PatientPhone    string
	DoctorID        string
	Location        string
	StartTime       time.Time
	DurationMinutes int
}
