package availability

import "time"

// Slot is one bookable (doctor, start) row of the schedule table.
type Slot struct {
	Doctor          string
	Start           time.Time
	Location        string
	Available       bool
	CapacityMinutes int
	Kind            string

	// Set while the slot is held by a booking; cleared on cancel.
	BookingID  string
	PatientRef string
	BookedAt   *time.Time
}

func (s Slot) matches(doctor string, start time.Time) bool {
	return sameDoctor(s.Doctor, doctor) && s.Start.Equal(start)
}

type BookRequest struct {
	Doctor          string
	Start           time.Time
	DurationMinutes int
	PatientRef      string
}

type BookingConfirmation struct {
	BookingID       string
	Doctor          string
	Start           time.Time
	Location        string
	DurationMinutes int
	PatientRef      string
	BookedAt        time.Time
}
