package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-reminders/internal/appointment"
	"github.com/hackgods/clinic-reminders/internal/eventlog"
)

type AppointmentResponse struct {
	ID               uuid.UUID  `json:"id"`
	BookingID        string     `json:"booking_id"`
	PatientID        string     `json:"patient_id"`
	PatientName      string     `json:"patient_name,omitempty"`
	DoctorID         string     `json:"doctor_id"`
	Location         string     `json:"location"`
	StartTime        time.Time  `json:"start_time"`
	DurationMinutes  int        `json:"duration_minutes"`
	Status           string     `json:"status"`
	FormsCompletedAt *time.Time `json:"forms_completed_at,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		BookingID:        a.BookingID,
		PatientID:        a.PatientID,
		PatientName:      a.PatientName,
		DoctorID:         a.DoctorID,
		Location:         a.Location,
		StartTime:        a.StartTime,
		DurationMinutes:  a.DurationMinutes,
		Status:           string(a.Status),
		FormsCompletedAt: a.FormsCompletedAt,
	}
}

type BookingResponse struct {
	AppointmentResponse
	RemindersScheduled int `json:"reminders_scheduled"`
}

type SlotsResponse struct {
	Doctor string      `json:"doctor"`
	Date   string      `json:"date"`
	Slots  []time.Time `json:"slots"`
}

type RecordResponseRequest struct {
	AppointmentID string         `json:"appointment_id"`
	ResponseType  string         `json:"response_type"`
	Channel       string         `json:"channel"`
	Content       string         `json:"content,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type ScheduleResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Scheduled     int       `json:"scheduled"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toEventResponse(ev eventlog.Event) EventResponse {
	out := EventResponse{ID: ev.ID, EventType: ev.EventType, CreatedAt: ev.CreatedAt}
	if json.Valid(ev.Payload) {
		out.Payload = ev.Payload
	}
	return out
}

type ErrorResponse struct {
	Error        string      `json:"error"`
	Details      string      `json:"details,omitempty"`
	Field        string      `json:"field,omitempty"`
	Alternatives []time.Time `json:"alternatives,omitempty"`
}
