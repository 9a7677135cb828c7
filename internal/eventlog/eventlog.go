package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/db"
)

const (
	AppointmentCreated   = "APPOINTMENT_CREATED"
	AppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	AppointmentCancelled = "APPOINTMENT_CANCELLED"
	AppointmentCompleted = "APPOINTMENT_COMPLETED"
	FormsCompleted       = "FORMS_COMPLETED"

	ReminderScheduled    = "REMINDER_SCHEDULED"
	ReminderSent         = "REMINDER_SENT"
	ReminderFailed       = "REMINDER_FAILED"
	ReminderDeadLettered = "REMINDER_DEAD_LETTERED"
	ReminderSkipped      = "REMINDER_SKIPPED"
	ResponseRecorded     = "RESPONSE_RECORDED"
)

// Recorder appends audit rows to event_logs.
type Recorder interface {
	Record(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any)
}

type Event struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// PgRecorder writes events to Postgres. Failures are logged and swallowed:
// the audit trail never fails the operation it describes.
type PgRecorder struct {
	db  db.DB
	log logrus.FieldLogger
}

func NewPgRecorder(conn db.DB, log logrus.FieldLogger) *PgRecorder {
	return &PgRecorder{db: conn, log: log}
}

func (r *PgRecorder) Record(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.WithError(err).WithField("event_type", eventType).Warn("marshal event payload")
		data = nil
	}

	if err := r.Insert(ctx, Event{EventType: eventType, AppointmentID: &appointmentID, Payload: data}); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"event_type":     eventType,
			"appointment_id": appointmentID,
		}).Warn("insert event log")
	}
}

func (r *PgRecorder) Insert(ctx context.Context, ev Event) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// ListForAppointment returns the audit trail of one appointment, oldest first.
func (r *PgRecorder) ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, uuid.UUID, string, map[string]any) {}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
