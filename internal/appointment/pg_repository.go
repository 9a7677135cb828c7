package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-reminders/internal/db"
)

const appointmentColumns = `id, booking_id, patient_id, patient_name, patient_email, patient_phone,
		       doctor_id, location, start_time, duration_minutes, status,
		       forms_completed_at, created_at, updated_at`

type PgRepository struct {
	db db.DB
}

func NewPgRepository(conn db.DB) *PgRepository {
	return &PgRepository{db: conn}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.BookingID,
		&a.PatientID,
		&a.PatientName,
		&a.PatientEmail,
		&a.PatientPhone,
		&a.DoctorID,
		&a.Location,
		&a.StartTime,
		&a.DurationMinutes,
		&status,
		&a.FormsCompletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, in NewAppointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, booking_id, patient_id, patient_name, patient_email, patient_phone,
		                          doctor_id, location, start_time, duration_minutes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'scheduled', now(), now())
		RETURNING `+appointmentColumns,
		uuid.New(), in.BookingID, in.PatientID, in.PatientName, in.PatientEmail, in.PatientPhone,
		in.DoctorID, in.Location, in.StartTime, in.DurationMinutes,
	)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetByBookingID(ctx context.Context, bookingID string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE booking_id = $1
	`, bookingID)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns,
		id, string(to), fromStrs,
	)

	return scanAppointment(row)
}

func (r *PgRepository) SetFormsCompleted(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET forms_completed_at = COALESCE(forms_completed_at, $2),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, at,
	)

	return scanAppointment(row)
}

func (r *PgRepository) FindElapsed(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND start_time + make_interval(mins => duration_minutes) < $1
		ORDER BY start_time
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
