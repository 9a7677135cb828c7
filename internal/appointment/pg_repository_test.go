package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{
	"id", "booking_id", "patient_id", "patient_name", "patient_email", "patient_phone",
	"doctor_id", "location", "start_time", "duration_minutes", "status",
	"forms_completed_at", "created_at", "updated_at",
}

func appointmentRow(id uuid.UUID, status string, start time.Time) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows(columns).AddRow(
		id, "APT-1", "patient-1", "Jane Doe", "jane@example.com", "+15551234567",
		"Dr. A", "Main Clinic", start, 30, status,
		nil, now, now,
	)
}

func TestPgRepositoryGetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM appointments").WithArgs(id).WillReturnRows(appointmentRow(id, "scheduled", start))

	repo := NewPgRepository(mock)
	appt, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, appt.ID)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, "APT-1", appt.BookingID)
	assert.Nil(t, appt.FormsCompletedAt)
	assert.True(t, appt.StartTime.Equal(start))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM appointments").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = NewPgRepository(mock).GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryUpdateStatusGuardsFromState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, "cancelled", []string{"scheduled", "confirmed"}).
		WillReturnRows(appointmentRow(id, "cancelled", start))

	appt, err := NewPgRepository(mock).UpdateStatus(context.Background(), id,
		[]Status{StatusScheduled, StatusConfirmed}, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryFindElapsed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	a, b := uuid.New(), uuid.New()
	rows := pgxmock.NewRows(columns).
		AddRow(a, "APT-1", "p1", "A", "", "", "Dr. A", "Main", now.Add(-3*time.Hour), 30, "scheduled", nil, now, now).
		AddRow(b, "APT-2", "p2", "B", "", "", "Dr. A", "Main", now.Add(-2*time.Hour), 30, "confirmed", nil, now, now)
	mock.ExpectQuery("status IN").WithArgs(now, 50).WillReturnRows(rows)

	got, err := NewPgRepository(mock).FindElapsed(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, StatusConfirmed, got[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
