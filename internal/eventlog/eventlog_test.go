package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-reminders/internal/logger"
)

func TestRecordInsertsJSONPayload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(ReminderSent, &id, []byte(`{"kind":"initial"}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r := NewPgRecorder(mock, logger.Discard())
	r.Record(context.Background(), id, ReminderSent, map[string]any{"kind": "initial"})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSwallowsInsertFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("db down"))

	r := NewPgRecorder(mock, logger.Discard())
	assert.NotPanics(t, func() {
		r.Record(context.Background(), uuid.New(), AppointmentCreated, nil)
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, event_type").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_type", "appointment_id", "payload", "created_at"}).
			AddRow(int64(1), AppointmentCreated, &id, []byte(`{}`), now).
			AddRow(int64(2), ReminderScheduled, &id, []byte(`{"kind":"initial"}`), now))

	events, err := NewPgRecorder(mock, logger.Discard()).ListForAppointment(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ReminderScheduled, events[1].EventType)
	assert.Equal(t, id, *events[1].AppointmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
