package booking

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-reminders/internal/appointment"
	"github.com/hackgods/clinic-reminders/internal/availability"
	"github.com/hackgods/clinic-reminders/internal/lock"
	"github.com/hackgods/clinic-reminders/internal/logger"
)

var day = time.Date(2030, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour int) time.Time {
	return day.Add(time.Duration(hour) * time.Hour)
}

type fakeAppointments struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*appointment.Appointment
	createErr error
}

func newFakeAppointments() *fakeAppointments {
	return &fakeAppointments{rows: map[uuid.UUID]*appointment.Appointment{}}
}

func (f *fakeAppointments) Create(ctx context.Context, in appointment.NewAppointment) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	a := &appointment.Appointment{
		ID: uuid.New(), BookingID: in.BookingID, PatientID: in.PatientID, PatientName: in.PatientName,
		PatientEmail: in.PatientEmail, PatientPhone: in.PatientPhone, DoctorID: in.DoctorID,
		Location: in.Location, StartTime: in.StartTime, DurationMinutes: in.DurationMinutes,
		Status: appointment.StatusScheduled,
	}
	f.rows[a.ID] = a
	cp := *a
	return &cp, nil
}

func (f *fakeAppointments) Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAppointments) GetByBookingID(ctx context.Context, bookingID string) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.rows {
		if a.BookingID == bookingID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeAppointments) set(id uuid.UUID, status appointment.Status) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = status
	cp := *a
	return &cp, nil
}

func (f *fakeAppointments) Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return f.set(id, appointment.StatusConfirmed)
}

func (f *fakeAppointments) Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error) {
	return f.set(id, appointment.StatusCancelled)
}

func (f *fakeAppointments) MarkFormsCompleted(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	now := time.Now()
	a.FormsCompletedAt = &now
	cp := *a
	return &cp, nil
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []uuid.UUID
	n     int
	err   error
}

func (f *fakeScheduler) Schedule(ctx context.Context, id uuid.UUID, start time.Time, email, phone string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return f.n, f.err
}

type fixture struct {
	svc          *Service
	engine       *availability.Engine
	appointments *fakeAppointments
	scheduler    *fakeScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedules.xlsx")
	require.NoError(t, availability.WriteTable(path, []availability.Slot{
		{Doctor: "Dr. A", Start: at(9), Location: "Main", Available: true, CapacityMinutes: 60},
		{Doctor: "Dr. A", Start: at(10), Location: "Main", Available: true, CapacityMinutes: 60},
		{Doctor: "Dr. A", Start: at(11), Location: "Main", Available: true, CapacityMinutes: 30},
	}, time.UTC))

	engine := availability.NewEngine(
		availability.NewStore(path, time.UTC),
		lock.NewFileLocker(path, 5*time.Second, time.Millisecond),
		logger.Discard(),
	)
	f := &fixture{
		engine:       engine,
		appointments: newFakeAppointments(),
		scheduler:    &fakeScheduler{n: 3},
	}
	f.svc = NewService(engine, f.appointments, f.scheduler, logger.Discard())
	return f
}

func request(start time.Time) Request {
	return Request{
		PatientID:       gofakeit.UUID(),
		PatientName:     gofakeit.Name(),
		PatientEmail:    gofakeit.Email(),
		PatientPhone:    "+15551234567",
		DoctorID:        "Dr. A",
		Start:           start,
		DurationMinutes: 30,
	}
}

func TestBookCreatesAppointmentAndSchedules(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Book(context.Background(), request(at(10)))
	require.NoError(t, err)
	assert.Equal(t, 3, res.RemindersScheduled)
	assert.Regexp(t, `^APT-[0-9A-F]{20}$`, res.BookingID)
	assert.Equal(t, res.BookingID, res.Appointment.BookingID)
	assert.Equal(t, "Main", res.Appointment.Location)
	assert.Equal(t, []uuid.UUID{res.Appointment.ID}, f.scheduler.calls)

	byBooking, err := f.svc.GetByBookingID(context.Background(), res.BookingID)
	require.NoError(t, err)
	assert.Equal(t, res.Appointment.ID, byBooking.ID)

	free, err := f.engine.GetAvailableSlots(context.Background(), "Dr. A", day, 30)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(9), at(11)}, free)
}

func TestBookConflictOffersAlternatives(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), request(at(10)))
	require.NoError(t, err)

	req := request(at(10))
	req.DurationMinutes = 60
	_, err = f.svc.Book(context.Background(), req)

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, availability.ErrSlotConflict)
	assert.Equal(t, []time.Time{at(9)}, ce.Alternatives)
}

func TestBookUnknownSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), request(at(15)))
	assert.ErrorIs(t, err, availability.ErrSlotNotFound)
	assert.Empty(t, f.scheduler.calls)
}

func TestBookReleasesSlotWhenAppointmentFails(t *testing.T) {
	f := newFixture(t)
	f.appointments.createErr = errors.New("db down")

	_, err := f.svc.Book(context.Background(), request(at(9)))
	require.Error(t, err)

	free, err := f.engine.GetAvailableSlots(context.Background(), "Dr. A", day, 30)
	require.NoError(t, err)
	assert.Contains(t, free, at(9))
	assert.Empty(t, f.scheduler.calls)
}

func TestBookKeepsBookingWhenSchedulingFails(t *testing.T) {
	f := newFixture(t)
	f.scheduler.err = errors.New("reminders db down")
	f.scheduler.n = 0

	res, err := f.svc.Book(context.Background(), request(at(9)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.RemindersScheduled)
}

func TestBookValidatesRequest(t *testing.T) {
	f := newFixture(t)

	req := request(at(9))
	req.DoctorID = ""
	_, err := f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = request(at(9))
	req.PatientEmail, req.PatientPhone = "", ""
	_, err = f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancelFreesSlotForRebooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Book(ctx, request(at(10)))
	require.NoError(t, err)

	appt, err := f.svc.Cancel(ctx, res.Appointment.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, appt.Status)

	_, err = f.svc.Book(ctx, request(at(10)))
	require.NoError(t, err)

	// cancelling again is harmless
	_, err = f.svc.Cancel(ctx, res.Appointment.ID, "again")
	require.NoError(t, err)
}

func TestReplyActionsCancelReleasesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Book(ctx, request(at(11)))
	require.NoError(t, err)

	actions := f.svc.ReplyActions()
	d, err := actions.Details(ctx, res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dr. A", d.DoctorID)

	require.NoError(t, actions.CancelAndRelease(ctx, res.Appointment.ID, "sms reply"))

	free, err := f.engine.GetAvailableSlots(ctx, "Dr. A", day, 30)
	require.NoError(t, err)
	assert.Contains(t, free, at(11))
}

func TestRescheduleRejectsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Book(ctx, request(at(9)))
	require.NoError(t, err)

	n, err := f.svc.Reschedule(ctx, res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = f.svc.Cancel(ctx, res.Appointment.ID, "x")
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, res.Appointment.ID)
	assert.ErrorIs(t, err, appointment.ErrInvalidStatusTransition)
}
