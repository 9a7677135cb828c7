package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-reminders/internal/eventlog"
	"github.com/hackgods/clinic-reminders/internal/logger"
	"github.com/hackgods/clinic-reminders/internal/notify"
)

type fakeEmail struct {
	mu      sync.Mutex
	err     error
	explode bool
	sent    []notify.EmailMessage
}

func (f *fakeEmail) SendEmail(ctx context.Context, msg notify.EmailMessage) error {
	if f.explode {
		panic("smtp exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSMS struct {
	mu     sync.Mutex
	err    error
	sent   []string
	bodies []string
}

func (f *fakeSMS) SendSMS(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	f.bodies = append(f.bodies, body)
	return nil
}

type dispatchFixture struct {
	store  *memStore
	email  *fakeEmail
	sms    *fakeSMS
	events *fakeEvents
	now    time.Time
	d      *Dispatcher
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		store:  newMemStore(),
		email:  &fakeEmail{},
		sms:    &fakeSMS{},
		events: &fakeEvents{},
		now:    time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	msgs := Messages{ClinicName: "Riverside Clinic", ClinicPhone: "+15550001111", BaseURL: "https://clinic.test/", Location: time.UTC}
	f.d = NewDispatcher(f.store, f.email, f.sms, msgs, f.events, logger.Discard()).
		WithClock(func() time.Time { return f.now }).
		WithBackoff(time.Minute, time.Hour).
		WithMaxAttempts(3)
	return f
}

// seed creates an appointment starting at start with one reminder of kind
// that is already due.
func (f *dispatchFixture) seed(t *testing.T, kind Kind, start time.Time, email, phone string) int64 {
	t.Helper()
	id := uuid.New()
	f.store.addAppointment(id, fakeAppointment{name: "Jane Doe", doctor: "Dr. A", location: "Main Clinic", start: start})
	_, err := f.store.CreateIfAbsent(context.Background(), id, kind, f.now.Add(-time.Minute), email, phone)
	require.NoError(t, err)
	rs, _ := f.store.ListByAppointment(context.Background(), id)
	return rs[0].ID
}

func TestDispatchSendsBothChannels(t *testing.T) {
	f := newDispatchFixture(t)
	id := f.seed(t, KindInitial, f.now.Add(7*24*time.Hour), "jane@example.com", "+15551234567")

	sum, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 1, Sent: 1}, sum)

	r := f.store.get(id)
	assert.True(t, r.Sent)
	assert.True(t, r.EmailSent)
	assert.True(t, r.SMSSent)
	assert.Equal(t, 1, r.Attempts)
	assert.Nil(t, r.NextAttemptAt)
	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "jane@example.com", f.email.sent[0].To)
	assert.Equal(t, []string{"+15551234567"}, f.sms.sent)
	assert.Equal(t, 1, f.events.count(eventlog.ReminderSent))

	sum, err = f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Due)
}

func TestDispatchOneChannelFailingStillCountsAsSent(t *testing.T) {
	f := newDispatchFixture(t)
	f.sms.err = errors.New("carrier down")
	id := f.seed(t, KindInitial, f.now.Add(7*24*time.Hour), "jane@example.com", "+15551234567")

	sum, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)

	r := f.store.get(id)
	assert.True(t, r.Sent)
	assert.True(t, r.EmailSent)
	assert.False(t, r.SMSSent)
}

func TestDispatchFailureBacksOffThenDeadLetters(t *testing.T) {
	f := newDispatchFixture(t)
	f.email.err = errors.New("sendgrid 500")
	f.sms.err = errors.New("carrier down")
	id := f.seed(t, KindInitial, f.now.Add(7*24*time.Hour), "jane@example.com", "+15551234567")

	sum, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	r := f.store.get(id)
	assert.False(t, r.Sent)
	assert.Equal(t, 1, r.Attempts)
	require.NotNil(t, r.NextAttemptAt)
	assert.True(t, r.NextAttemptAt.Equal(f.now.Add(time.Minute)))

	// not due again until the backoff elapses
	sum, err = f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Due)

	f.now = f.now.Add(time.Minute)
	_, err = f.d.RunOnce(context.Background())
	require.NoError(t, err)
	r = f.store.get(id)
	assert.Equal(t, 2, r.Attempts)
	assert.True(t, r.NextAttemptAt.Equal(f.now.Add(2*time.Minute)))

	f.now = f.now.Add(2 * time.Minute)
	sum, err = f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DeadLettered)
	r = f.store.get(id)
	assert.NotNil(t, r.DeadLetteredAt)
	assert.False(t, r.Sent)
	assert.Equal(t, 1, f.events.count(eventlog.ReminderDeadLettered))
	assert.Equal(t, 2, f.events.count(eventlog.ReminderFailed))

	f.now = f.now.Add(time.Hour)
	sum, err = f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Due)
}

func TestDispatchSkipsWhenAppointmentStarted(t *testing.T) {
	f := newDispatchFixture(t)
	id := f.seed(t, KindFinalConfirmation, f.now.Add(-10*time.Minute), "jane@example.com", "+15551234567")

	sum, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)

	r := f.store.get(id)
	assert.True(t, r.Sent)
	assert.True(t, r.Skipped)
	assert.Equal(t, 0, r.Attempts)
	assert.Empty(t, f.email.sent)
	assert.Empty(t, f.sms.sent)
}

func TestDispatchCreatesReplyLinks(t *testing.T) {
	f := newDispatchFixture(t)
	id := f.seed(t, KindFormCheck, f.now.Add(24*time.Hour), "jane@example.com", "")

	_, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	targets, err := f.store.EnsureReplyTargets(context.Background(), id, uuid.Nil, nil)
	require.NoError(t, err)
	require.Len(t, targets, 4)

	require.Len(t, f.email.sent, 1)
	body := f.email.sent[0].Body
	for _, tg := range targets {
		assert.Contains(t, body, "https://clinic.test/r/"+tg.Token)
	}
}

func TestDispatchInitialHasNoReplyLinks(t *testing.T) {
	f := newDispatchFixture(t)
	id := f.seed(t, KindInitial, f.now.Add(7*24*time.Hour), "jane@example.com", "")

	_, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	targets, _ := f.store.EnsureReplyTargets(context.Background(), id, uuid.Nil, nil)
	assert.Empty(t, targets)
	assert.False(t, strings.Contains(f.email.sent[0].Body, "/r/"))
}

func TestDispatchSurvivesPanickingSender(t *testing.T) {
	f := newDispatchFixture(t)
	f.email.explode = true
	id := f.seed(t, KindInitial, f.now.Add(7*24*time.Hour), "jane@example.com", "+15551234567")

	sum, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)

	r := f.store.get(id)
	assert.False(t, r.EmailSent)
	assert.True(t, r.SMSSent)
}

func TestDispatchSkipsCancelledAppointments(t *testing.T) {
	f := newDispatchFixture(t)
	f.seed(t, KindInitial, f.now.Add(7*24*time.Hour), "jane@example.com", "")
	for id, a := range f.store.appointments {
		a.status = "cancelled"
		f.store.appointments[id] = a
	}

	sum, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Due)
}

func TestNextDelayCaps(t *testing.T) {
	d := NewDispatcher(newMemStore(), nil, nil, Messages{}, eventlog.Nop{}, logger.Discard()).
		WithBackoff(time.Minute, 10*time.Minute)

	assert.Equal(t, time.Minute, d.nextDelay(0))
	assert.Equal(t, 2*time.Minute, d.nextDelay(1))
	assert.Equal(t, 8*time.Minute, d.nextDelay(3))
	assert.Equal(t, 10*time.Minute, d.nextDelay(4))
	assert.Equal(t, 10*time.Minute, d.nextDelay(40))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newDispatchFixture(t)
	f.d.WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
