package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeAppointment struct {
	name     string
	doctor   string
	location string
	start    time.Time
	status   string
}

// memStore is an in-memory Store used by the dispatcher and recorder tests.
type memStore struct {
	mu           sync.Mutex
	nextID       int64
	reminders    map[int64]*Reminder
	appointments map[uuid.UUID]fakeAppointment
	targets      []*ReplyTarget
	responses    []*Response
	saveErr      error
}

func newMemStore() *memStore {
	return &memStore{
		reminders:    map[int64]*Reminder{},
		appointments: map[uuid.UUID]fakeAppointment{},
	}
}

func (m *memStore) addAppointment(id uuid.UUID, a fakeAppointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.status == "" {
		a.status = "scheduled"
	}
	m.appointments[id] = a
}

func (m *memStore) get(id int64) Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.reminders[id]
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateIfAbsent(ctx context.Context, appointmentID uuid.UUID, kind Kind, fireAt time.Time, email, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reminders {
		if r.AppointmentID == appointmentID && r.Kind == kind {
			return false, nil
		}
	}
	id := m.id()
	m.reminders[id] = &Reminder{
		ID: id, AppointmentID: appointmentID, Kind: kind, FireAt: fireAt,
		PatientEmail: email, PatientPhone: phone, CreatedAt: time.Now(),
	}
	return true, nil
}

func (m *memStore) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reminder
	for _, r := range m.reminders {
		if r.AppointmentID == appointmentID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (m *memStore) ListDue(ctx context.Context, now time.Time, limit int) ([]DueReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DueReminder
	for _, r := range m.reminders {
		a := m.appointments[r.AppointmentID]
		if r.FireAt.After(now) || r.Sent || r.DeadLetteredAt != nil {
			continue
		}
		if r.NextAttemptAt != nil && r.NextAttemptAt.After(now) {
			continue
		}
		if a.status == "cancelled" || a.status == "completed" {
			continue
		}
		out = append(out, DueReminder{
			Reminder: *r, PatientName: a.name, DoctorID: a.doctor,
			Location: a.location, AppointmentStart: a.start, DurationMinutes: 30,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkSkipped(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.reminders[id]
	if !r.Sent {
		r.Sent = true
		r.Skipped = true
	}
	return nil
}

func (m *memStore) RecordAttempt(ctx context.Context, id int64, a Attempt) (*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return nil, ErrReminderNotFound
	}
	at := a.At
	r.Attempts++
	r.LastAttemptAt = &at
	r.EmailSent = r.EmailSent || a.EmailSent
	r.SMSSent = r.SMSSent || a.SMSSent
	if a.EmailSent || a.SMSSent {
		r.Sent = true
		r.NextAttemptAt = nil
	} else {
		next := a.NextAttemptAt
		r.NextAttemptAt = &next
		if r.Attempts >= a.MaxAttempts {
			r.DeadLetteredAt = &at
		}
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) EnsureReplyTargets(ctx context.Context, reminderID int64, appointmentID uuid.UUID, types []ResponseType) ([]ReplyTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range types {
		exists := false
		for _, t := range m.targets {
			if t.ReminderID == reminderID && t.ResponseType == rt {
				exists = true
			}
		}
		if !exists {
			m.targets = append(m.targets, &ReplyTarget{
				ID: m.id(), ReminderID: reminderID, AppointmentID: appointmentID,
				ResponseType: rt, Token: newToken(), CreatedAt: time.Now(),
			})
		}
	}
	var out []ReplyTarget
	for _, t := range m.targets {
		if t.ReminderID == reminderID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) GetReplyTarget(ctx context.Context, token string) (*ReplyTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrReplyTargetNotFound
}

func (m *memStore) SaveResponse(ctx context.Context, r *Response, claimToken string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}

	var claimed *ReplyTarget
	if claimToken != "" {
		for _, t := range m.targets {
			if t.Token == claimToken {
				claimed = t
			}
		}
		if claimed == nil || claimed.UsedAt != nil {
			return ErrReplyTargetUsed
		}
	}

	var latest *Reminder
	for _, rem := range m.reminders {
		if rem.AppointmentID != r.AppointmentID || !rem.Sent || rem.Skipped {
			continue
		}
		if latest == nil || rem.FireAt.After(latest.FireAt) {
			latest = rem
		}
	}

	// all writes below happen together, like the transaction in PgStore
	if claimed != nil {
		claimed.UsedAt = &at
	}
	if latest != nil {
		latest.ResponseReceived = true
		id := latest.ID
		r.ReminderID = &id
	}
	r.ID = m.id()
	r.ReceivedAt = time.Now()
	cp := *r
	m.responses = append(m.responses, &cp)
	return nil
}

func (m *memStore) MarkResponseProcessed(ctx context.Context, responseID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.responses {
		if r.ID == responseID {
			r.Processed = true
		}
	}
	return nil
}

func (m *memStore) LatestResponseForReminder(ctx context.Context, reminderID int64, responseType ResponseType) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.responses) - 1; i >= 0; i-- {
		r := m.responses[i]
		if r.ReminderID != nil && *r.ReminderID == reminderID && r.ResponseType == responseType {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindLatestSentByPhone(ctx context.Context, phone string) (*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Reminder
	for _, r := range m.reminders {
		if r.PatientPhone != phone || !r.SMSSent {
			continue
		}
		if latest == nil || r.FireAt.After(latest.FireAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNoReminderForPhone
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	return &Stats{Since: since}, nil
}

func (m *memStore) PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	return PurgeResult{}, nil
}

func (m *memStore) responsesFor(appointmentID uuid.UUID) []Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Response
	for _, r := range m.responses {
		if r.AppointmentID == appointmentID {
			out = append(out, *r)
		}
	}
	return out
}

type recordedEvent struct {
	appointmentID uuid.UUID
	eventType     string
	payload       map[string]any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Record(ctx context.Context, id uuid.UUID, eventType string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{id, eventType, payload})
}

func (f *fakeEvents) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}
