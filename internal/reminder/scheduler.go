package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/eventlog"
	"github.com/hackgods/clinic-reminders/internal/notify"
)

// Scheduler creates the pending reminder rows for a booked appointment.
type Scheduler struct {
	store       Store
	events      eventlog.Recorder
	log         logrus.FieldLogger
	now         func() time.Time
	countryCode string
}

func NewScheduler(store Store, events eventlog.Recorder, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		store:       store,
		events:      events,
		log:         log,
		now:         time.Now,
		countryCode: "1",
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// WithCountryCode sets the calling code assumed for national phone numbers.
func (s *Scheduler) WithCountryCode(cc string) *Scheduler {
	if cc != "" {
		s.countryCode = cc
	}
	return s
}

// Schedule creates one reminder per tier whose fire time is still in the
// future and returns how many tiers are scheduled for the appointment.
// Zero is a valid answer for appointments that are too close. Calling it
// again for the same appointment never duplicates rows.
func (s *Scheduler) Schedule(ctx context.Context, appointmentID uuid.UUID, start time.Time, email, phone string) (int, error) {
	if appointmentID == uuid.Nil {
		return 0, errors.New("schedule reminders: appointment id is required")
	}
	if start.IsZero() {
		return 0, errors.New("schedule reminders: start time is required")
	}

	if phone != "" {
		normalized, err := notify.NormalizePhone(phone, s.countryCode)
		if err != nil {
			s.log.WithField("appointment_id", appointmentID).Warn("unusable phone number, sms reminders disabled")
			phone = ""
		} else {
			phone = normalized
		}
	}

	due := FireTimes(start, s.now())
	count := 0
	for _, tier := range Tiers {
		fireAt, ok := due[tier.Kind]
		if !ok {
			continue
		}

		created, err := s.store.CreateIfAbsent(ctx, appointmentID, tier.Kind, fireAt, email, phone)
		if err != nil {
			return count, fmt.Errorf("schedule %s reminder for %s: %w", tier.Kind, appointmentID, err)
		}
		count++

		if created {
			s.events.Record(ctx, appointmentID, eventlog.ReminderScheduled, map[string]any{
				"kind":    tier.Kind,
				"fire_at": fireAt,
			})
		}
	}

	s.log.WithFields(logrus.Fields{
		"appointment_id": appointmentID,
		"scheduled":      count,
	}).Info("reminders scheduled")

	return count, nil
}

// List returns the reminders of one appointment, earliest first.
func (s *Scheduler) List(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error) {
	return s.store.ListByAppointment(ctx, appointmentID)
}
