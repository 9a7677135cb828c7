package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/eventlog"
)

const completeBatchSize = 200

type Service struct {
	repo   Repository
	events eventlog.Recorder
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewService(repo Repository, events eventlog.Recorder, log logrus.FieldLogger) *Service {
	return &Service{
		repo:   repo,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// WithClock overrides the clock used by CompleteElapsed and form stamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Create stores a freshly booked appointment in the scheduled state.
func (s *Service) Create(ctx context.Context, in NewAppointment) (*Appointment, error) {
	switch {
	case strings.TrimSpace(in.BookingID) == "":
		return nil, fmt.Errorf("%w: booking_id is required", ErrInvalidAppointment)
	case strings.TrimSpace(in.PatientID) == "":
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidAppointment)
	case strings.TrimSpace(in.DoctorID) == "":
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidAppointment)
	case in.StartTime.IsZero():
		return nil, fmt.Errorf("%w: start_time is required", ErrInvalidAppointment)
	case in.DurationMinutes <= 0:
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidAppointment)
	}

	appt, err := s.repo.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, appt.ID, eventlog.AppointmentCreated, map[string]any{
		"booking_id": appt.BookingID,
		"doctor_id":  appt.DoctorID,
		"start_time": appt.StartTime,
	})

	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return appt, nil
}

func (s *Service) GetByBookingID(ctx context.Context, bookingID string) (*Appointment, error) {
	appt, err := s.repo.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get appointment by booking %s: %w", bookingID, err)
	}
	return appt, nil
}

// Confirm moves a scheduled appointment to confirmed. Confirming twice is a
// no-op.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusConfirmed {
		return appt, nil
	}

	updated, err := s.transition(ctx, appt, []Status{StatusScheduled}, StatusConfirmed)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, updated.ID, eventlog.AppointmentConfirmed, map[string]any{})
	return updated, nil
}

// Cancel moves an active appointment to cancelled. Cancelling an already
// cancelled appointment returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled {
		return appt, nil
	}

	updated, err := s.transition(ctx, appt, []Status{StatusScheduled, StatusConfirmed}, StatusCancelled)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, updated.ID, eventlog.AppointmentCancelled, map[string]any{
		"reason":     reason,
		"booking_id": updated.BookingID,
	})
	return updated, nil
}

func (s *Service) MarkFormsCompleted(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, err := s.repo.SetFormsCompleted(ctx, id, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark forms completed %s: %w", id, err)
	}

	s.events.Record(ctx, updated.ID, eventlog.FormsCompleted, map[string]any{})
	return updated, nil
}

// CompleteElapsed marks appointments whose end time has passed as completed,
// which also stops any reminders still pending for them. It is intended to be
// called by the worker periodically.
func (s *Service) CompleteElapsed(ctx context.Context) (int, error) {
	candidates, err := s.repo.FindElapsed(ctx, s.now(), completeBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find elapsed appointments: %w", err)
	}

	done := 0
	for _, appt := range candidates {
		_, err := s.repo.UpdateStatus(ctx, appt.ID, []Status{StatusScheduled, StatusConfirmed}, StatusCompleted)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.log.WithError(err).WithField("appointment_id", appt.ID).Warn("failed to complete appointment")
			}
			continue
		}
		done++
		s.events.Record(ctx, appt.ID, eventlog.AppointmentCompleted, map[string]any{
			"reason": "worker",
		})
	}

	return done, nil
}

func (s *Service) transition(ctx context.Context, appt *Appointment, from []Status, to Status) (*Appointment, error) {
	allowed := false
	for _, f := range from {
		if appt.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, from, to)
	if err != nil {
		// the row moved between the read and the guarded update
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidStatusTransition, appt.ID)
		}
		return nil, fmt.Errorf("update appointment %s: %w", appt.ID, err)
	}
	return updated, nil
}
