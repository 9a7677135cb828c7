package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/appointment"
	"github.com/hackgods/clinic-reminders/internal/availability"
	"github.com/hackgods/clinic-reminders/internal/lock"
	"github.com/hackgods/clinic-reminders/internal/metrics"
	"github.com/hackgods/clinic-reminders/internal/reminder"
)

type SlotEngine interface {
	GetAvailableSlots(ctx context.Context, doctor string, date time.Time, minDuration int) ([]time.Time, error)
	Book(ctx context.Context, req availability.BookRequest) (*availability.BookingConfirmation, error)
	Cancel(ctx context.Context, bookingID string) (bool, error)
}

type Appointments interface {
	Create(ctx context.Context, in appointment.NewAppointment) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetByBookingID(ctx context.Context, bookingID string) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	MarkFormsCompleted(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Scheduler interface {
	Schedule(ctx context.Context, appointmentID uuid.UUID, start time.Time, email, phone string) (int, error)
}

type Request struct {
	PatientID       string    `json:"patient_id"`
	PatientName     string    `json:"patient_name"`
	PatientEmail    string    `json:"patient_email"`
	PatientPhone    string    `json:"patient_phone"`
	DoctorID        string    `json:"doctor_id"`
	Start           time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

type Result struct {
	Appointment        *appointment.Appointment
	BookingID          string
	RemindersScheduled int
}

// Service ties slot reservation, the appointment record and reminder
// scheduling into one booking flow.
type Service struct {
	engine       SlotEngine
	appointments Appointments
	scheduler    Scheduler
	log          logrus.FieldLogger
	metrics      *metrics.Metrics
}

func NewService(engine SlotEngine, appointments Appointments, scheduler Scheduler, log logrus.FieldLogger) *Service {
	return &Service{
		engine:       engine,
		appointments: appointments,
		scheduler:    scheduler,
		log:          log,
	}
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func validateRequest(req Request) error {
	switch {
	case strings.TrimSpace(req.DoctorID) == "":
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidRequest)
	case strings.TrimSpace(req.PatientID) == "":
		return fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	case req.Start.IsZero():
		return fmt.Errorf("%w: start_time is required", ErrInvalidRequest)
	case req.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidRequest)
	case req.PatientEmail == "" && req.PatientPhone == "":
		return fmt.Errorf("%w: patient_email or patient_phone is required", ErrInvalidRequest)
	}
	return nil
}

// Book reserves the slot, records the appointment and schedules its
// reminders. If the appointment cannot be stored the slot is released
// again. A taken slot comes back as *ConflictError with fresh alternatives.
func (s *Service) Book(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	started := time.Now()
	conf, err := s.engine.Book(ctx, availability.BookRequest{
		Doctor:          req.DoctorID,
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		PatientRef:      req.PatientID,
	})
	if err != nil {
		s.metrics.ObserveBooking(outcome(err), time.Since(started).Seconds())
		if errors.Is(err, availability.ErrSlotConflict) {
			return nil, s.conflict(ctx, req, err)
		}
		return nil, err
	}

	appt, err := s.appointments.Create(ctx, appointment.NewAppointment{
		BookingID:       conf.BookingID,
		PatientID:       req.PatientID,
		PatientName:     req.PatientName,
		PatientEmail:    req.PatientEmail,
		PatientPhone:    req.PatientPhone,
		DoctorID:        conf.Doctor,
		Location:        conf.Location,
		StartTime:       conf.Start,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		s.metrics.ObserveBooking("error", time.Since(started).Seconds())
		s.release(ctx, conf.BookingID)
		return nil, fmt.Errorf("create appointment for %s: %w", conf.BookingID, err)
	}
	s.metrics.ObserveBooking("booked", time.Since(started).Seconds())

	res := &Result{Appointment: appt, BookingID: conf.BookingID}

	n, err := s.scheduler.Schedule(ctx, appt.ID, appt.StartTime, appt.PatientEmail, appt.PatientPhone)
	if err != nil {
		// The booking stands; reminders can be rescheduled for the appointment.
		s.log.WithError(err).WithField("appointment_id", appt.ID).Error("schedule reminders")
	}
	res.RemindersScheduled = n

	s.log.WithFields(logrus.Fields{
		"appointment_id": appt.ID,
		"booking_id":     conf.BookingID,
		"doctor":         conf.Doctor,
		"reminders":      n,
	}).Info("appointment booked")

	return res, nil
}

func (s *Service) conflict(ctx context.Context, req Request, cause error) error {
	ce := &ConflictError{Doctor: req.DoctorID, Start: req.Start, Err: cause}

	free, err := s.engine.GetAvailableSlots(ctx, req.DoctorID, req.Start, req.DurationMinutes)
	if err != nil {
		s.log.WithError(err).Warn("load alternatives after conflict")
		return ce
	}
	for _, t := range free {
		if !t.Equal(req.Start) {
			ce.Alternatives = append(ce.Alternatives, t)
		}
	}
	return ce
}

func (s *Service) release(ctx context.Context, bookingID string) {
	freed, err := s.engine.Cancel(context.WithoutCancel(ctx), bookingID)
	if err != nil {
		s.log.WithError(err).WithField("booking_id", bookingID).Error("release slot after failed booking")
		return
	}
	if !freed {
		s.log.WithField("booking_id", bookingID).Warn("slot to release was not held")
	}
}

// Cancel cancels the appointment and frees its slot. Repeating it is safe.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error) {
	appt, err := s.appointments.Cancel(ctx, id, reason)
	if err != nil {
		return nil, err
	}

	freed, err := s.engine.Cancel(ctx, appt.BookingID)
	if err != nil {
		return appt, fmt.Errorf("free slot for %s: %w", appt.BookingID, err)
	}
	s.log.WithFields(logrus.Fields{
		"appointment_id": appt.ID,
		"booking_id":     appt.BookingID,
		"slot_freed":     freed,
	}).Info("appointment cancelled")
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.appointments.Get(ctx, id)
}

func (s *Service) GetByBookingID(ctx context.Context, bookingID string) (*appointment.Appointment, error) {
	return s.appointments.GetByBookingID(ctx, bookingID)
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.appointments.Confirm(ctx, id)
}

// Reschedule (re)creates the reminders of an existing appointment.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID) (int, error) {
	appt, err := s.appointments.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if !appt.Status.Active() {
		return 0, fmt.Errorf("%w: appointment is %s", appointment.ErrInvalidStatusTransition, appt.Status)
	}
	return s.scheduler.Schedule(ctx, appt.ID, appt.StartTime, appt.PatientEmail, appt.PatientPhone)
}

// ReplyActions adapts the service to what the response recorder acts on.
func (s *Service) ReplyActions() reminder.Appointments {
	return replyActions{s}
}

type replyActions struct {
	s *Service
}

func (r replyActions) Details(ctx context.Context, id uuid.UUID) (reminder.Details, error) {
	appt, err := r.s.appointments.Get(ctx, id)
	if err != nil {
		return reminder.Details{}, err
	}
	return reminder.Details{
		PatientName:  appt.PatientName,
		PatientEmail: appt.PatientEmail,
		PatientPhone: appt.PatientPhone,
		DoctorID:     appt.DoctorID,
		Location:     appt.Location,
		Start:        appt.StartTime,
	}, nil
}

func (r replyActions) Confirm(ctx context.Context, id uuid.UUID) error {
	_, err := r.s.appointments.Confirm(ctx, id)
	return err
}

func (r replyActions) MarkFormsCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.s.appointments.MarkFormsCompleted(ctx, id)
	return err
}

func (r replyActions) CancelAndRelease(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.s.Cancel(ctx, id, reason)
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, availability.ErrSlotConflict):
		return "conflict"
	case errors.Is(err, availability.ErrSlotNotFound):
		return "not_found"
	case errors.Is(err, lock.ErrTimeout):
		return "lock_timeout"
	}
	return "error"
}
