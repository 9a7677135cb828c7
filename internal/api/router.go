package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/appointment"
	"github.com/hackgods/clinic-reminders/internal/booking"
	"github.com/hackgods/clinic-reminders/internal/eventlog"
	"github.com/hackgods/clinic-reminders/internal/reminder"
)

type Bookings interface {
	Book(ctx context.Context, req booking.Request) (*booking.Result, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetByBookingID(ctx context.Context, bookingID string) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID) (int, error)
}

type Slots interface {
	GetAvailableSlots(ctx context.Context, doctor string, date time.Time, minDuration int) ([]time.Time, error)
}

type Responses interface {
	Record(ctx context.Context, in reminder.Input) (*reminder.Result, error)
	RecordToken(ctx context.Context, token string) (*reminder.Result, error)
	RecordSMS(ctx context.Context, from, body string) (*reminder.Result, error)
}

type Reminders interface {
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]reminder.Reminder, error)
	Stats(ctx context.Context, since time.Time) (*reminder.Stats, error)
}

// Events exposes the audit trail of an appointment.
type Events interface {
	ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]eventlog.Event, error)
}

type RouterConfig struct {
	Bookings       Bookings
	Slots          Slots
	Responses      Responses
	Reminders      Reminders
	Events         Events
	Postgres       Pinger
	Redis          Pinger
	MetricsHandler http.Handler
	Location       *time.Location
	Log            logrus.FieldLogger
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := &handlers{
		bookings:  cfg.Bookings,
		slots:     cfg.Slots,
		responses: cfg.Responses,
		reminders: cfg.Reminders,
		events:    cfg.Events,
		loc:       cfg.Location,
		log:       cfg.Log,
		now:       time.Now,
	}
	if h.loc == nil {
		h.loc = time.UTC
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Get("/doctors/{doctor}/slots", h.listSlots)
	r.Post("/bookings", h.book)
	r.Get("/bookings/{bookingID}", h.getBooking)

	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", h.getAppointment)
		r.Delete("/", h.cancelAppointment)
		r.Post("/confirm", h.confirmAppointment)
		r.Get("/reminders", h.listReminders)
		r.Post("/reminders", h.scheduleReminders)
		r.Get("/events", h.listEvents)
	})

	r.Post("/responses", h.recordResponse)
	r.Post("/responses/sms", h.recordSMS)
	r.Get("/r/{token}", h.replyLink)
	r.Get("/reminders/stats", h.stats)

	return r
}
