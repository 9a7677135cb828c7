package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidAppointment      = errors.New("invalid appointment")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Create(ctx context.Context, in NewAppointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByBookingID(ctx context.Context, bookingID string) (*Appointment, error)

	// UpdateStatus only succeeds while the row is in one of from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error)
	SetFormsCompleted(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error)

	// Completion job
	FindElapsed(ctx context.Context, now time.Time, limit int) ([]Appointment, error)
}
