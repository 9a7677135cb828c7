package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/lock"
)

// Engine reserves and releases slots in the Store. Every mutation runs as
// lock, reload, mutate, save, unlock; nothing else happens under the lock.
type Engine struct {
	store  *Store
	locker lock.Locker
	log    logrus.FieldLogger

	now       func() time.Time
	bookingID func() string
}

func NewEngine(store *Store, locker lock.Locker, log logrus.FieldLogger) *Engine {
	return &Engine{
		store:     store,
		locker:    locker,
		log:       log,
		now:       time.Now,
		bookingID: newBookingID,
	}
}

// WithClock overrides the clock used to stamp bookings.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// WithBookingIDs overrides booking id generation.
func (e *Engine) WithBookingIDs(gen func() string) *Engine {
	if gen != nil {
		e.bookingID = gen
	}
	return e
}

// GetAvailableSlots lists the free start times for doctor on the calendar day
// of date (in the clinic time zone) with at least minDuration minutes of
// capacity, earliest first. No match is an empty slice, not an error.
func (e *Engine) GetAvailableSlots(ctx context.Context, doctor string, date time.Time, minDuration int) ([]time.Time, error) {
	y, m, d := date.In(e.store.Location()).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, e.store.Location())
	to := from.AddDate(0, 0, 1)

	slots, err := e.ListSlots(ctx, doctor, from, to, minDuration)
	if err != nil {
		return nil, err
	}

	starts := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		starts = append(starts, s.Start)
	}
	return starts, nil
}

// ListSlots returns available slots for doctor in [from, to) ordered by start.
func (e *Engine) ListSlots(ctx context.Context, doctor string, from, to time.Time, minDuration int) ([]Slot, error) {
	all, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}

	out := make([]Slot, 0)
	for _, s := range all {
		if !s.Available || !sameDoctor(s.Doctor, doctor) {
			continue
		}
		if s.CapacityMinutes < minDuration {
			continue
		}
		if s.Start.Before(from) || !s.Start.Before(to) {
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})

	return out, nil
}

// Book claims the (doctor, start) slot. The table is always re-read under the
// lock, so a slot taken by another writer since the caller last looked is
// reported as ErrSlotConflict rather than double-booked.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*BookingConfirmation, error) {
	var conf *BookingConfirmation

	err := e.locker.WithLock(ctx, func(lockCtx context.Context) error {
		slots, err := e.store.Reload(lockCtx)
		if err != nil {
			return fmt.Errorf("reload availability: %w", err)
		}

		idx := -1
		for i := range slots {
			if slots[i].matches(req.Doctor, req.Start) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrSlotNotFound
		}
		if !slots[idx].Available {
			return ErrSlotConflict
		}

		now := e.now().UTC()
		id := e.bookingID()

		slot := &slots[idx]
		slot.Available = false
		slot.BookingID = id
		slot.PatientRef = req.PatientRef
		slot.BookedAt = &now

		if err := e.store.Save(lockCtx, slots); err != nil {
			return fmt.Errorf("save availability: %w", err)
		}

		conf = &BookingConfirmation{
			BookingID:       id,
			Doctor:          slot.Doctor,
			Start:           slot.Start,
			Location:        slot.Location,
			DurationMinutes: req.DurationMinutes,
			PatientRef:      req.PatientRef,
			BookedAt:        now,
		}
		return nil
	})
	if err != nil {
		return nil, &SlotError{Op: "book", Doctor: req.Doctor, Start: req.Start, Err: err}
	}

	e.log.WithFields(logrus.Fields{
		"booking_id": conf.BookingID,
		"doctor":     conf.Doctor,
		"start":      conf.Start.Format(time.RFC3339),
	}).Info("slot booked")

	return conf, nil
}

// Cancel frees the slot held by bookingID. It reports false when no slot
// carries that booking id.
func (e *Engine) Cancel(ctx context.Context, bookingID string) (bool, error) {
	if strings.TrimSpace(bookingID) == "" {
		return false, nil
	}

	freed := false
	err := e.locker.WithLock(ctx, func(lockCtx context.Context) error {
		slots, err := e.store.Reload(lockCtx)
		if err != nil {
			return fmt.Errorf("reload availability: %w", err)
		}

		for i := range slots {
			if slots[i].BookingID != bookingID {
				continue
			}
			slots[i].Available = true
			slots[i].BookingID = ""
			slots[i].PatientRef = ""
			slots[i].BookedAt = nil
			freed = true
			break
		}
		if !freed {
			return nil
		}

		if err := e.store.Save(lockCtx, slots); err != nil {
			return fmt.Errorf("save availability: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, &SlotError{Op: "cancel", BookingID: bookingID, Err: err}
	}

	if freed {
		e.log.WithField("booking_id", bookingID).Info("slot released")
	}
	return freed, nil
}

// IsTransient reports whether err is worth retrying as a whole operation.
func IsTransient(err error) bool {
	return errors.Is(err, lock.ErrTimeout)
}

func sameDoctor(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func newBookingID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "APT-" + strings.ToUpper(raw[:20])
}
