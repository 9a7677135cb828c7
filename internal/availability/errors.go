package availability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrSlotNotFound = errors.New("slot not found")
	ErrSlotConflict = errors.New("slot is no longer available")
)

// SlotError carries the identifiers of the slot an operation failed on.
type SlotError struct {
	Op        string
	Doctor    string
	Start     time.Time
	BookingID string
	Err       error
}

func (e *SlotError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Doctor != "" {
		fmt.Fprintf(&b, " doctor=%q", e.Doctor)
	}
	if !e.Start.IsZero() {
		fmt.Fprintf(&b, " start=%s", e.Start.Format(time.RFC3339))
	}
	if e.BookingID != "" {
		fmt.Fprintf(&b, " booking_id=%s", e.BookingID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *SlotError) Unwrap() error {
	return e.Err
}
