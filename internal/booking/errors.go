package booking

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRequest = errors.New("invalid booking request")

// ConflictError reports that the requested slot was taken and offers the
// doctor's remaining free starts for that day.
type ConflictError struct {
	Doctor       string
	Start        time.Time
	Alternatives []time.Time
	Err          error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s %s taken, %d alternatives: %v",
		e.Doctor, e.Start.Format(time.RFC3339), len(e.Alternatives), e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
