package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrReminderNotFound    = errors.New("reminder not found")
	ErrReplyTargetNotFound = errors.New("reply target not found")
	ErrNoReminderForPhone  = errors.New("no sent reminder for phone")
	ErrReplyTargetUsed     = errors.New("reply target already used")
)

// ChannelError is one delivery channel failing for one reminder. The other
// channel is still attempted and the reminder stays pending.
type ChannelError struct {
	Channel    Channel
	ReminderID int64
	Err        error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("deliver reminder %d via %s: %v", e.ReminderID, e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// ValidationError rejects an inbound response before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid response: %s %s", e.Field, e.Reason)
}
