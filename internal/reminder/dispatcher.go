package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/eventlog"
	"github.com/hackgods/clinic-reminders/internal/metrics"
	"github.com/hackgods/clinic-reminders/internal/notify"
)

var errNoContact = errors.New("no email or phone on file")

// Summary counts what one dispatcher pass did.
type Summary struct {
	Due          int
	Sent         int
	Failed       int
	DeadLettered int
	Skipped      int
	Errors       int
}

// Dispatcher polls for due reminders and delivers them over email and SMS.
type Dispatcher struct {
	store    Store
	email    notify.EmailSender
	sms      notify.SMSSender
	messages Messages
	events   eventlog.Recorder
	log      logrus.FieldLogger
	metrics  *metrics.Metrics

	now            func() time.Time
	interval       time.Duration
	batchSize      int
	maxAttempts    int
	backoffBase    time.Duration
	backoffMax     time.Duration
	channelTimeout time.Duration
}

func NewDispatcher(store Store, email notify.EmailSender, sms notify.SMSSender, messages Messages, events eventlog.Recorder, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		store:          store,
		email:          email,
		sms:            sms,
		messages:       messages,
		events:         events,
		log:            log,
		now:            time.Now,
		interval:       time.Minute,
		batchSize:      100,
		maxAttempts:    5,
		backoffBase:    time.Minute,
		backoffMax:     time.Hour,
		channelTimeout: 15 * time.Second,
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

// WithMaxAttempts sets how many failed passes a reminder gets before it is
// dead-lettered.
func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Dispatcher) WithBackoff(base, maxDelay time.Duration) *Dispatcher {
	if base > 0 {
		d.backoffBase = base
	}
	if maxDelay >= d.backoffBase {
		d.backoffMax = maxDelay
	}
	return d
}

func (d *Dispatcher) WithChannelTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.channelTimeout = timeout
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// Run dispatches once immediately and then on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.runLogged(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.runLogged(ctx)
		}
	}
}

func (d *Dispatcher) runLogged(ctx context.Context) {
	start := time.Now()
	sum, err := d.RunOnce(ctx)
	if err != nil {
		d.log.WithError(err).Error("dispatch pass failed")
		return
	}
	if sum.Due == 0 {
		return
	}
	d.log.WithFields(logrus.Fields{
		"due":           sum.Due,
		"sent":          sum.Sent,
		"failed":        sum.Failed,
		"dead_lettered": sum.DeadLettered,
		"skipped":       sum.Skipped,
		"errors":        sum.Errors,
		"took":          time.Since(start).String(),
	}).Info("dispatch pass complete")
}

// RunOnce processes one batch of due reminders. A reminder that fails to
// process is logged and left for the next pass.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	start := time.Now()
	defer func() { d.metrics.ObserveDispatchPass(time.Since(start).Seconds()) }()

	due, err := d.store.ListDue(ctx, d.now(), d.batchSize)
	if err != nil {
		return sum, fmt.Errorf("list due reminders: %w", err)
	}
	sum.Due = len(due)

	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		if err := d.dispatch(ctx, r, &sum); err != nil {
			sum.Errors++
			d.log.WithError(err).WithField("reminder_id", r.ID).Error("dispatch reminder")
		}
	}
	return sum, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, r DueReminder, sum *Summary) error {
	now := d.now()
	entry := d.log.WithFields(logrus.Fields{
		"reminder_id":    r.ID,
		"appointment_id": r.AppointmentID,
		"kind":           r.Kind,
	})

	// A reminder that comes due after its appointment started is closed
	// without touching the attempt counter.
	if !r.AppointmentStart.After(now) {
		if err := d.store.MarkSkipped(ctx, r.ID); err != nil {
			return err
		}
		sum.Skipped++
		d.metrics.ObserveReminder(string(r.Kind), "skipped")
		d.events.Record(ctx, r.AppointmentID, eventlog.ReminderSkipped, map[string]any{
			"reminder_id": r.ID,
			"kind":        r.Kind,
		})
		entry.Info("appointment already started, reminder skipped")
		return nil
	}

	var targets []ReplyTarget
	if types := replyTypesFor(r.Kind); len(types) > 0 {
		var err error
		targets, err = d.store.EnsureReplyTargets(ctx, r.ID, r.AppointmentID, types)
		if err != nil {
			return fmt.Errorf("reply targets: %w", err)
		}
	}

	email, smsBody := d.messages.Reminder(r, targets)

	var failures []error
	emailSent, smsSent := false, false

	if r.PatientEmail != "" && d.email != nil {
		err := d.send(ctx, func(ctx context.Context) error { return d.email.SendEmail(ctx, email) })
		if err != nil {
			failures = append(failures, &ChannelError{Channel: ChannelEmail, ReminderID: r.ID, Err: err})
		} else {
			emailSent = true
		}
	}
	if r.PatientPhone != "" && d.sms != nil {
		err := d.send(ctx, func(ctx context.Context) error { return d.sms.SendSMS(ctx, r.PatientPhone, smsBody) })
		if err != nil {
			failures = append(failures, &ChannelError{Channel: ChannelSMS, ReminderID: r.ID, Err: err})
		} else {
			smsSent = true
		}
	}
	if !emailSent && !smsSent && len(failures) == 0 {
		failures = append(failures, errNoContact)
	}

	for _, f := range failures {
		var ce *ChannelError
		if errors.As(f, &ce) {
			d.metrics.ObserveChannelFailure(string(ce.Channel))
		}
		entry.WithError(f).Warn("reminder channel failed")
	}

	attempt := Attempt{
		At:            now,
		EmailSent:     emailSent,
		SMSSent:       smsSent,
		NextAttemptAt: now.Add(d.nextDelay(r.Attempts)),
		MaxAttempts:   d.maxAttempts,
	}
	// The outcome is written even if shutdown cancels ctx mid-send, so a
	// delivered message is never sent twice.
	updated, err := d.store.RecordAttempt(context.WithoutCancel(ctx), r.ID, attempt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	payload := map[string]any{
		"reminder_id": r.ID,
		"kind":        r.Kind,
		"email_sent":  emailSent,
		"sms_sent":    smsSent,
		"attempts":    updated.Attempts,
	}
	switch {
	case emailSent || smsSent:
		sum.Sent++
		d.metrics.ObserveReminder(string(r.Kind), "sent")
		d.events.Record(ctx, r.AppointmentID, eventlog.ReminderSent, payload)
		entry.WithFields(logrus.Fields{"email": emailSent, "sms": smsSent}).Info("reminder sent")
	case updated.DeadLetteredAt != nil:
		sum.DeadLettered++
		d.metrics.ObserveReminder(string(r.Kind), "dead_lettered")
		payload["error"] = errors.Join(failures...).Error()
		d.events.Record(ctx, r.AppointmentID, eventlog.ReminderDeadLettered, payload)
		entry.WithField("attempts", updated.Attempts).Error("reminder dead-lettered")
	default:
		sum.Failed++
		d.metrics.ObserveReminder(string(r.Kind), "failed")
		payload["error"] = errors.Join(failures...).Error()
		payload["next_attempt_at"] = attempt.NextAttemptAt
		d.events.Record(ctx, r.AppointmentID, eventlog.ReminderFailed, payload)
		entry.WithField("next_attempt_at", attempt.NextAttemptAt).Warn("reminder delivery failed, will retry")
	}
	return nil
}

// send runs one channel delivery under its own timeout. A panicking sender
// is reported as a failure of that channel only.
func (d *Dispatcher) send(ctx context.Context, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sender panic: %v", p)
		}
	}()
	return fn(ctx)
}

// nextDelay is base * 2^attempts, capped at max.
func (d *Dispatcher) nextDelay(attempts int) time.Duration {
	delay := d.backoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= d.backoffMax {
			return d.backoffMax
		}
	}
	if delay > d.backoffMax {
		return d.backoffMax
	}
	return delay
}
