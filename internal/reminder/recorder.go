package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/eventlog"
	"github.com/hackgods/clinic-reminders/internal/metrics"
	"github.com/hackgods/clinic-reminders/internal/notify"
)

// Appointments is what the recorder needs from the booking side to act on a
// reply.
type Appointments interface {
	Details(ctx context.Context, id uuid.UUID) (Details, error)
	Confirm(ctx context.Context, id uuid.UUID) error
	MarkFormsCompleted(ctx context.Context, id uuid.UUID) error
	// CancelAndRelease cancels the appointment and frees its slot for
	// rebooking.
	CancelAndRelease(ctx context.Context, id uuid.UUID, reason string) error
}

type Input struct {
	AppointmentID uuid.UUID
	ResponseType  ResponseType
	Channel       Channel
	Content       string
	Extra         map[string]any
}

type Result struct {
	ResponseID   int64        `json:"response_id"`
	ReminderID   *int64       `json:"reminder_id,omitempty"`
	ResponseType ResponseType `json:"response_type"`
	Action       Action       `json:"action_taken"`
	Processed    bool         `json:"processed"`
	Duplicate    bool         `json:"duplicate,omitempty"`
}

// Recorder stores patient replies and applies the matching action.
type Recorder struct {
	store        Store
	appointments Appointments
	email        notify.EmailSender
	sms          notify.SMSSender
	messages     Messages
	events       eventlog.Recorder
	log          logrus.FieldLogger
	metrics      *metrics.Metrics
	now          func() time.Time
	countryCode  string
}

func NewRecorder(store Store, appointments Appointments, email notify.EmailSender, sms notify.SMSSender, messages Messages, events eventlog.Recorder, log logrus.FieldLogger) *Recorder {
	return &Recorder{
		store:        store,
		appointments: appointments,
		email:        email,
		sms:          sms,
		messages:     messages,
		events:       events,
		log:          log,
		now:          time.Now,
		countryCode:  "1",
	}
}

func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *Recorder) WithCountryCode(cc string) *Recorder {
	if cc != "" {
		r.countryCode = cc
	}
	return r
}

func (r *Recorder) WithMetrics(m *metrics.Metrics) *Recorder {
	r.metrics = m
	return r
}

func validate(in Input) error {
	if in.AppointmentID == uuid.Nil {
		return &ValidationError{Field: "appointment_id", Reason: "is required"}
	}
	if strings.TrimSpace(string(in.ResponseType)) == "" {
		return &ValidationError{Field: "response_type", Reason: "is required"}
	}
	if !in.Channel.Valid() {
		return &ValidationError{Field: "channel", Reason: fmt.Sprintf("%q is not a known channel", in.Channel)}
	}
	return nil
}

// Record stores a reply against the latest reminder sent for the
// appointment and applies its action. Unknown replies are stored
// unprocessed for manual review. If the action fails the response stays
// unprocessed and the error is returned with the result.
func (r *Recorder) Record(ctx context.Context, in Input) (*Result, error) {
	return r.record(ctx, in, "")
}

// record claims claimToken, when set, in the same write that stores the
// response.
func (r *Recorder) record(ctx context.Context, in Input, claimToken string) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	details, err := r.appointments.Details(ctx, in.AppointmentID)
	if err != nil {
		return nil, err
	}

	action := actionFor(in.ResponseType)
	resp := &Response{
		AppointmentID: in.AppointmentID,
		ResponseType:  in.ResponseType,
		Channel:       in.Channel,
		Content:       in.Content,
		Extra:         in.Extra,
		ActionTaken:   action,
	}
	if err := r.store.SaveResponse(ctx, resp, claimToken, r.now()); err != nil {
		return nil, err
	}
	reminderID := resp.ReminderID

	r.metrics.ObserveResponse(string(in.ResponseType), string(in.Channel))
	r.events.Record(ctx, in.AppointmentID, eventlog.ResponseRecorded, map[string]any{
		"response_id":   resp.ID,
		"response_type": in.ResponseType,
		"channel":       in.Channel,
		"action":        action,
	})

	res := &Result{
		ResponseID:   resp.ID,
		ReminderID:   reminderID,
		ResponseType: in.ResponseType,
		Action:       action,
	}

	entry := r.log.WithFields(logrus.Fields{
		"appointment_id": in.AppointmentID,
		"response_id":    resp.ID,
		"response_type":  in.ResponseType,
		"action":         action,
	})

	if action == ActionManualReview {
		entry.Warn("response needs manual review")
		return res, nil
	}

	if err := r.apply(ctx, in, action, details); err != nil {
		entry.WithError(err).Error("response action failed")
		return res, fmt.Errorf("apply %s: %w", action, err)
	}

	if err := r.store.MarkResponseProcessed(ctx, resp.ID); err != nil {
		return res, err
	}
	res.Processed = true
	entry.Info("response processed")
	return res, nil
}

func (r *Recorder) apply(ctx context.Context, in Input, action Action, d Details) error {
	switch action {
	case ActionMarkFormsComplete:
		return r.appointments.MarkFormsCompleted(ctx, in.AppointmentID)
	case ActionMarkVisitConfirmed:
		return r.appointments.Confirm(ctx, in.AppointmentID)
	case ActionEmergencyCancellation:
		return r.appointments.CancelAndRelease(ctx, in.AppointmentID, "patient cancelled by "+string(in.Channel)+" reply")
	case ActionSendFormHelp:
		email, sms := r.messages.FormHelp(d)
		return r.notify(ctx, d, email, sms)
	case ActionSendHelpInfo:
		email, sms := r.messages.HelpInfo(d)
		return r.notify(ctx, d, email, sms)
	}
	return nil
}

// notify sends a follow-up on every channel the patient has. It only fails
// when no channel got through.
func (r *Recorder) notify(ctx context.Context, d Details, email notify.EmailMessage, sms string) error {
	var errs []error
	delivered := false

	if d.PatientEmail != "" && r.email != nil {
		if err := r.email.SendEmail(ctx, email); err != nil {
			errs = append(errs, &ChannelError{Channel: ChannelEmail, Err: err})
		} else {
			delivered = true
		}
	}
	if d.PatientPhone != "" && r.sms != nil {
		if err := r.sms.SendSMS(ctx, d.PatientPhone, sms); err != nil {
			errs = append(errs, &ChannelError{Channel: ChannelSMS, Err: err})
		} else {
			delivered = true
		}
	}

	if delivered || len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// RecordToken handles a click on a reply link. Links are single use: a
// repeated click reports the outcome of the first one without acting again.
func (r *Recorder) RecordToken(ctx context.Context, token string) (*Result, error) {
	if token == "" {
		return nil, &ValidationError{Field: "token", Reason: "is required"}
	}

	target, err := r.store.GetReplyTarget(ctx, token)
	if err != nil {
		return nil, err
	}

	if target.UsedAt != nil {
		return r.repeatedClick(ctx, target)
	}

	res, err := r.record(ctx, Input{
		AppointmentID: target.AppointmentID,
		ResponseType:  target.ResponseType,
		Channel:       ChannelWeb,
		Extra: map[string]any{
			"reply_target_id": target.ID,
			"reminder_id":     target.ReminderID,
		},
	}, token)
	if errors.Is(err, ErrReplyTargetUsed) {
		return r.repeatedClick(ctx, target)
	}
	return res, err
}

// repeatedClick reports what the first click on target recorded.
func (r *Recorder) repeatedClick(ctx context.Context, target *ReplyTarget) (*Result, error) {
	res := &Result{
		ReminderID:   &target.ReminderID,
		ResponseType: target.ResponseType,
		Action:       actionFor(target.ResponseType),
		Duplicate:    true,
	}
	prev, err := r.store.LatestResponseForReminder(ctx, target.ReminderID, target.ResponseType)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		res.ResponseID = prev.ID
		res.Action = prev.ActionTaken
		res.Processed = prev.Processed
	}
	return res, nil
}

// RecordSMS attributes an inbound text to the latest reminder texted to the
// sender and records it with its classified intent.
func (r *Recorder) RecordSMS(ctx context.Context, from, body string) (*Result, error) {
	phone, err := notify.NormalizePhone(from, r.countryCode)
	if err != nil {
		return nil, &ValidationError{Field: "from", Reason: "is not a valid phone number"}
	}

	rem, err := r.store.FindLatestSentByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	return r.Record(ctx, Input{
		AppointmentID: rem.AppointmentID,
		ResponseType:  Classify(body),
		Channel:       ChannelSMS,
		Content:       body,
		Extra:         map[string]any{"from": phone},
	})
}
