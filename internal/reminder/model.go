package reminder

import (
	"time"

	"github.com/google/uuid"
)

// Kind is one of the three reminder tiers.
type Kind string

const (
	KindInitial           Kind = "initial"
	KindFormCheck         Kind = "form_check"
	KindFinalConfirmation Kind = "final_confirmation"
)

// ResponseType is the classified intent of a patient reply.
type ResponseType string

const (
	ResponseFormCompleted  ResponseType = "form_completed"
	ResponseFormIncomplete ResponseType = "form_incomplete"
	ResponseVisitConfirmed ResponseType = "visit_confirmed"
	ResponseVisitCancelled ResponseType = "visit_cancelled"
	ResponseHelpRequest    ResponseType = "help_request"
	ResponseUnknown        ResponseType = "unknown"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelWeb   Channel = "web"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWeb:
		return true
	}
	return false
}

// Action is what the recorder did in response to a reply.
type Action string

const (
	ActionMarkFormsComplete     Action = "mark_forms_complete"
	ActionSendFormHelp          Action = "send_form_help"
	ActionMarkVisitConfirmed    Action = "mark_visit_confirmed"
	ActionEmergencyCancellation Action = "process_emergency_cancellation"
	ActionSendHelpInfo          Action = "send_help_info"
	ActionManualReview          Action = "manual_review_required"
)

type Reminder struct {
	ID               int64      `json:"id"`
	AppointmentID    uuid.UUID  `json:"appointment_id"`
	Kind             Kind       `json:"kind"`
	FireAt           time.Time  `json:"fire_at"`
	Sent             bool       `json:"sent"`
	Skipped          bool       `json:"skipped"`
	EmailSent        bool       `json:"email_sent"`
	SMSSent          bool       `json:"sms_sent"`
	ResponseReceived bool       `json:"response_received"`
	Attempts         int        `json:"attempts"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt    *time.Time `json:"next_attempt_at,omitempty"`
	DeadLetteredAt   *time.Time `json:"dead_lettered_at,omitempty"`
	PatientEmail     string     `json:"patient_email,omitempty"`
	PatientPhone     string     `json:"patient_phone,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DueReminder is a pending reminder joined with what the message needs to
// say about its appointment.
type DueReminder struct {
	Reminder
	PatientName      string
	DoctorID         string
	Location         string
	AppointmentStart time.Time
	DurationMinutes  int
}

// Attempt is the outcome of one dispatch pass over a reminder.
type Attempt struct {
	At            time.Time
	EmailSent     bool
	SMSSent       bool
	NextAttemptAt time.Time
	MaxAttempts   int
}

// ReplyTarget is a trackable link or keyword a patient can use to answer a
// reminder with a specific intent.
type ReplyTarget struct {
	ID            int64
	ReminderID    int64
	AppointmentID uuid.UUID
	ResponseType  ResponseType
	Token         string
	UsedAt        *time.Time
	CreatedAt     time.Time
}

type Response struct {
	ID            int64          `json:"id"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	ReminderID    *int64         `json:"reminder_id,omitempty"`
	ResponseType  ResponseType   `json:"response_type"`
	Channel       Channel        `json:"channel"`
	Content       string         `json:"content,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
	ActionTaken   Action         `json:"action_taken"`
	Processed     bool           `json:"processed"`
	ReceivedAt    time.Time      `json:"received_at"`
}

type KindStats struct {
	Total        int64 `json:"total"`
	Sent         int64 `json:"sent"`
	Skipped      int64 `json:"skipped"`
	DeadLettered int64 `json:"dead_lettered"`
	Pending      int64 `json:"pending"`
	Responded    int64 `json:"responded"`
}

type Stats struct {
	Since        time.Time              `json:"since"`
	ByKind       map[Kind]KindStats     `json:"by_kind"`
	Total        int64                  `json:"total"`
	Sent         int64                  `json:"sent"`
	Responded    int64                  `json:"responded"`
	SendRate     float64                `json:"send_rate"`
	ResponseRate float64                `json:"response_rate"`
	Responses    map[ResponseType]int64 `json:"responses"`
}

type PurgeResult struct {
	Responses    int64
	ReplyTargets int64
	Reminders    int64
}
