package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-reminders/internal/notify"
)

const (
	displayDateLayout = "Monday, January 2"
	displayTimeLayout = "03:04 PM"
)

// Messages renders reminder and follow-up texts for both channels.
type Messages struct {
	ClinicName  string
	ClinicPhone string
	BaseURL     string
	Location    *time.Location
}

// Details is what a message says about an appointment.
type Details struct {
	PatientName  string
	PatientEmail string
	PatientPhone string
	DoctorID     string
	Location     string
	Start        time.Time
}

func (m Messages) when(t time.Time) (string, string) {
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return t.Format(displayDateLayout), t.Format(displayTimeLayout)
}

func (m Messages) link(token string) string {
	return strings.TrimRight(m.BaseURL, "/") + "/r/" + token
}

func greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Hello"
	}
	return "Hi " + name
}

var replyLabels = map[ResponseType]string{
	ResponseFormCompleted:  "I have completed my intake forms",
	ResponseFormIncomplete: "I have not finished my forms yet",
	ResponseVisitConfirmed: "Yes, I will attend",
	ResponseVisitCancelled: "I need to cancel",
}

// Reminder builds the email and SMS for one due reminder.
func (m Messages) Reminder(d DueReminder, targets []ReplyTarget) (notify.EmailMessage, string) {
	date, tm := m.when(d.AppointmentStart)
	hello := greeting(d.PatientName)

	var subject, intro, sms string
	switch d.Kind {
	case KindInitial:
		subject = fmt.Sprintf("Appointment reminder: %s on %s", d.DoctorID, date)
		intro = fmt.Sprintf("This is a reminder that your appointment with %s is in one week.", d.DoctorID)
		sms = fmt.Sprintf("%s, reminder: your appointment with %s at %s is on %s at %s. Reply HELP for assistance. - %s",
			hello, d.DoctorID, d.Location, date, tm, m.ClinicName)
	case KindFormCheck:
		subject = "Your appointment is tomorrow: are your forms ready?"
		intro = fmt.Sprintf("Your appointment with %s is tomorrow. Please make sure your intake forms are complete and let us know if you will attend.", d.DoctorID)
		sms = fmt.Sprintf("%s, your appointment with %s is tomorrow at %s. Reply DONE if your forms are complete, YES to confirm, CANCEL to cancel. - %s",
			hello, d.DoctorID, tm, m.ClinicName)
	case KindFinalConfirmation:
		subject = "Your appointment is in 2 hours"
		intro = fmt.Sprintf("Your appointment with %s starts in about two hours. Please confirm you are on your way, or let us know if something came up.", d.DoctorID)
		sms = fmt.Sprintf("%s, your appointment with %s at %s starts at %s. Reply YES to confirm or CANCEL if you cannot make it. - %s",
			hello, d.DoctorID, d.Location, tm, m.ClinicName)
	default:
		subject = "Appointment reminder"
		intro = fmt.Sprintf("You have an appointment with %s.", d.DoctorID)
		sms = fmt.Sprintf("%s, you have an appointment with %s on %s at %s. - %s", hello, d.DoctorID, date, tm, m.ClinicName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s,\n\n%s\n\n", hello, intro)
	fmt.Fprintf(&b, "Doctor: %s\nLocation: %s\nDate: %s\nTime: %s\n", d.DoctorID, d.Location, date, tm)
	if len(targets) > 0 {
		b.WriteString("\nLet us know with one click:\n")
		for _, t := range targets {
			label := replyLabels[t.ResponseType]
			if label == "" {
				label = string(t.ResponseType)
			}
			fmt.Fprintf(&b, "  %s: %s\n", label, m.link(t.Token))
		}
	}
	b.WriteString(m.signature())

	email := notify.EmailMessage{
		To:      d.PatientEmail,
		ToName:  d.PatientName,
		Subject: subject,
		Body:    b.String(),
	}
	return email, sms
}

// FormHelp is sent when a patient says their forms are not done.
func (m Messages) FormHelp(d Details) (notify.EmailMessage, string) {
	date, tm := m.when(d.Start)
	body := fmt.Sprintf("%s,\n\nNo problem. Please bring a photo ID and your insurance card and arrive 15 minutes early on %s at %s so our front desk can help you finish your intake forms.\n%s",
		greeting(d.PatientName), date, tm, m.signature())
	sms := fmt.Sprintf("No problem! Please arrive 15 minutes early on %s at %s with your ID and insurance card and we will help you finish your forms. - %s",
		date, tm, m.ClinicName)
	return notify.EmailMessage{To: d.PatientEmail, ToName: d.PatientName, Subject: "Help with your intake forms", Body: body}, sms
}

// HelpInfo answers a HELP reply.
func (m Messages) HelpInfo(d Details) (notify.EmailMessage, string) {
	date, tm := m.when(d.Start)
	contact := m.ClinicName
	if m.ClinicPhone != "" {
		contact = fmt.Sprintf("%s at %s", m.ClinicName, m.ClinicPhone)
	}
	body := fmt.Sprintf("%s,\n\nYour appointment with %s at %s is on %s at %s. For questions or changes please call %s.\n%s",
		greeting(d.PatientName), d.DoctorID, d.Location, date, tm, contact, m.signature())
	sms := fmt.Sprintf("Your appointment with %s is on %s at %s. Reply YES to confirm or CANCEL to cancel. Questions? Call %s.",
		d.DoctorID, date, tm, contact)
	return notify.EmailMessage{To: d.PatientEmail, ToName: d.PatientName, Subject: "Your appointment details", Body: body}, sms
}

func (m Messages) signature() string {
	if m.ClinicPhone != "" {
		return fmt.Sprintf("\n%s\n%s\n", m.ClinicName, m.ClinicPhone)
	}
	return fmt.Sprintf("\n%s\n", m.ClinicName)
}
