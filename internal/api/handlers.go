package api

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/appointment"
	"github.com/hackgods/clinic-reminders/internal/availability"
	"github.com/hackgods/clinic-reminders/internal/booking"
	"github.com/hackgods/clinic-reminders/internal/lock"
	"github.com/hackgods/clinic-reminders/internal/reminder"
)

type handlers struct {
	bookings  Bookings
	slots     Slots
	responses Responses
	reminders Reminders
	events    Events
	loc       *time.Location
	log       logrus.FieldLogger
	now       func() time.Time
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	doctor := chi.URLParam(r, "doctor")
	if unescaped, err := url.PathUnescape(doctor); err == nil {
		doctor = unescaped
	}

	dateStr := r.URL.Query().Get("date")
	date, err := time.ParseInLocation("2006-01-02", dateStr, h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	duration := 0
	if raw := r.URL.Query().Get("duration"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration < 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a non-negative number of minutes")
			return
		}
	}

	starts, err := h.slots.GetAvailableSlots(r.Context(), doctor, date, duration)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SlotsResponse{Doctor: doctor, Date: dateStr, Slots: starts})
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	var req booking.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	res, err := h.bookings.Book(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, BookingResponse{
		AppointmentResponse: toAppointmentResponse(res.Appointment),
		RemindersScheduled:  res.RemindersScheduled,
	})
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.GetByBookingID(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled via api"
	}

	appt, err := h.bookings.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.bookings.Confirm(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) listReminders(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	list, err := h.reminders.ListByAppointment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []reminder.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": list})
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	if h.events == nil {
		writeError(w, http.StatusNotFound, "not_found", "event log is not enabled")
		return
	}

	events, err := h.events.ListForAppointment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *handlers) scheduleReminders(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	n, err := h.bookings.Reschedule(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{AppointmentID: id, Scheduled: n})
}

func (h *handlers) recordResponse(w http.ResponseWriter, r *http.Request) {
	var req RecordResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	var id uuid.UUID
	if req.AppointmentID != "" {
		parsed, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation_failed",
				Details: "appointment_id must be a valid UUID",
				Field:   "appointment_id",
			})
			return
		}
		id = parsed
	}

	res, err := h.responses.Record(r.Context(), reminder.Input{
		AppointmentID: id,
		ResponseType:  reminder.ResponseType(req.ResponseType),
		Channel:       reminder.Channel(req.Channel),
		Content:       req.Content,
		Extra:         req.Extra,
	})
	if err != nil && res == nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err != nil {
		// stored but the follow-up action failed; it stays unprocessed
		h.log.WithError(err).WithField("response_id", res.ResponseID).Error("response action failed")
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// recordSMS is the inbound SMS webhook. It answers with TwiML so the
// provider does not retry messages that were understood but not actionable.
func (h *handlers) recordSMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "could not parse form body")
		return
	}
	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")

	reply := ""
	res, err := h.responses.RecordSMS(r.Context(), from, body)
	switch {
	case err == nil && res.Action == reminder.ActionManualReview:
		reply = "Thanks, a member of our team will get back to you."
	case err == nil:
	case errors.Is(err, reminder.ErrNoReminderForPhone):
		h.log.WithField("from", from).Warn("inbound sms from unknown number")
	default:
		var verr *reminder.ValidationError
		if errors.As(err, &verr) {
			h.writeServiceError(w, r, err)
			return
		}
		if res == nil {
			h.writeServiceError(w, r, err)
			return
		}
		h.log.WithError(err).Error("sms response action failed")
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(twiml{Message: reply})
}

var replyPages = map[reminder.Action]string{
	reminder.ActionMarkFormsComplete:     "Thank you! Your forms are marked as complete.",
	reminder.ActionSendFormHelp:          "No problem. We have sent you instructions for finishing your forms.",
	reminder.ActionMarkVisitConfirmed:    "Thank you! Your appointment is confirmed.",
	reminder.ActionEmergencyCancellation: "Your appointment has been cancelled. Please contact us to rebook.",
	reminder.ActionSendHelpInfo:          "We have sent you our contact details.",
}

func (h *handlers) replyLink(w http.ResponseWriter, r *http.Request) {
	res, err := h.responses.RecordToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil && res == nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err != nil {
		h.log.WithError(err).Error("reply link action failed")
	}

	msg, ok := replyPages[res.Action]
	if !ok {
		msg = "Thank you, we have received your response."
	}
	if res.Duplicate {
		msg = "We already have your response. " + msg
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(msg + "\n"))
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_days", "days must be a positive integer")
			return
		}
		days = n
	}

	stats, err := reminder.StatsForDays(r.Context(), h.reminders, h.now(), days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps domain errors to HTTP responses.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *reminder.ValidationError
		conflict *booking.ConflictError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Details: verr.Reason, Field: verr.Field})
	case errors.Is(err, booking.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:        "slot_taken",
			Details:      "the requested slot is no longer available",
			Alternatives: conflict.Alternatives,
		})
	case errors.Is(err, availability.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, lock.ErrTimeout):
		writeError(w, http.StatusServiceUnavailable, "lock_timeout", "the schedule is busy, please retry")
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, reminder.ErrReplyTargetNotFound):
		writeError(w, http.StatusNotFound, "reply_link_not_found", "this link is not valid")
	case errors.Is(err, reminder.ErrNoReminderForPhone):
		writeError(w, http.StatusNotFound, "no_reminder_for_phone", err.Error())
	default:
		h.log.WithError(err).WithField("request_id", GetRequestID(r.Context())).Error("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
