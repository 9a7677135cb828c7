package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-reminders/internal/db"
)

// Store persists reminders, reply targets and responses.
type Store interface {
	CreateIfAbsent(ctx context.Context, appointmentID uuid.UUID, kind Kind, fireAt time.Time, email, phone string) (bool, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error)

	ListDue(ctx context.Context, now time.Time, limit int) ([]DueReminder, error)
	MarkSkipped(ctx context.Context, id int64) error
	RecordAttempt(ctx context.Context, id int64, a Attempt) (*Reminder, error)

	EnsureReplyTargets(ctx context.Context, reminderID int64, appointmentID uuid.UUID, types []ResponseType) ([]ReplyTarget, error)
	GetReplyTarget(ctx context.Context, token string) (*ReplyTarget, error)

	// SaveResponse links r to the latest sent reminder of its appointment and
	// inserts it in one transaction. A non-empty claimToken also marks that
	// reply target used in the same transaction; ErrReplyTargetUsed means an
	// earlier click already claimed it and nothing was written.
	SaveResponse(ctx context.Context, r *Response, claimToken string, at time.Time) error
	MarkResponseProcessed(ctx context.Context, responseID int64) error
	LatestResponseForReminder(ctx context.Context, reminderID int64, responseType ResponseType) (*Response, error)
	FindLatestSentByPhone(ctx context.Context, phone string) (*Reminder, error)

	Stats(ctx context.Context, since time.Time) (*Stats, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error)
}

const reminderColumns = `id, appointment_id, kind, fire_at, sent, skipped, email_sent, sms_sent,
		       response_received, attempts, last_attempt_at, next_attempt_at, dead_lettered_at,
		       patient_email, patient_phone, created_at`

type PgStore struct {
	db db.DB
}

func NewPgStore(conn db.DB) *PgStore {
	return &PgStore{db: conn}
}

var _ Store = (*PgStore)(nil)

func scanReminder(row pgx.Row, extra ...any) (*Reminder, error) {
	var r Reminder
	var kind string

	dest := []any{
		&r.ID,
		&r.AppointmentID,
		&kind,
		&r.FireAt,
		&r.Sent,
		&r.Skipped,
		&r.EmailSent,
		&r.SMSSent,
		&r.ResponseReceived,
		&r.Attempts,
		&r.LastAttemptAt,
		&r.NextAttemptAt,
		&r.DeadLetteredAt,
		&r.PatientEmail,
		&r.PatientPhone,
		&r.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, err
	}

	r.Kind = Kind(kind)
	return &r, nil
}

func (s *PgStore) CreateIfAbsent(ctx context.Context, appointmentID uuid.UUID, kind Kind, fireAt time.Time, email, phone string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO reminders (appointment_id, kind, fire_at, patient_email, patient_phone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id, kind) DO NOTHING
	`, appointmentID, string(kind), fireAt, email, phone)
	if err != nil {
		return false, fmt.Errorf("insert reminder %s: %w", kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE appointment_id = $1
		ORDER BY fire_at
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	out := make([]Reminder, 0, len(Tiers))
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListDue returns unsent reminders whose fire time (and retry time, if any)
// has come, for appointments that are still active.
func (s *PgStore) ListDue(ctx context.Context, now time.Time, limit int) ([]DueReminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.appointment_id, r.kind, r.fire_at, r.sent, r.skipped, r.email_sent, r.sms_sent,
		       r.response_received, r.attempts, r.last_attempt_at, r.next_attempt_at, r.dead_lettered_at,
		       r.patient_email, r.patient_phone, r.created_at,
		       a.patient_name, a.doctor_id, a.location, a.start_time, a.duration_minutes
		FROM reminders r
		JOIN appointments a ON a.id = r.appointment_id
		WHERE r.fire_at <= $1
		  AND r.sent = false
		  AND r.dead_lettered_at IS NULL
		  AND (r.next_attempt_at IS NULL OR r.next_attempt_at <= $1)
		  AND a.status NOT IN ('cancelled', 'completed')
		ORDER BY r.fire_at, r.id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	var out []DueReminder
	for rows.Next() {
		var d DueReminder
		r, err := scanReminder(rows, &d.PatientName, &d.DoctorID, &d.Location, &d.AppointmentStart, &d.DurationMinutes)
		if err != nil {
			return nil, err
		}
		d.Reminder = *r
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PgStore) MarkSkipped(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminders
		SET sent = true,
		    skipped = true
		WHERE id = $1
		  AND sent = false
	`, id)
	if err != nil {
		return fmt.Errorf("mark reminder %d skipped: %w", id, err)
	}
	return nil
}

// RecordAttempt applies one dispatch outcome in a single statement. A failed
// attempt schedules the next try, or dead-letters the reminder once it has
// used up its attempts.
func (s *PgStore) RecordAttempt(ctx context.Context, id int64, a Attempt) (*Reminder, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE reminders
		SET attempts = attempts + 1,
		    last_attempt_at = $2,
		    email_sent = email_sent OR $3,
		    sms_sent = sms_sent OR $4,
		    sent = sent OR $3 OR $4,
		    next_attempt_at = CASE WHEN $3 OR $4 THEN NULL ELSE $5 END,
		    dead_lettered_at = CASE
		        WHEN NOT ($3 OR $4) AND attempts + 1 >= $6 THEN $2
		        ELSE dead_lettered_at
		    END
		WHERE id = $1
		RETURNING `+reminderColumns,
		id, a.At, a.EmailSent, a.SMSSent, a.NextAttemptAt, a.MaxAttempts,
	)
	return scanReminder(row)
}

func (s *PgStore) EnsureReplyTargets(ctx context.Context, reminderID int64, appointmentID uuid.UUID, types []ResponseType) ([]ReplyTarget, error) {
	for _, t := range types {
		_, err := s.db.Exec(ctx, `
			INSERT INTO reply_targets (reminder_id, appointment_id, response_type, token)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (reminder_id, response_type) DO NOTHING
		`, reminderID, appointmentID, string(t), newToken())
		if err != nil {
			return nil, fmt.Errorf("insert reply target %s: %w", t, err)
		}
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, reminder_id, appointment_id, response_type, token, used_at, created_at
		FROM reply_targets
		WHERE reminder_id = $1
		ORDER BY id
	`, reminderID)
	if err != nil {
		return nil, fmt.Errorf("list reply targets: %w", err)
	}
	defer rows.Close()

	var out []ReplyTarget
	for rows.Next() {
		t, err := scanReplyTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanReplyTarget(row pgx.Row) (*ReplyTarget, error) {
	var t ReplyTarget
	var rt string
	err := row.Scan(&t.ID, &t.ReminderID, &t.AppointmentID, &rt, &t.Token, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReplyTargetNotFound
		}
		return nil, err
	}
	t.ResponseType = ResponseType(rt)
	return &t, nil
}

func (s *PgStore) GetReplyTarget(ctx context.Context, token string) (*ReplyTarget, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, reminder_id, appointment_id, response_type, token, used_at, created_at
		FROM reply_targets
		WHERE token = $1
	`, token)
	return scanReplyTarget(row)
}

func (s *PgStore) SaveResponse(ctx context.Context, r *Response, claimToken string, at time.Time) error {
	var extra []byte
	if len(r.Extra) > 0 {
		b, err := json.Marshal(r.Extra)
		if err != nil {
			return fmt.Errorf("marshal response extra: %w", err)
		}
		extra = b
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save response: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if claimToken != "" {
		tag, err := tx.Exec(ctx, `
			UPDATE reply_targets
			SET used_at = $2
			WHERE token = $1
			  AND used_at IS NULL
		`, claimToken, at)
		if err != nil {
			return fmt.Errorf("mark reply target used: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrReplyTargetUsed
		}
	}

	reminderID, err := markLatestResponded(ctx, tx, r.AppointmentID)
	if err != nil {
		return err
	}
	r.ReminderID = reminderID

	err = tx.QueryRow(ctx, `
		INSERT INTO reminder_responses (appointment_id, reminder_id, response_type, channel, content, extra, action_taken, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)
		RETURNING id, received_at
	`, r.AppointmentID, r.ReminderID, string(r.ResponseType), string(r.Channel), r.Content, extra, string(r.ActionTaken),
	).Scan(&r.ID, &r.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save response: %w", err)
	}
	return nil
}

// markLatestResponded flags the most recently fired sent reminder of the
// appointment and returns its id, or nil when none was sent.
func markLatestResponded(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID) (*int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		UPDATE reminders
		SET response_received = true
		WHERE id = (
			SELECT id FROM reminders
			WHERE appointment_id = $1
			  AND sent = true
			  AND skipped = false
			ORDER BY fire_at DESC, id DESC
			LIMIT 1
		)
		RETURNING id
	`, appointmentID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("mark reminder responded: %w", err)
	}
	return &id, nil
}

func (s *PgStore) MarkResponseProcessed(ctx context.Context, responseID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminder_responses SET processed = true WHERE id = $1
	`, responseID)
	if err != nil {
		return fmt.Errorf("mark response %d processed: %w", responseID, err)
	}
	return nil
}

// LatestResponseForReminder finds the response a reply link produced, so a
// repeated click can report the first outcome.
func (s *PgStore) LatestResponseForReminder(ctx context.Context, reminderID int64, responseType ResponseType) (*Response, error) {
	var r Response
	var rt, ch, action string
	err := s.db.QueryRow(ctx, `
		SELECT id, appointment_id, reminder_id, response_type, channel, content, action_taken, processed, received_at
		FROM reminder_responses
		WHERE reminder_id = $1
		  AND response_type = $2
		ORDER BY received_at DESC, id DESC
		LIMIT 1
	`, reminderID, string(responseType)).Scan(
		&r.ID, &r.AppointmentID, &r.ReminderID, &rt, &ch, &r.Content, &action, &r.Processed, &r.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest response: %w", err)
	}
	r.ResponseType = ResponseType(rt)
	r.Channel = Channel(ch)
	r.ActionTaken = Action(action)
	return &r, nil
}

func (s *PgStore) FindLatestSentByPhone(ctx context.Context, phone string) (*Reminder, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE patient_phone = $1
		  AND sms_sent = true
		ORDER BY last_attempt_at DESC NULLS LAST, id DESC
		LIMIT 1
	`, phone)
	r, err := scanReminder(row)
	if errors.Is(err, ErrReminderNotFound) {
		return nil, ErrNoReminderForPhone
	}
	return r, err
}

func (s *PgStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{
		Since:     since,
		ByKind:    make(map[Kind]KindStats, len(Tiers)),
		Responses: map[ResponseType]int64{},
	}

	rows, err := s.db.Query(ctx, `
		SELECT kind,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE sent AND NOT skipped),
		       COUNT(*) FILTER (WHERE skipped),
		       COUNT(*) FILTER (WHERE dead_lettered_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE NOT sent AND dead_lettered_at IS NULL),
		       COUNT(*) FILTER (WHERE response_received)
		FROM reminders
		WHERE created_at >= $1
		GROUP BY kind
	`, since)
	if err != nil {
		return nil, fmt.Errorf("reminder stats: %w", err)
	}
	for rows.Next() {
		var kind string
		var ks KindStats
		if err := rows.Scan(&kind, &ks.Total, &ks.Sent, &ks.Skipped, &ks.DeadLettered, &ks.Pending, &ks.Responded); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByKind[Kind(kind)] = ks
		stats.Total += ks.Total
		stats.Sent += ks.Sent
		stats.Responded += ks.Responded
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(ctx, `
		SELECT response_type, COUNT(*)
		FROM reminder_responses
		WHERE received_at >= $1
		GROUP BY response_type
	`, since)
	if err != nil {
		return nil, fmt.Errorf("response stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rt string
		var n int64
		if err := rows.Scan(&rt, &n); err != nil {
			return nil, err
		}
		stats.Responses[ResponseType(rt)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.SendRate = ratio(stats.Sent, stats.Total)
	stats.ResponseRate = ratio(stats.Responded, stats.Sent)
	return stats, nil
}

// PurgeBefore deletes reminder data for appointments that started before
// cutoff. Children go first.
func (s *PgStore) PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	var res PurgeResult

	tag, err := s.db.Exec(ctx, `
		DELETE FROM reminder_responses rr
		USING appointments a
		WHERE a.id = rr.appointment_id
		  AND a.start_time < $1
	`, cutoff)
	if err != nil {
		return res, fmt.Errorf("purge responses: %w", err)
	}
	res.Responses = tag.RowsAffected()

	tag, err = s.db.Exec(ctx, `
		DELETE FROM reply_targets rt
		USING appointments a
		WHERE a.id = rt.appointment_id
		  AND a.start_time < $1
	`, cutoff)
	if err != nil {
		return res, fmt.Errorf("purge reply targets: %w", err)
	}
	res.ReplyTargets = tag.RowsAffected()

	tag, err = s.db.Exec(ctx, `
		DELETE FROM reminders r
		USING appointments a
		WHERE a.id = r.appointment_id
		  AND a.start_time < $1
	`, cutoff)
	if err != nil {
		return res, fmt.Errorf("purge reminders: %w", err)
	}
	res.Reminders = tag.RowsAffected()

	return res, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
