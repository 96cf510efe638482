package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/model"
	"github.com/google/uuid"
)

// PostgresReminderRepo expects the reminders and call_logs tables to exist,
// with a unique index on call_logs(external_call_id, status, received_at).
type PostgresReminderRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresReminderRepo(db *sql.DB) *PostgresReminderRepo {
	return &PostgresReminderRepo{db: db, now: time.Now}
}

const reminderColumns = `id, user_id, phone_number, message, scheduled_at, status,
		       external_call_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(s scanner, extra ...any) (model.Reminder, error) {
	var r model.Reminder
	var status string
	var callID sql.NullString

	dest := []any{
		&r.ID,
		&r.UserID,
		&r.PhoneNumber,
		&r.Message,
		&r.ScheduledAt,
		&status,
		&callID,
		&r.CreatedAt,
		&r.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return model.Reminder{}, err
	}

	r.Status = model.Status(status)
	if callID.Valid {
		id := callID.String
		r.ExternalCallID = &id
	}
	return r, nil
}

func (r *PostgresReminderRepo) Create(ctx context.Context, rem model.Reminder) (model.Reminder, error) {
	if rem.ID == uuid.Nil {
		rem.ID = uuid.New()
	}
	now := r.now().UTC()
	rem.Status = model.Scheduled
	rem.ExternalCallID = nil
	rem.CreatedAt = now
	rem.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reminders (id, user_id, phone_number, message, scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'scheduled', $6, $7)
	`, rem.ID, rem.UserID, rem.PhoneNumber, rem.Message, rem.ScheduledAt.UTC(), rem.CreatedAt, rem.UpdatedAt)
	if err != nil {
		return model.Reminder{}, fmt.Errorf("insert reminder: %w", err)
	}
	return rem, nil
}

func (r *PostgresReminderRepo) Get(ctx context.Context, id uuid.UUID) (model.Reminder, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE id = $1
	`, id)

	rem, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reminder{}, ErrNotFound
	}
	return rem, err
}

func (r *PostgresReminderRepo) CallLogs(ctx context.Context, reminderID uuid.UUID) ([]model.CallLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, reminder_id, external_call_id, status, transcript, received_at
		FROM call_logs
		WHERE reminder_id = $1
		ORDER BY received_at ASC
	`, reminderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CallLog
	for rows.Next() {
		var l model.CallLog
		var status string
		var transcript sql.NullString
		if err := rows.Scan(&l.ID, &l.ReminderID, &l.ExternalCallID, &status, &transcript, &l.ReceivedAt); err != nil {
			return nil, err
		}
		l.Status = model.CallStatus(status)
		if transcript.Valid {
			s := transcript.String
			l.Transcript = &s
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresReminderRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]model.Reminder, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// Claim moves a reminder from scheduled to processing. It is a single
// conditioned update; false means another dispatcher got there first.
func (r *PostgresReminderRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminders
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'scheduled'
	`, id, r.now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresReminderRepo) MarkInitiated(ctx context.Context, id uuid.UUID, externalCallID string) error {
	now := r.now().UTC()

	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE reminders
			SET external_call_id = $2, updated_at = $3
			WHERE id = $1 AND status = 'processing' AND external_call_id IS NULL
		`, id, externalCallID, now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("reminder %s is not awaiting initiation", id)
		}

		_, err = insertCallLog(ctx, tx, model.CallLog{
			ID:             uuid.New(),
			ReminderID:     id,
			ExternalCallID: externalCallID,
			Status:         model.CallCreated,
			ReceivedAt:     now,
		})
		return err
	})
}

func (r *PostgresReminderRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	now := r.now().UTC()
	transcript := "Error: " + reason

	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE reminders
			SET status = 'failed', updated_at = $2
			WHERE id = $1 AND status = 'processing'
		`, id, now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("reminder %s is not processing", id)
		}

		_, err = insertCallLog(ctx, tx, model.CallLog{
			ID:             uuid.New(),
			ReminderID:     id,
			ExternalCallID: FailedCallID(id),
			Status:         model.CallFailed,
			Transcript:     &transcript,
			ReceivedAt:     now,
		})
		return err
	})
}

// FailedCallID is the call log correlation id used when the gateway never
// issued one.
func FailedCallID(reminderID uuid.UUID) string {
	return "failed-to-create-" + reminderID.String()
}

// ApplyReport records a delivery report against the reminder owning its
// external_call_id. The reminder row is locked for the duration so that
// concurrent reports for the same reminder are serialized.
func (r *PostgresReminderRepo) ApplyReport(ctx context.Context, report model.DeliveryReport) (ApplyResult, error) {
	var result ApplyResult
	receivedAt := report.ReceivedAt.UTC().Truncate(time.Microsecond)

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT id, status
			FROM reminders
			WHERE external_call_id = $1
			FOR UPDATE
		`, report.ExternalCallID).Scan(&result.ReminderID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoMatchingReminder
		}
		if err != nil {
			return err
		}
		current := model.Status(status)
		result.Status = current

		inserted, err := insertCallLog(ctx, tx, model.CallLog{
			ID:             uuid.New(),
			ReminderID:     result.ReminderID,
			ExternalCallID: report.ExternalCallID,
			Status:         report.Status,
			Transcript:     report.Transcript,
			ReceivedAt:     receivedAt,
		})
		if err != nil {
			return err
		}
		if !inserted {
			result.Duplicate = true
			return nil
		}

		next, terminal := report.Status.Outcome()
		if !terminal || !current.CanTransition(next) {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE reminders
			SET status = $2, updated_at = $3
			WHERE id = $1 AND status = 'processing'
		`, result.ReminderID, string(next), r.now().UTC())
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 1 {
			result.Transitioned = true
			result.Status = next
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

func (r *PostgresReminderRepo) ListUpdatedSince(ctx context.Context, cutoff time.Time, limit int) ([]FeedItem, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.phone_number, r.message, r.scheduled_at, r.status,
		       r.external_call_id, r.created_at, r.updated_at,
		       l.id, l.external_call_id, l.status, l.transcript, l.received_at
		FROM reminders r
		LEFT JOIN LATERAL (
			SELECT id, external_call_id, status, transcript, received_at
			FROM call_logs
			WHERE reminder_id = r.id
			ORDER BY received_at DESC
			LIMIT 1
		) l ON TRUE
		WHERE r.updated_at >= $1
		ORDER BY r.updated_at DESC
		LIMIT $2
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeedItem
	for rows.Next() {
		var (
			logID      uuid.NullUUID
			logCallID  sql.NullString
			logStatus  sql.NullString
			transcript sql.NullString
			receivedAt sql.NullTime
		)
		rem, err := scanReminder(rows, &logID, &logCallID, &logStatus, &transcript, &receivedAt)
		if err != nil {
			return nil, err
		}

		item := FeedItem{Reminder: rem}
		if logID.Valid {
			l := &model.CallLog{
				ID:             logID.UUID,
				ReminderID:     rem.ID,
				ExternalCallID: logCallID.String,
				Status:         model.CallStatus(logStatus.String),
				ReceivedAt:     receivedAt.Time,
			}
			if transcript.Valid {
				s := transcript.String
				l.Transcript = &s
			}
			item.LatestLog = l
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *PostgresReminderRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// insertCallLog reports false when an identical log already exists.
func insertCallLog(ctx context.Context, tx *sql.Tx, l model.CallLog) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO call_logs (id, reminder_id, external_call_id, status, transcript, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_call_id, status, received_at) DO NOTHING
	`, l.ID, l.ReminderID, l.ExternalCallID, string(l.Status), nullString(l.Transcript), l.ReceivedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
