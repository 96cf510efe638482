package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/model"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by lookups by reminder id.
	ErrNotFound = errors.New("reminder not found")
	// ErrNoMatchingReminder means a delivery report referenced an
	// external_call_id that no reminder carries.
	ErrNoMatchingReminder = errors.New("no reminder matches external call id")
)

// ApplyResult describes what ApplyReport did.
type ApplyResult struct {
	ReminderID uuid.UUID
	// Duplicate is true when the same (external_call_id, status,
	// received_at) had already been recorded; nothing was written.
	Duplicate bool
	// Transitioned is true when the report moved the reminder to a
	// terminal status.
	Transitioned bool
	Status       model.Status
}

// FeedItem is a reminder together with its most recent call log.
type FeedItem struct {
	Reminder  model.Reminder
	LatestLog *model.CallLog
}

type ReminderRepository interface {
	Create(ctx context.Context, r model.Reminder) (model.Reminder, error)
	Get(ctx context.Context, id uuid.UUID) (model.Reminder, error)
	CallLogs(ctx context.Context, reminderID uuid.UUID) ([]model.CallLog, error)

	FindDue(ctx context.Context, now time.Time, limit int) ([]model.Reminder, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	MarkInitiated(ctx context.Context, id uuid.UUID, externalCallID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	ApplyReport(ctx context.Context, report model.DeliveryReport) (ApplyResult, error)
	ListUpdatedSince(ctx context.Context, cutoff time.Time, limit int) ([]FeedItem, error)
}
