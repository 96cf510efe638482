package feed

import (
	"context"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/model"
	"github.com/LeventeLantos/reminder-dispatch/internal/repo"
	"github.com/google/uuid"
)

const (
	DefaultWindowSeconds = 10
	MinWindowSeconds     = 1
	MaxWindowSeconds     = 300
	MaxItems             = 50
)

type Source interface {
	ListUpdatedSince(ctx context.Context, cutoff time.Time, limit int) ([]repo.FeedItem, error)
}

type LatestLog struct {
	Status     model.CallStatus `json:"status"`
	Transcript *string          `json:"transcript"`
	ReceivedAt time.Time        `json:"received_at"`
}

type Notification struct {
	ReminderID     uuid.UUID    `json:"reminder_id"`
	UserID         uuid.UUID    `json:"user_id"`
	PhoneNumber    string       `json:"phone_number"`
	Message        string       `json:"message"`
	Status         model.Status `json:"status"`
	UpdatedAt      time.Time    `json:"updated_at"`
	ExternalCallID *string      `json:"external_call_id"`
	LatestLog      *LatestLog   `json:"latest_log"`
}

type Page struct {
	Count         int            `json:"count"`
	SinceSeconds  int            `json:"since_seconds"`
	Notifications []Notification `json:"notifications"`
}

// Feed lists reminders whose status changed recently. It keeps no cursor;
// overlapping windows return the same items again and consumers dedupe.
type Feed struct {
	src Source
	now func() time.Time
}

func New(src Source) *Feed {
	return &Feed{src: src, now: time.Now}
}

// ClampWindow maps a requested window to [MinWindowSeconds, MaxWindowSeconds].
// Zero or negative means the default.
func ClampWindow(sinceSeconds int) int {
	switch {
	case sinceSeconds <= 0:
		return DefaultWindowSeconds
	case sinceSeconds > MaxWindowSeconds:
		return MaxWindowSeconds
	}
	return sinceSeconds
}

func (f *Feed) Recent(ctx context.Context, sinceSeconds int) (Page, error) {
	w := ClampWindow(sinceSeconds)
	cutoff := f.now().UTC().Add(-time.Duration(w) * time.Second)

	items, err := f.src.ListUpdatedSince(ctx, cutoff, MaxItems)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Count:         len(items),
		SinceSeconds:  w,
		Notifications: make([]Notification, 0, len(items)),
	}
	for _, it := range items {
		n := Notification{
			ReminderID:     it.Reminder.ID,
			UserID:         it.Reminder.UserID,
			PhoneNumber:    it.Reminder.PhoneNumber,
			Message:        it.Reminder.Message,
			Status:         it.Reminder.Status,
			UpdatedAt:      it.Reminder.UpdatedAt,
			ExternalCallID: it.Reminder.ExternalCallID,
		}
		if l := it.LatestLog; l != nil {
			n.LatestLog = &LatestLog{Status: l.Status, Transcript: l.Transcript, ReceivedAt: l.ReceivedAt}
		}
		page.Notifications = append(page.Notifications, n)
	}
	return page, nil
}
