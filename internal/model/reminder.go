package model

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

type Status string

const (
	Scheduled  Status = "scheduled"
	Processing Status = "processing"
	Called     Status = "called"
	Failed     Status = "failed"
)

// MaxMessageLength bounds the text handed to the gateway, in runes.
const MaxMessageLength = 1000

var phonePattern = regexp.MustCompile(`^\+[0-9]{10,15}$`)

func (s Status) IsTerminal() bool {
	return s == Called || s == Failed
}

func (s Status) Valid() bool {
	switch s {
	case Scheduled, Processing, Called, Failed:
		return true
	}
	return false
}

// CanTransition reports whether a reminder may move from s to next.
// Status only advances: scheduled -> processing -> {called, failed}.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case Scheduled:
		return next == Processing
	case Processing:
		return next == Called || next == Failed
	}
	return false
}

type Reminder struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	PhoneNumber    string    `json:"phone_number"`
	Message        string    `json:"message"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	Status         Status    `json:"status"`
	ExternalCallID *string   `json:"external_call_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewReminder validates a producer request and returns a reminder in the
// scheduled state. now is the reference point for the future-time check.
func NewReminder(userID uuid.UUID, phone, message string, scheduledAt, now time.Time) (Reminder, error) {
	r := Reminder{
		ID:          uuid.New(),
		UserID:      userID,
		PhoneNumber: strings.TrimSpace(phone),
		Message:     strings.TrimSpace(message),
		ScheduledAt: scheduledAt.UTC(),
		Status:      Scheduled,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}

	err := validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.By(notNilUUID)),
		validation.Field(&r.PhoneNumber,
			validation.Required,
			validation.Match(phonePattern).Error("must be '+' followed by 10-15 digits"),
		),
		validation.Field(&r.Message,
			validation.Required,
			validation.RuneLength(1, MaxMessageLength),
		),
		validation.Field(&r.ScheduledAt,
			validation.Required,
			validation.Min(now.UTC()).Exclusive().Error("must be in the future"),
		),
	)
	if err != nil {
		return Reminder{}, err
	}
	return r, nil
}

func notNilUUID(value interface{}) error {
	id, _ := value.(uuid.UUID)
	if id == uuid.Nil {
		return validation.NewError("validation_required", "cannot be blank")
	}
	return nil
}
