package model

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

type CallStatus string

const (
	CallCreated   CallStatus = "created"
	CallInitiated CallStatus = "initiated"
	CallRinging   CallStatus = "ringing"
	CallAnswered  CallStatus = "answered"
	CallCompleted CallStatus = "completed"
	CallEnded     CallStatus = "ended"
	CallFailed    CallStatus = "failed"
)

// ParseCallStatus normalises a provider status. Unknown values are rejected.
func ParseCallStatus(raw string) (CallStatus, bool) {
	s := CallStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case CallCreated, CallInitiated, CallRinging, CallAnswered, CallCompleted, CallEnded, CallFailed:
		return s, true
	}
	return "", false
}

func (s CallStatus) IsTerminal() bool {
	_, ok := s.Outcome()
	return ok
}

// Outcome maps a terminal call status to the reminder status it settles on.
func (s CallStatus) Outcome() (Status, bool) {
	switch s {
	case CallCompleted, CallEnded:
		return Called, true
	case CallFailed:
		return Failed, true
	}
	return "", false
}

// CallLog is one delivery event of a reminder's dispatch. Rows are never
// updated after insert.
type CallLog struct {
	ID             uuid.UUID  `json:"id"`
	ReminderID     uuid.UUID  `json:"reminder_id"`
	ExternalCallID string     `json:"external_call_id"`
	Status         CallStatus `json:"status"`
	Transcript     *string    `json:"transcript"`
	ReceivedAt     time.Time  `json:"received_at"`
}

// DeliveryReport is a normalised asynchronous report from the channel,
// whether it came from a real webhook or the mock simulator.
type DeliveryReport struct {
	ExternalCallID string
	Status         CallStatus
	Transcript     *string
	ReceivedAt     time.Time
}

func (r DeliveryReport) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ExternalCallID, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Status, validation.Required, validation.By(knownCallStatus)),
		validation.Field(&r.ReceivedAt, validation.Required),
	)
}

func knownCallStatus(value interface{}) error {
	s, _ := value.(CallStatus)
	if _, ok := ParseCallStatus(string(s)); !ok {
		return validation.NewError("validation_call_status", "unknown call status")
	}
	return nil
}
