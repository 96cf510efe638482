package model

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewReminder_Valid(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	r, err := NewReminder(userID, " +15551234567 ", "  Take your pill ", now.Add(time.Minute), now)
	if err != nil {
		t.Fatalf("NewReminder() error: %v", err)
	}
	if r.Status != Scheduled {
		t.Fatalf("expected status %q, got %q", Scheduled, r.Status)
	}
	if r.PhoneNumber != "+15551234567" {
		t.Fatalf("expected trimmed phone, got %q", r.PhoneNumber)
	}
	if r.Message != "Take your pill" {
		t.Fatalf("expected trimmed message, got %q", r.Message)
	}
	if r.ID == uuid.Nil {
		t.Fatalf("expected generated id")
	}
	if r.ExternalCallID != nil {
		t.Fatalf("expected no external call id, got %q", *r.ExternalCallID)
	}
}

func TestNewReminder_Invalid(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	cases := []struct {
		name      string
		userID    uuid.UUID
		phone     string
		message   string
		at        time.Time
		wantField string
	}{
		{"nil user", uuid.Nil, "+15551234567", "hi", future, "user_id"},
		{"missing plus", uuid.New(), "15551234567", "hi", future, "phone_number"},
		{"too few digits", uuid.New(), "+123456789", "hi", future, "phone_number"},
		{"too many digits", uuid.New(), "+1234567890123456", "hi", future, "phone_number"},
		{"blank message", uuid.New(), "+15551234567", "   ", future, "message"},
		{"long message", uuid.New(), "+15551234567", strings.Repeat("a", MaxMessageLength+1), future, "message"},
		{"past schedule", uuid.New(), "+15551234567", "hi", now.Add(-time.Second), "scheduled_at"},
		{"now is not future", uuid.New(), "+15551234567", "hi", now, "scheduled_at"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewReminder(tc.userID, tc.phone, tc.message, tc.at, now)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantField) {
				t.Fatalf("expected error mentioning %q, got: %v", tc.wantField, err)
			}
		})
	}
}

func TestStatus_CanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[[2]Status]bool{
		{Scheduled, Processing}: true,
		{Processing, Called}:    true,
		{Processing, Failed}:    true,
	}

	all := []Status{Scheduled, Processing, Called, Failed}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Fatalf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCallStatus_Outcome(t *testing.T) {
	t.Parallel()

	cases := map[CallStatus]Status{
		CallCompleted: Called,
		CallEnded:     Called,
		CallFailed:    Failed,
	}
	for s, want := range cases {
		got, ok := s.Outcome()
		if !ok || got != want {
			t.Fatalf("%s.Outcome() = %q,%v want %q,true", s, got, ok, want)
		}
	}

	for _, s := range []CallStatus{CallCreated, CallInitiated, CallRinging, CallAnswered} {
		if s.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestDeliveryReport_Validate(t *testing.T) {
	t.Parallel()

	ok := DeliveryReport{ExternalCallID: "abc", Status: CallRinging, ReceivedAt: time.Now()}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	bad := []DeliveryReport{
		{Status: CallRinging, ReceivedAt: time.Now()},
		{ExternalCallID: "abc", Status: "exploded", ReceivedAt: time.Now()},
		{ExternalCallID: "abc", Status: CallCompleted},
	}
	for i, r := range bad {
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d: expected error, got nil", i)
		}
	}
}

func TestParseCallStatus_Normalises(t *testing.T) {
	t.Parallel()

	s, ok := ParseCallStatus(" Completed ")
	if !ok || s != CallCompleted {
		t.Fatalf("expected completed, got %q ok=%v", s, ok)
	}
	if _, ok := ParseCallStatus("busy"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}
