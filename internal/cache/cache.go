package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DispatchCache remembers which reminder an external call id was issued
// for. It is advisory only; the store stays authoritative.
type DispatchCache interface {
	StoreDispatched(ctx context.Context, reminderID uuid.UUID, externalCallID string, dispatchedAt time.Time) error
	LookupDispatched(ctx context.Context, externalCallID string) (Dispatch, bool, error)
}

type Dispatch struct {
	ReminderID   uuid.UUID `json:"reminderId"`
	DispatchedAt time.Time `json:"dispatchedAt"`
}
