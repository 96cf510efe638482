// Package gateway holds the outbound voice/SMS channels. Exactly one
// implementation is chosen at process start and injected into the
// dispatcher.
package gateway

import (
	"context"
	"fmt"

	"github.com/LeventeLantos/reminder-dispatch/internal/model"
)

const (
	ModeMock    = "mock"
	ModeInfobip = "infobip"
)

type Gateway interface {
	// InitiateCall starts delivery and returns the channel's correlation id.
	// The terminal outcome arrives later as a delivery report.
	InitiateCall(ctx context.Context, phoneNumber, message string) (externalCallID string, err error)
	Mode() string
}

// InitiationObserver is implemented by gateways that produce their own
// delivery reports. The dispatcher calls Initiated after the call id has been
// recorded, so any report emitted from there on can be matched.
type InitiationObserver interface {
	Initiated(externalCallID, message string)
}

// ReportApplier is the sink for delivery reports. The webhook ingester
// implements it; the mock gateway feeds its simulated reports through it.
type ReportApplier interface {
	ApplyReport(ctx context.Context, report model.DeliveryReport) error
}

// Error is a failed initiation. The caller marks the reminder failed and
// does not retry.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway: unexpected status code: %d body=%q", e.StatusCode, e.Body)
	case e.Err != nil:
		return "gateway: " + e.Err.Error()
	}
	return "gateway: initiation failed"
}

func (e *Error) Unwrap() error { return e.Err }
