package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LeventeLantos/reminder-dispatch/internal/cache"
	"github.com/LeventeLantos/reminder-dispatch/internal/metrics"
	"github.com/LeventeLantos/reminder-dispatch/internal/model"
	"github.com/LeventeLantos/reminder-dispatch/internal/repo"
)

// ErrMalformedReport is returned for payloads that cannot be turned into a
// valid delivery report. Nothing is written for them.
var ErrMalformedReport = errors.New("malformed delivery report")

type Outcome string

const (
	// OutcomeRecorded: a call log was written, reminder status unchanged.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeTransitioned: a call log was written and the reminder settled.
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnmatched    Outcome = "unmatched"
	// OutcomePending: the call id is known to the dispatch cache but its
	// initiation is not stored yet. Nothing was written; the sender should
	// redeliver.
	OutcomePending Outcome = "pending"
)

type Store interface {
	ApplyReport(ctx context.Context, report model.DeliveryReport) (repo.ApplyResult, error)
}

type Ingester struct {
	store Store
	cache cache.DispatchCache
}

func New(store Store, c cache.DispatchCache) *Ingester {
	if c == nil {
		c = cache.Nop{}
	}
	return &Ingester{store: store, cache: c}
}

// Apply records one delivery report. Replays of an already recorded report
// and reports for unknown or not yet stored call ids are not errors.
func (i *Ingester) Apply(ctx context.Context, report model.DeliveryReport) (Outcome, error) {
	if err := report.Validate(); err != nil {
		metrics.ReportsTotal.WithLabelValues("malformed").Inc()
		return "", fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	res, err := i.store.ApplyReport(ctx, report)
	if errors.Is(err, repo.ErrNoMatchingReminder) {
		outcome := i.unmatched(ctx, report)
		metrics.ReportsTotal.WithLabelValues(string(outcome)).Inc()
		return outcome, nil
	}
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("apply report %s: %w", report.ExternalCallID, err)
	}

	outcome := OutcomeRecorded
	switch {
	case res.Duplicate:
		outcome = OutcomeDuplicate
		slog.Info("duplicate delivery report ignored",
			"call_id", report.ExternalCallID,
			"status", report.Status,
			"reminder_id", res.ReminderID,
		)
	case res.Transitioned:
		outcome = OutcomeTransitioned
		slog.Info("reminder settled",
			"reminder_id", res.ReminderID,
			"call_id", report.ExternalCallID,
			"status", res.Status,
		)
	default:
		if report.Status.IsTerminal() {
			slog.Warn("terminal report did not change reminder status",
				"reminder_id", res.ReminderID,
				"call_id", report.ExternalCallID,
				"report_status", report.Status,
				"reminder_status", res.Status,
			)
		}
	}

	metrics.ReportsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

// ApplyReport lets the ingester serve as the mock gateway's report sink.
func (i *Ingester) ApplyReport(ctx context.Context, report model.DeliveryReport) error {
	_, err := i.Apply(ctx, report)
	return err
}

func (i *Ingester) unmatched(ctx context.Context, report model.DeliveryReport) Outcome {
	d, ok, err := i.cache.LookupDispatched(ctx, report.ExternalCallID)
	if err != nil {
		slog.Debug("dispatch cache lookup failed", "call_id", report.ExternalCallID, "err", err)
	}
	if ok {
		slog.Warn("delivery report arrived before initiation was recorded",
			"call_id", report.ExternalCallID,
			"reminder_id", d.ReminderID,
			"dispatched_at", d.DispatchedAt,
			"status", report.Status,
		)
		return OutcomePending
	}
	slog.Warn("delivery report for unknown call id",
		"call_id", report.ExternalCallID,
		"status", report.Status,
	)
	return OutcomeUnmatched
}
