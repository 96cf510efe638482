package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/cache"
	"github.com/LeventeLantos/reminder-dispatch/internal/gateway"
	"github.com/LeventeLantos/reminder-dispatch/internal/metrics"
	"github.com/LeventeLantos/reminder-dispatch/internal/model"
	"github.com/LeventeLantos/reminder-dispatch/internal/repo"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrStoreUnavailable aborts a tick; unclaimed reminders are picked up
	// by the next one.
	ErrStoreUnavailable = errors.New("reminder store unavailable")
	// ErrClaimConflict means another tick or instance claimed the reminder.
	ErrClaimConflict = errors.New("reminder already claimed")
)

type Config struct {
	BatchSize   int
	Concurrency int
}

type TickResult struct {
	Due       int
	Claimed   int
	Conflicts int
	Errors    int
}

// Dispatcher claims due reminders and hands them to the gateway. Gateway
// calls run in the background so a slow channel never delays the next tick.
type Dispatcher struct {
	repo  repo.ReminderRepository
	gw    gateway.Gateway
	cache cache.DispatchCache

	batchSize int
	sem       *semaphore.Weighted
	wg        sync.WaitGroup

	now func() time.Time
}

func New(r repo.ReminderRepository, gw gateway.Gateway, c cache.DispatchCache, cfg Config) (*Dispatcher, error) {
	if r == nil || gw == nil {
		return nil, errors.New("repository and gateway are required")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("batch size must be > 0")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if c == nil {
		c = cache.Nop{}
	}
	return &Dispatcher{
		repo:      r,
		gw:        gw,
		cache:     c,
		batchSize: cfg.BatchSize,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:       time.Now,
	}, nil
}

// Tick is the scheduler entry point.
func (d *Dispatcher) Tick(ctx context.Context) error {
	res, err := d.RunOnce(ctx)
	if err != nil {
		return err
	}
	if res.Due > 0 {
		slog.Info("dispatch tick",
			"due", res.Due,
			"claimed", res.Claimed,
			"conflicts", res.Conflicts,
			"errors", res.Errors,
		)
	}
	return nil
}

// RunOnce fetches one batch of due reminders, oldest first, claims each and
// starts its dispatch. It returns once every claim has been attempted.
func (d *Dispatcher) RunOnce(ctx context.Context) (TickResult, error) {
	due, err := d.repo.FindDue(ctx, d.now().UTC(), d.batchSize)
	if err != nil {
		return TickResult{}, fmt.Errorf("%w: find due: %v", ErrStoreUnavailable, err)
	}

	res := TickResult{Due: len(due)}
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		err := d.claim(ctx, r.ID)
		switch {
		case errors.Is(err, ErrClaimConflict):
			res.Conflicts++
			slog.Debug("reminder claimed elsewhere, skipping", "reminder_id", r.ID)
			continue
		case err != nil:
			res.Errors++
			slog.Error("claim failed", "reminder_id", r.ID, "err", err)
			continue
		}

		res.Claimed++
		d.start(ctx, r)
	}
	return res, nil
}

func (d *Dispatcher) claim(ctx context.Context, id uuid.UUID) error {
	ok, err := d.repo.Claim(ctx, id)
	switch {
	case err != nil:
		metrics.ClaimsTotal.WithLabelValues("error").Inc()
		return err
	case !ok:
		metrics.ClaimsTotal.WithLabelValues("conflict").Inc()
		return ErrClaimConflict
	}
	metrics.ClaimsTotal.WithLabelValues("claimed").Inc()
	return nil
}

// start runs the gateway call for an already-claimed reminder. The call is
// detached from the tick context: stopping the scheduler does not abort an
// in-flight initiation.
func (d *Dispatcher) start(ctx context.Context, r model.Reminder) {
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	metrics.DispatchesInFlight.Inc()
	go func() {
		defer d.wg.Done()
		defer metrics.DispatchesInFlight.Dec()

		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer d.sem.Release(1)

		d.dispatch(ctx, r)
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, r model.Reminder) {
	mode := d.gw.Mode()
	start := time.Now()

	callID, err := d.gw.InitiateCall(ctx, r.PhoneNumber, r.Message)
	metrics.DispatchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.DispatchesTotal.WithLabelValues(mode, "failed").Inc()
		slog.Warn("call initiation failed", "reminder_id", r.ID, "mode", mode, "err", err)

		if err := d.repo.MarkFailed(ctx, r.ID, err.Error()); err != nil {
			slog.Error("mark failed", "reminder_id", r.ID, "err", err)
		}
		return
	}

	metrics.DispatchesTotal.WithLabelValues(mode, "initiated").Inc()

	if err := d.cache.StoreDispatched(ctx, r.ID, callID, d.now()); err != nil {
		slog.Warn("dispatch cache write failed", "reminder_id", r.ID, "call_id", callID, "err", err)
	}
	if err := d.repo.MarkInitiated(ctx, r.ID, callID); err != nil {
		slog.Error("mark initiated", "reminder_id", r.ID, "call_id", callID, "err", err)
		return
	}

	slog.Info("call initiated", "reminder_id", r.ID, "call_id", callID, "mode", mode)

	if o, ok := d.gw.(gateway.InitiationObserver); ok {
		o.Initiated(callID, r.Message)
	}
}

// Wait blocks until every started dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
