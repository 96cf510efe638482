package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/metrics"
)

type Scheduler struct {
	interval time.Duration
	tickFn   func(context.Context) error

	running     atomic.Bool
	lastSuccess atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, tickFn func(context.Context) error) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// LastSuccess is the completion time of the last tick that returned no
// error, or the zero time if there has been none.
func (s *Scheduler) LastSuccess() time.Time {
	ns := s.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Healthy reports whether the loop is running and has completed a tick
// within tolerance of now.
func (s *Scheduler) Healthy(now time.Time, tolerance time.Duration) bool {
	if !s.IsRunning() {
		return false
	}
	last := s.LastSuccess()
	return !last.IsZero() && now.Sub(last) <= tolerance
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tick panic: %v", r)
			}
		}()
		return s.tickFn(ctx)
	}()

	if err != nil {
		metrics.TicksTotal.WithLabelValues("error").Inc()
		slog.Error("scheduler tick failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}

	now := time.Now()
	s.lastSuccess.Store(now.UnixNano())
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	metrics.LastSuccessfulTick.Set(float64(now.Unix()))
	slog.Info("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
}
