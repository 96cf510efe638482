package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/model"
	"github.com/google/uuid"
)

type MockConfig struct {
	Delay               time.Duration
	InitiateSuccessRate float64
	CompleteSuccessRate float64
}

// Mock simulates the channel. Once the caller reports the call id as stored
// via Initiated, a terminal delivery report is scheduled which goes through
// the same ReportApplier as real webhooks.
type Mock struct {
	cfg     MockConfig
	applier ReportApplier

	rand func() float64
	now  func() time.Time

	wg sync.WaitGroup
}

var _ InitiationObserver = (*Mock)(nil)

func NewMock(cfg MockConfig, applier ReportApplier) *Mock {
	return &Mock{
		cfg:     cfg,
		applier: applier,
		rand:    rand.Float64,
		now:     time.Now,
	}
}

func (m *Mock) Mode() string { return ModeMock }

func (m *Mock) InitiateCall(ctx context.Context, phoneNumber, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Err: err}
	}

	callID := "mock-" + uuid.NewString()
	if m.rand() >= m.cfg.InitiateSuccessRate {
		slog.Warn("mock call initiation failed (simulated)", "call_id", callID)
		return "", &Error{Err: errors.New("mock failure simulation")}
	}

	slog.Info("mock call initiated", "call_id", callID)
	return callID, nil
}

// Initiated schedules the simulated terminal report for a call whose id is
// already stored.
func (m *Mock) Initiated(callID, message string) {
	slog.Debug("mock completion scheduled", "call_id", callID, "delay", m.cfg.Delay.String())

	m.wg.Add(1)
	time.AfterFunc(m.cfg.Delay, func() {
		defer m.wg.Done()
		m.complete(callID, message)
	})
}

func (m *Mock) complete(callID, message string) {
	report := model.DeliveryReport{
		ExternalCallID: callID,
		ReceivedAt:     m.now().UTC(),
	}
	if m.rand() < m.cfg.CompleteSuccessRate {
		t := fmt.Sprintf("[MOCK TRANSCRIPT] Your reminder: %s. Call duration: %d seconds.", message, 10+rand.IntN(21))
		report.Status = model.CallCompleted
		report.Transcript = &t
	} else {
		t := "[MOCK] Call failed - no answer"
		report.Status = model.CallFailed
		report.Transcript = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.applier.ApplyReport(ctx, report); err != nil {
		slog.Error("mock delivery report not applied", "call_id", callID, "err", err)
	}
}

// Wait blocks until every scheduled simulation has been applied.
func (m *Mock) Wait() {
	m.wg.Wait()
}
