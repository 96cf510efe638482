// Package repotest provides an in-memory ReminderRepository with the same
// conditional-update semantics as the Postgres implementation.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/model"
	"github.com/LeventeLantos/reminder-dispatch/internal/repo"
	"github.com/google/uuid"
)

type logKey struct {
	callID     string
	status     model.CallStatus
	receivedAt int64
}

type Memory struct {
	mu        sync.Mutex
	reminders map[uuid.UUID]model.Reminder
	logs      []model.CallLog
	seen      map[logKey]struct{}

	// Err, when set, is returned by every operation.
	Err error
	Now func() time.Time
}

var _ repo.ReminderRepository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		reminders: make(map[uuid.UUID]model.Reminder),
		seen:      make(map[logKey]struct{}),
		Now:       time.Now,
	}
}

// Put stores r as-is, bypassing Create's defaults.
func (m *Memory) Put(r model.Reminder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[r.ID] = r
}

func (m *Memory) Create(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Reminder{}, m.Err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := m.Now().UTC()
	r.Status = model.Scheduled
	r.ExternalCallID = nil
	r.CreatedAt = now
	r.UpdatedAt = now
	m.reminders[r.ID] = r
	return r, nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Reminder{}, m.Err
	}
	r, ok := m.reminders[id]
	if !ok {
		return model.Reminder{}, repo.ErrNotFound
	}
	return r, nil
}

func (m *Memory) CallLogs(ctx context.Context, reminderID uuid.UUID) ([]model.CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.CallLog
	for _, l := range m.logs {
		if l.ReminderID == reminderID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (m *Memory) FindDue(ctx context.Context, now time.Time, limit int) ([]model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	var out []model.Reminder
	for _, r := range m.reminders {
		if r.Status == model.Scheduled && !r.ScheduledAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	r, ok := m.reminders[id]
	if !ok || r.Status != model.Scheduled {
		return false, nil
	}
	r.Status = model.Processing
	r.UpdatedAt = m.Now().UTC()
	m.reminders[id] = r
	return true, nil
}

func (m *Memory) MarkInitiated(ctx context.Context, id uuid.UUID, externalCallID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	r, ok := m.reminders[id]
	if !ok || r.Status != model.Processing || r.ExternalCallID != nil {
		return fmt.Errorf("reminder %s is not awaiting initiation", id)
	}
	now := m.Now().UTC()
	r.ExternalCallID = &externalCallID
	r.UpdatedAt = now
	m.reminders[id] = r
	m.insertLocked(model.CallLog{
		ID:             uuid.New(),
		ReminderID:     id,
		ExternalCallID: externalCallID,
		Status:         model.CallCreated,
		ReceivedAt:     now,
	})
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	r, ok := m.reminders[id]
	if !ok || r.Status != model.Processing {
		return fmt.Errorf("reminder %s is not processing", id)
	}
	now := m.Now().UTC()
	r.Status = model.Failed
	r.UpdatedAt = now
	m.reminders[id] = r
	transcript := "Error: " + reason
	m.insertLocked(model.CallLog{
		ID:             uuid.New(),
		ReminderID:     id,
		ExternalCallID: repo.FailedCallID(id),
		Status:         model.CallFailed,
		Transcript:     &transcript,
		ReceivedAt:     now,
	})
	return nil
}

func (m *Memory) ApplyReport(ctx context.Context, report model.DeliveryReport) (repo.ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return repo.ApplyResult{}, m.Err
	}

	var rem model.Reminder
	found := false
	for _, r := range m.reminders {
		if r.ExternalCallID != nil && *r.ExternalCallID == report.ExternalCallID {
			rem, found = r, true
			break
		}
	}
	if !found {
		return repo.ApplyResult{}, repo.ErrNoMatchingReminder
	}

	res := repo.ApplyResult{ReminderID: rem.ID, Status: rem.Status}
	inserted := m.insertLocked(model.CallLog{
		ID:             uuid.New(),
		ReminderID:     rem.ID,
		ExternalCallID: report.ExternalCallID,
		Status:         report.Status,
		Transcript:     report.Transcript,
		ReceivedAt:     report.ReceivedAt.UTC().Truncate(time.Microsecond),
	})
	if !inserted {
		res.Duplicate = true
		return res, nil
	}

	next, terminal := report.Status.Outcome()
	if terminal && rem.Status.CanTransition(next) {
		rem.Status = next
		rem.UpdatedAt = m.Now().UTC()
		m.reminders[rem.ID] = rem
		res.Transitioned = true
		res.Status = next
	}
	return res, nil
}

func (m *Memory) ListUpdatedSince(ctx context.Context, cutoff time.Time, limit int) ([]repo.FeedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if limit <= 0 {
		limit = 50
	}

	var out []repo.FeedItem
	for _, r := range m.reminders {
		if r.UpdatedAt.Before(cutoff) {
			continue
		}
		item := repo.FeedItem{Reminder: r}
		for i := range m.logs {
			l := m.logs[i]
			if l.ReminderID != r.ID {
				continue
			}
			if item.LatestLog == nil || l.ReceivedAt.After(item.LatestLog.ReceivedAt) {
				item.LatestLog = &l
			}
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reminder.UpdatedAt.After(out[j].Reminder.UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) insertLocked(l model.CallLog) bool {
	k := logKey{callID: l.ExternalCallID, status: l.Status, receivedAt: l.ReceivedAt.UnixNano()}
	if _, dup := m.seen[k]; dup {
		return false
	}
	m.seen[k] = struct{}{}
	m.logs = append(m.logs, l)
	return true
}
