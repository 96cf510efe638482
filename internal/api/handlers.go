package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/feed"
	"github.com/LeventeLantos/reminder-dispatch/internal/ingest"
	"github.com/LeventeLantos/reminder-dispatch/internal/model"
	"github.com/LeventeLantos/reminder-dispatch/internal/repo"
	"github.com/LeventeLantos/reminder-dispatch/internal/scheduler"
	"github.com/google/uuid"
)

const maxWebhookBody = 1 << 20

type ReportIngester interface {
	Apply(ctx context.Context, report model.DeliveryReport) (ingest.Outcome, error)
}

type NotificationFeed interface {
	Recent(ctx context.Context, sinceSeconds int) (feed.Page, error)
}

type ReminderReader interface {
	Get(ctx context.Context, id uuid.UUID) (model.Reminder, error)
	CallLogs(ctx context.Context, reminderID uuid.UUID) ([]model.CallLog, error)
}

type Handler struct {
	sched     *scheduler.Scheduler
	ingester  ReportIngester
	feed      NotificationFeed
	reminders ReminderReader

	now func() time.Time
}

func NewHandler(s *scheduler.Scheduler, ing ReportIngester, f NotificationFeed, r ReminderReader) *Handler {
	return &Handler{
		sched:     s,
		ingester:  ing,
		feed:      f,
		reminders: r,
		now:       time.Now,
	}
}

// Health is 200 while the dispatch loop keeps completing ticks; three
// missed intervals turn it into 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	tolerance := 3 * h.sched.Interval()

	body := map[string]any{
		"status":            "healthy",
		"scheduler_running": h.sched.IsRunning(),
	}
	if last := h.sched.LastSuccess(); !last.IsZero() {
		body["last_successful_tick"] = last.UTC()
	}

	if !h.sched.Healthy(h.now(), tolerance) {
		body["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

type webhookResult struct {
	ExternalCallID string         `json:"external_call_id"`
	Outcome        ingest.Outcome `json:"outcome"`
}

func (h *Handler) CallStatusWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reports, err := ingest.DecodeReports(body)
	if err != nil {
		slog.Warn("rejected webhook payload", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status := http.StatusOK
	results := make([]webhookResult, 0, len(reports))
	for _, rep := range reports {
		out, err := h.ingester.Apply(r.Context(), rep)
		switch {
		case errors.Is(err, ingest.ErrMalformedReport):
			writeError(w, http.StatusBadRequest, err)
			return
		case err != nil:
			slog.Error("webhook apply failed", "call_id", rep.ExternalCallID, "err", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if out == ingest.OutcomePending {
			// Applied reports are idempotent, so a redelivered batch is safe.
			status = http.StatusServiceUnavailable
		}
		results = append(results, webhookResult{ExternalCallID: rep.ExternalCallID, Outcome: out})
	}

	resp := map[string]any{"results": results}
	if len(results) == 1 {
		resp["outcome"] = results[0].Outcome
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func (h *Handler) RecentNotifications(w http.ResponseWriter, r *http.Request) {
	since := parseInt(r.URL.Query().Get("since_seconds"), feed.DefaultWindowSeconds)

	page, err := h.feed.Recent(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid reminder id"))
		return
	}

	rem, err := h.reminders.Get(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	logs, err := h.reminders.CallLogs(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if logs == nil {
		logs = []model.CallLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reminder":  rem,
		"call_logs": logs,
	})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
