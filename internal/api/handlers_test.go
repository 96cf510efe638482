package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/cache"
	"github.com/LeventeLantos/reminder-dispatch/internal/feed"
	"github.com/LeventeLantos/reminder-dispatch/internal/ingest"
	"github.com/LeventeLantos/reminder-dispatch/internal/model"
	"github.com/LeventeLantos/reminder-dispatch/internal/repo/repotest"
	"github.com/LeventeLantos/reminder-dispatch/internal/scheduler"
	"github.com/google/uuid"
)

type testServer struct {
	sched *scheduler.Scheduler
	mem   *repotest.Memory
	h     *Handler
	mux   http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithCache(t, nil)
}

func newTestServerWithCache(t *testing.T, c cache.DispatchCache) *testServer {
	t.Helper()

	// Long interval so only the immediate tick happens.
	s, err := scheduler.New(time.Hour, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	mem := repotest.NewMemory()
	h := NewHandler(s, ingest.New(mem, c), feed.New(mem), mem)
	return &testServer{sched: s, mem: mem, h: h, mux: Router(h)}
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) processing(callID string) model.Reminder {
	now := time.Now().UTC()
	r := model.Reminder{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		PhoneNumber:    "+15551234567",
		Message:        "Take your pill",
		ScheduledAt:    now.Add(-time.Minute),
		Status:         model.Processing,
		ExternalCallID: &callID,
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now.Add(-time.Minute),
	}
	ts.mem.Put(r)
	return r
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func waitForTick(t *testing.T, s *scheduler.Scheduler) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for s.LastSuccess().IsZero() {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler did not complete a tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	ts.sched.Start()
	waitForTick(t, ts.sched)

	rr := ts.do(http.MethodGet, "/v1/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	body := decodeJSON(t, rr)
	if body["status"] != "healthy" {
		t.Fatalf("expected healthy, got %v", body)
	}
}

func TestHealth_DegradedWhenTicksStall(t *testing.T) {
	ts := newTestServer(t)
	ts.sched.Start()
	waitForTick(t, ts.sched)

	ts.h.now = func() time.Time { return time.Now().Add(4 * time.Hour) }

	rr := ts.do(http.MethodGet, "/v1/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%q", rr.Code, rr.Body.String())
	}
	if body := decodeJSON(t, rr); body["status"] != "degraded" {
		t.Fatalf("expected degraded, got %v", body)
	}
}

func TestHealth_DegradedWhenSchedulerStopped(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/v1/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// Initially should be false.
	{
		rr := ts.do(http.MethodGet, "/v1/scheduler/status", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running {
			t.Fatalf("expected running=false, got %v", body)
		}
	}

	// Start
	{
		rr := ts.do(http.MethodPost, "/v1/scheduler/start", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || !running {
			t.Fatalf("expected running=true after start, got %v", body)
		}
	}

	// Stop
	{
		rr := ts.do(http.MethodPost, "/v1/scheduler/stop", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running {
			t.Fatalf("expected running=false after stop, got %v", body)
		}
	}
}

func TestCallStatusWebhook_SettlesReminder(t *testing.T) {
	ts := newTestServer(t)
	r := ts.processing("call-1")

	payload := `{"call_id":"call-1","status":"completed","transcript":"done","received_at":"2026-03-01T12:00:00Z"}`

	rr := ts.do(http.MethodPost, "/v1/webhooks/call-status", payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if body := decodeJSON(t, rr); body["outcome"] != string(ingest.OutcomeTransitioned) {
		t.Fatalf("expected transitioned, got %v", body)
	}

	// Replay.
	rr = ts.do(http.MethodPost, "/v1/webhooks/call-status", payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d body=%q", rr.Code, rr.Body.String())
	}
	if body := decodeJSON(t, rr); body["outcome"] != string(ingest.OutcomeDuplicate) {
		t.Fatalf("expected duplicate, got %v", body)
	}

	got, _ := ts.mem.Get(context.Background(), r.ID)
	if got.Status != model.Called {
		t.Fatalf("expected called, got %q", got.Status)
	}
}

func TestCallStatusWebhook_Unmatched(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodPost, "/v1/webhooks/call-status",
		`{"external_call_id":"does-not-exist","status":"completed","received_at":"2026-03-01T12:00:00Z"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if body := decodeJSON(t, rr); body["outcome"] != "unmatched" {
		t.Fatalf("expected unmatched, got %v", body)
	}
}

type knownDispatchCache struct {
	cache.Nop
	callID string
}

func (c knownDispatchCache) LookupDispatched(ctx context.Context, externalCallID string) (cache.Dispatch, bool, error) {
	if externalCallID != c.callID {
		return cache.Dispatch{}, false, nil
	}
	return cache.Dispatch{ReminderID: uuid.New(), DispatchedAt: time.Now()}, true, nil
}

func TestCallStatusWebhook_EarlyReportAsksForRedelivery(t *testing.T) {
	ts := newTestServerWithCache(t, knownDispatchCache{callID: "ib-early"})

	rr := ts.do(http.MethodPost, "/v1/webhooks/call-status",
		`{"external_call_id":"ib-early","status":"completed","received_at":"2026-03-01T12:00:00Z"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if body := decodeJSON(t, rr); body["outcome"] != "pending" {
		t.Fatalf("expected pending, got %v", body)
	}

	// Unknown ids stay 200 even with a cache configured.
	rr = ts.do(http.MethodPost, "/v1/webhooks/call-status",
		`{"external_call_id":"never-dispatched","status":"completed","received_at":"2026-03-01T12:00:00Z"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown id, got %d", rr.Code)
	}
}

func TestCallStatusWebhook_InfobipBatch(t *testing.T) {
	ts := newTestServer(t)
	a := ts.processing("ib-1")
	b := ts.processing("ib-2")

	payload := `{"results":[
		{"messageId":"ib-1","doneAt":"2026-03-01T12:00:00.000+0000","status":{"groupName":"DELIVERED","name":"DELIVERED_TO_HANDSET"}},
		{"messageId":"ib-2","doneAt":"2026-03-01T12:00:01.000+0000","status":{"groupName":"REJECTED","name":"REJECTED_NETWORK"}}
	]}`

	rr := ts.do(http.MethodPost, "/v1/webhooks/call-status", payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if results, ok := body["results"].([]any); !ok || len(results) != 2 {
		t.Fatalf("expected 2 results, got %v", body)
	}

	gotA, _ := ts.mem.Get(context.Background(), a.ID)
	gotB, _ := ts.mem.Get(context.Background(), b.ID)
	if gotA.Status != model.Called || gotB.Status != model.Failed {
		t.Fatalf("expected called/failed, got %q/%q", gotA.Status, gotB.Status)
	}
}

func TestCallStatusWebhook_Malformed(t *testing.T) {
	ts := newTestServer(t)

	for _, payload := range []string{
		`not json`,
		`{"call_id":"x","status":"exploded","received_at":"2026-03-01T12:00:00Z"}`,
		`{"status":"completed","received_at":"2026-03-01T12:00:00Z"}`,
	} {
		rr := ts.do(http.MethodPost, "/v1/webhooks/call-status", payload)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d body=%q", payload, rr.Code, rr.Body.String())
		}
	}
}

func TestCallStatusWebhook_StoreErrorReturns500(t *testing.T) {
	ts := newTestServer(t)
	ts.mem.Err = errors.New("db down")

	rr := ts.do(http.MethodPost, "/v1/webhooks/call-status",
		`{"call_id":"call-1","status":"completed","received_at":"2026-03-01T12:00:00Z"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "db down") {
		t.Fatalf("expected error body to contain store error, got %q", rr.Body.String())
	}
}

func TestRecentNotifications(t *testing.T) {
	ts := newTestServer(t)
	r := ts.processing("call-1")
	// Bring updated_at into the window.
	if _, err := ts.mem.ApplyReport(context.Background(), model.DeliveryReport{
		ExternalCallID: "call-1",
		Status:         model.CallCompleted,
		ReceivedAt:     time.Now(),
	}); err != nil {
		t.Fatalf("ApplyReport() error: %v", err)
	}

	rr := ts.do(http.MethodGet, "/v1/reminders/notifications/recent?since_seconds=abc", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	var page feed.Page
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode page: %v", err)
	}
	if page.SinceSeconds != feed.DefaultWindowSeconds {
		t.Fatalf("expected default window, got %d", page.SinceSeconds)
	}
	if page.Count != 1 || page.Notifications[0].ReminderID != r.ID {
		t.Fatalf("expected reminder in feed, got %+v", page)
	}
	if page.Notifications[0].LatestLog == nil || page.Notifications[0].LatestLog.Status != model.CallCompleted {
		t.Fatalf("expected latest log completed, got %+v", page.Notifications[0].LatestLog)
	}
}

func TestRecentNotifications_ClampsWindow(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/v1/reminders/notifications/recent?since_seconds=100000", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["since_seconds"] != float64(feed.MaxWindowSeconds) {
		t.Fatalf("expected clamped window, got %v", body["since_seconds"])
	}
	if list, ok := body["notifications"].([]any); !ok || len(list) != 0 {
		t.Fatalf("expected empty notifications array, got %v", body["notifications"])
	}
}

func TestGetReminder(t *testing.T) {
	ts := newTestServer(t)
	r := ts.processing("call-1")

	rr := ts.do(http.MethodGet, "/v1/reminders/"+r.ID.String(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	rem, ok := body["reminder"].(map[string]any)
	if !ok || rem["id"] != r.ID.String() || rem["status"] != "processing" {
		t.Fatalf("unexpected reminder body: %v", body)
	}
	if logs, ok := body["call_logs"].([]any); !ok || len(logs) != 0 {
		t.Fatalf("expected empty call_logs, got %v", body["call_logs"])
	}
}

func TestGetReminder_Errors(t *testing.T) {
	ts := newTestServer(t)

	if rr := ts.do(http.MethodGet, "/v1/reminders/not-a-uuid", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/v1/reminders/"+uuid.NewString(), ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRouterRoot(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "reminder-dispatch" {
		t.Fatalf("expected body %q, got %q", "reminder-dispatch", got)
	}
}
