package feedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/feed"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	recentPath      = "/v1/reminders/notifications/recent"
	defaultSeenSize = 4096
)

type Config struct {
	BaseURL       string
	WindowSeconds int
	// SeenSize bounds the dedup set. It should comfortably exceed the number
	// of distinct changes seen in one window.
	SeenSize int
}

// Poller reads the notification feed and hands each status change to the
// caller once, even though consecutive windows overlap.
type Poller struct {
	baseURL string
	window  int
	client  *http.Client

	seenMu sync.Mutex
	seen   *lru.Cache[string, struct{}]
}

func New(cfg Config, client *http.Client) (*Poller, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("feed base url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	size := cfg.SeenSize
	if size <= 0 {
		size = defaultSeenSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("feed dedup set init: %w", err)
	}
	return &Poller{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		window:  feed.ClampWindow(cfg.WindowSeconds),
		client:  client,
		seen:    seen,
	}, nil
}

func (p *Poller) Fetch(ctx context.Context) (feed.Page, error) {
	q := url.Values{}
	q.Set("since_seconds", strconv.Itoa(p.window))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+recentPath+"?"+q.Encode(), nil)
	if err != nil {
		return feed.Page{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return feed.Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return feed.Page{}, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(b))
	}

	var page feed.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return feed.Page{}, fmt.Errorf("failed to decode json: %w", err)
	}
	return page, nil
}

// Poll fetches one window and returns only the changes not returned before,
// oldest first.
func (p *Poller) Poll(ctx context.Context) ([]feed.Notification, error) {
	page, err := p.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	p.seenMu.Lock()
	defer p.seenMu.Unlock()

	var fresh []feed.Notification
	for i := len(page.Notifications) - 1; i >= 0; i-- {
		n := page.Notifications[i]
		k := key(n)
		if p.seen.Contains(k) {
			continue
		}
		p.seen.Add(k, struct{}{})
		fresh = append(fresh, n)
	}
	return fresh, nil
}

// Run polls every interval until ctx is done. Fetch errors are logged and
// the next poll proceeds.
func (p *Poller) Run(ctx context.Context, interval time.Duration, handle func(feed.Notification)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		items, err := p.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Warn("feed poll failed", "err", err)
		}
		for _, n := range items {
			handle(n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func key(n feed.Notification) string {
	return n.ReminderID.String() + "|" + string(n.Status) + "|" + n.UpdatedAt.UTC().Format(time.RFC3339Nano)
}
