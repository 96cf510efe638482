// Command feedwatch tails the notification feed of a running dispatcher and
// logs every reminder status change once.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeventeLantos/reminder-dispatch/internal/feed"
	"github.com/LeventeLantos/reminder-dispatch/internal/feedclient"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("url", envOr("FEED_BASE_URL", "http://localhost:8080"), "dispatcher base url")
	window := flag.Int("window", feed.DefaultWindowSeconds, "feed window in seconds")
	every := flag.Duration("every", 2*time.Second, "poll interval")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	p, err := feedclient.New(feedclient.Config{BaseURL: *baseURL, WindowSeconds: *window}, nil)
	if err != nil {
		slog.Error("invalid feed config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = p.Run(ctx, *every, func(n feed.Notification) {
		attrs := []any{
			"reminder_id", n.ReminderID,
			"status", n.Status,
			"updated_at", n.UpdatedAt,
		}
		if n.LatestLog != nil {
			attrs = append(attrs, "call_status", n.LatestLog.Status)
		}
		slog.Info("reminder updated", attrs...)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("feed watch stopped", "err", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
