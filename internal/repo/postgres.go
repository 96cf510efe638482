package repo

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres opens a pooled connection through the pgx stdlib driver and
// retries the initial ping with exponential backoff until maxWait elapses.
func OpenPostgres(ctx context.Context, url string, maxWait time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait

	err = backoff.RetryNotify(
		func() error { return db.PingContext(ctx) },
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			slog.Warn("postgres not ready, retrying", "err", err, "retry_in", next.String())
		},
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
