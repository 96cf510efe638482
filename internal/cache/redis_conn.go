package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// OpenRedis connects and pings with exponential backoff until maxWait
// elapses.
func OpenRedis(ctx context.Context, opts *redis.Options, maxWait time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait

	err := backoff.RetryNotify(
		func() error { return rdb.Ping(ctx).Err() },
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			slog.Warn("redis not ready, retrying", "addr", opts.Addr, "err", err, "retry_in", next.String())
		},
	)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
