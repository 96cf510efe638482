package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func dispatchKey(externalCallID string) string {
	return "dispatch:" + externalCallID
}

func (c *RedisCache) StoreDispatched(ctx context.Context, reminderID uuid.UUID, externalCallID string, dispatchedAt time.Time) error {
	b, err := json.Marshal(Dispatch{
		ReminderID:   reminderID,
		DispatchedAt: dispatchedAt.UTC(),
	})
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, dispatchKey(externalCallID), b, c.ttl).Err()
}

func (c *RedisCache) LookupDispatched(ctx context.Context, externalCallID string) (Dispatch, bool, error) {
	raw, err := c.rdb.Get(ctx, dispatchKey(externalCallID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Dispatch{}, false, nil
	}
	if err != nil {
		return Dispatch{}, false, err
	}

	var d Dispatch
	if err := json.Unmarshal(raw, &d); err != nil {
		return Dispatch{}, false, err
	}
	return d, true, nil
}

// Nop is used when Redis is not configured.
type Nop struct{}

func (Nop) StoreDispatched(context.Context, uuid.UUID, string, time.Time) error { return nil }

func (Nop) LookupDispatched(context.Context, string) (Dispatch, bool, error) {
	return Dispatch{}, false, nil
}
