package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupKeyPrefix  = "billing:event:"
	defaultEventTTL = 24 * time.Hour
)

// RedisDeduplicator implements Deduplicator with a short-TTL key per event.
// Redis losing an entry only means one redundant reconciliation, which the
// store's ordering guard absorbs, so no durability is required here.
type RedisDeduplicator struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDeduplicator creates a deduplicator on the given Redis client.
// Panics if client is nil. A non-positive ttl falls back to 24 hours.
func NewRedisDeduplicator(client redis.UniversalClient, ttl time.Duration) *RedisDeduplicator {
	if client == nil {
		panic("billing: redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &RedisDeduplicator{client: client, ttl: ttl}
}

// Seen reports whether the event ID is already recorded.
func (d *RedisDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("dedup exists: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records the event ID with the configured TTL.
func (d *RedisDeduplicator) MarkSeen(ctx context.Context, eventID string) error {
	if err := d.client.Set(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedup set: %w", err)
	}
	return nil
}
