package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultAttemptTTL = 24 * time.Hour

// AttemptTracker counts delivery attempts per message id so the consumer can
// dead-letter a message that keeps failing.
// Key format: attempts:<queue>:<message_id>
type AttemptTracker struct {
	client redis.Cmdable
	queue  string
	ttl    time.Duration
}

// NewAttemptTracker creates an AttemptTracker for queue. Counters expire after
// ttl, or defaultAttemptTTL when ttl <= 0.
func NewAttemptTracker(client redis.Cmdable, queue string, ttl time.Duration) *AttemptTracker {
	if ttl <= 0 {
		ttl = defaultAttemptTTL
	}
	return &AttemptTracker{client: client, queue: queue, ttl: ttl}
}

// Increment records a failed attempt and returns the running total.
func (t *AttemptTracker) Increment(ctx context.Context, messageID string) (int, error) {
	key := t.key(messageID)

	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("attempts incr: %w", err)
	}
	return int(incr.Val()), nil
}

// Reset forgets the attempts recorded for messageID.
func (t *AttemptTracker) Reset(ctx context.Context, messageID string) error {
	if err := t.client.Del(ctx, t.key(messageID)).Err(); err != nil {
		return fmt.Errorf("attempts reset: %w", err)
	}
	return nil
}

func (t *AttemptTracker) key(messageID string) string {
	return fmt.Sprintf("attempts:%s:%s", t.queue, messageID)
}
