package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sendLimiter caps deliveries per principal with a fixed window counter.
type sendLimiter struct {
	redis  redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func (l *sendLimiter) allow(ctx context.Context, principalID string) error {
	if l == nil || l.limit <= 0 {
		return nil
	}

	key := l.prefix + ":" + principalID
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if count > int64(l.limit) {
		return ErrRateLimited
	}
	return nil
}
