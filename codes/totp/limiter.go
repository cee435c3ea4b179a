package totp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLocked is returned once a principal used up its failed attempts
	// for the current window.
	ErrLocked = errors.New("totp verification locked")
	// ErrUnavailable wraps Redis failures of the limiter.
	ErrUnavailable = errors.New("totp limiter unavailable")
)

// LimiterConfig bounds failed verifications per principal. The window
// starts at the first failure and is not extended by later ones.
type LimiterConfig struct {
	MaxAttempts int
	Window      time.Duration
	RedisPrefix string
}

// Limiter counts failed TOTP verifications in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	max    int64
	window time.Duration
}

// NewLimiter returns a Limiter backed by client.
func NewLimiter(client redis.UniversalClient, cfg LimiterConfig) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("totp limiter requires redis client")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, errors.New("totp max attempts must be > 0")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("totp lockout window must be > 0")
	}
	prefix := strings.TrimSpace(cfg.RedisPrefix)
	if prefix == "" {
		prefix = "aotp"
	}
	return &Limiter{
		redis:  client,
		prefix: prefix + ":totp:fail",
		max:    int64(cfg.MaxAttempts),
		window: cfg.Window,
	}, nil
}

func (l *Limiter) key(principalID string) string {
	return l.prefix + ":" + principalID
}

// Check returns ErrLocked when principalID may not attempt a verification.
func (l *Limiter) Check(ctx context.Context, principalID string) error {
	n, err := l.redis.Get(ctx, l.key(principalID)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case n >= l.max:
		return ErrLocked
	}
	return nil
}

// RecordFailure counts one rejected code.
func (l *Limiter) RecordFailure(ctx context.Context, principalID string) error {
	key := l.key(principalID)
	n, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Reset clears the failure count after a successful verification.
func (l *Limiter) Reset(ctx context.Context, principalID string) error {
	if err := l.redis.Del(ctx, l.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
