// Package otp is the default phone and email code provider. Codes are
// random digits delivered out of band by a Sender; only their SHA-256 hash
// is kept in Redis, with a TTL and a bounded number of verification
// attempts.
//
// One Provider serves one channel. Phone and email providers use distinct
// key prefixes so a code sent by SMS cannot be redeemed on the email path.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("otp backend unavailable")
	// ErrRateLimited is returned by Send when the principal exceeded the
	// delivery budget of the current window.
	ErrRateLimited = errors.New("otp send rate limited")
	// ErrDeliveryFailed wraps Sender failures.
	ErrDeliveryFailed = errors.New("otp delivery failed")
)

// Sender delivers a code to a destination (phone number, email address).
type Sender interface {
	Deliver(ctx context.Context, destination, code string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, destination, code string) error

// Deliver calls f.
func (f SenderFunc) Deliver(ctx context.Context, destination, code string) error {
	return f(ctx, destination, code)
}

// Config tunes one channel.
type Config struct {
	Channel     string
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	SendLimit   int
	SendWindow  time.Duration
	RedisPrefix string
}

// Provider issues and verifies one-time codes for a single channel.
type Provider struct {
	cfg     Config
	sender  Sender
	store   *codeStore
	limiter *sendLimiter
}

// New returns a Provider for cfg.Channel backed by client.
func New(client redis.UniversalClient, sender Sender, cfg Config) (*Provider, error) {
	if client == nil {
		return nil, errors.New("otp provider requires redis client")
	}
	if sender == nil {
		return nil, errors.New("otp provider requires sender")
	}
	cfg.Channel = strings.TrimSpace(cfg.Channel)
	if cfg.Channel == "" {
		return nil, errors.New("otp channel required")
	}
	if cfg.Digits < 6 || cfg.Digits > 10 {
		return nil, errors.New("otp digits must be between 6 and 10")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("otp ttl must be > 0")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, errors.New("otp max attempts must be > 0")
	}
	if cfg.SendLimit > 0 && cfg.SendWindow <= 0 {
		return nil, errors.New("otp send window must be > 0 when send limit is set")
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "aotp"
	}

	base := cfg.RedisPrefix + ":" + cfg.Channel
	return &Provider{
		cfg:    cfg,
		sender: sender,
		store:  &codeStore{redis: client, prefix: base + ":code"},
		limiter: &sendLimiter{
			redis:  client,
			prefix: base + ":send",
			limit:  cfg.SendLimit,
			window: cfg.SendWindow,
		},
	}, nil
}

// Send generates a new code for principalID, replacing any outstanding one,
// and delivers it to destination. A code that could not be delivered is
// removed again.
func (p *Provider) Send(ctx context.Context, destination, principalID string) error {
	if principalID == "" || destination == "" {
		return errors.New("otp send requires destination and principal")
	}
	if err := p.limiter.allow(ctx, principalID); err != nil {
		return err
	}

	code, err := newCode(p.cfg.Digits)
	if err != nil {
		return err
	}
	if err := p.store.save(ctx, principalID, code, p.cfg.TTL); err != nil {
		return err
	}
	if err := p.sender.Deliver(ctx, destination, code); err != nil {
		if derr := p.store.discard(ctx, principalID, code); derr != nil {
			return fmt.Errorf("%w: %v (discard: %v)", ErrDeliveryFailed, err, derr)
		}
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// Verify redeems code for principalID. A matching code is consumed. Wrong,
// expired or exhausted codes yield false with a nil error; only backend
// failures return an error.
func (p *Provider) Verify(ctx context.Context, code, principalID string) (bool, error) {
	code = strings.TrimSpace(code)
	if principalID == "" || len(code) != p.cfg.Digits {
		return false, nil
	}

	err := p.store.consume(ctx, principalID, code, p.cfg.MaxAttempts)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errCodeNotFound),
		errors.Is(err, errCodeMismatch),
		errors.Is(err, errCodeAttemptsExceeded):
		return false, nil
	default:
		return false, err
	}
}

func newCode(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
