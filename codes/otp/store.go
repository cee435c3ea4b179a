package otp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errCodeNotFound         = errors.New("otp code not found")
	errCodeMismatch         = errors.New("otp code mismatch")
	errCodeAttemptsExceeded = errors.New("otp code attempts exceeded")
)

// consumeCodeLua atomically checks a submitted code hash against the stored
// record and either deletes it (match, or attempts exhausted) or bumps the
// attempt counter. HINCRBY keeps the key TTL.
// KEYS[1] = record key
// ARGV[1] = submitted hash (hex)
// ARGV[2] = max attempts
var consumeCodeLua = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'h')
if not stored then
  return {err='not_found'}
end
if stored ~= ARGV[1] then
  local attempts = redis.call('HINCRBY', KEYS[1], 'a', 1)
  if attempts >= tonumber(ARGV[2]) then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  return {err='mismatch'}
end
redis.call('DEL', KEYS[1])
return 1
`)

// discardCodeLua deletes the record only if it still holds ARGV[1], so a
// newer code saved concurrently survives.
var discardCodeLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'h') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type codeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func (s *codeStore) key(principalID string) string {
	return s.prefix + ":" + principalID
}

func (s *codeStore) save(ctx context.Context, principalID, code string, ttl time.Duration) error {
	key := s.key(principalID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "h", hashCode(code), "a", 0)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *codeStore) consume(ctx context.Context, principalID, code string, maxAttempts int) error {
	err := consumeCodeLua.Run(ctx, s.redis, []string{s.key(principalID)}, hashCode(code), maxAttempts).Err()
	if err == nil {
		return nil
	}
	switch err.Error() {
	case "not_found":
		return errCodeNotFound
	case "mismatch":
		return errCodeMismatch
	case "attempts_exceeded":
		return errCodeAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (s *codeStore) discard(ctx context.Context, principalID, code string) error {
	if err := discardCodeLua.Run(ctx, s.redis, []string{s.key(principalID)}, hashCode(code)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
