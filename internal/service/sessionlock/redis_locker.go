// Package sessionlock provides the per-session single-flight guard for
// preprocessing. At most one chunk run may hold a session's lock across
// all server and worker processes, so the lock lives in Redis.
package sessionlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// releaseScript deletes the lock only when the stored token still matches,
// so a holder whose lock already expired cannot release a successor's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker implements the SessionLocker port with SET NX PX semantics.
// A nil locker fails open: duplicate preprocessing is wasteful but safe,
// since chunk commits and question appends are idempotent.
type RedisLocker struct {
	redis  *redis.Client
	script *redis.Script

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLocker constructs a locker over the given client. Returns nil for
// a nil client, which callers may use as a fail-open locker.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	if rdb == nil {
		return nil
	}
	return &RedisLocker{
		redis:  rdb,
		script: redis.NewScript(releaseScript),
		tokens: map[string]string{},
	}
}

func lockKey(sessionID string) string { return "preprocess:lock:" + sessionID }

// Acquire takes the session lock for at most ttl. It does not block: a held
// lock yields (false, nil) and the caller backs off.
func (l *RedisLocker) Acquire(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	if l == nil || l.redis == nil {
		return true, nil
	}
	if sessionID == "" {
		return false, fmt.Errorf("op=sessionlock.acquire: %w", domain.ErrInvalidArgument)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	token := newToken()
	ok, err := l.redis.SetNX(ctx, lockKey(sessionID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("op=sessionlock.acquire: %w", err)
	}
	if !ok {
		return false, nil
	}
	l.mu.Lock()
	l.tokens[sessionID] = token
	l.mu.Unlock()
	return true, nil
}

// Release drops the session lock if this locker still holds it. Releasing a
// lock that expired and moved to another holder is a no-op.
func (l *RedisLocker) Release(ctx context.Context, sessionID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	l.mu.Lock()
	token, held := l.tokens[sessionID]
	delete(l.tokens, sessionID)
	l.mu.Unlock()
	if !held {
		return nil
	}
	if err := l.script.Run(ctx, l.redis, []string{lockKey(sessionID)}, token).Err(); err != nil {
		return fmt.Errorf("op=sessionlock.release: %w", err)
	}
	return nil
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
