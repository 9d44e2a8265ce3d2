package settlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLocker hands out per-key run locks. Acquire reports false when the key is held.
type RunLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseLockScript deletes the lock only while it still carries our token, so a run that
// outlived its TTL cannot release a lock another run now holds.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLocker keeps run locks in Redis so schedulers on several hosts share them.
type RedisRunLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRunLocker(client redis.UniversalClient, prefix string) *RedisRunLocker {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "wallet:settlement:lock"
	}
	return &RedisRunLocker{client: client, prefix: trimmedPrefix}
}

func (l *RedisRunLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	redisKey := l.prefix + ":" + key
	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		// The caller's context may already be cancelled; the release must still run.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseLockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
	}
	return release, true, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// MemoryRunLocker is the single-process fallback used when Redis is not configured.
type MemoryRunLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewMemoryRunLocker() *MemoryRunLocker {
	return &MemoryRunLocker{held: make(map[string]time.Time)}
}

func (l *MemoryRunLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if expires, ok := l.held[key]; ok && now.Before(expires) {
		return nil, false, nil
	}
	expires := now.Add(ttl)
	l.held[key] = expires
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(expires) {
			delete(l.held, key)
		}
	}
	return release, true, nil
}
