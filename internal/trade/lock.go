package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants per-user exclusion. TryLock never waits: a held key fails with
// market.ErrUserBusy.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

type MemoryLocker struct {
	held sync.Map // key -> token
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	token := uuid.New()
	if _, loaded := l.held.LoadOrStore(key, token); loaded {
		return nil, market.ErrUserBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.held.CompareAndDelete(key, token) })
	}, nil
}

// releaseScript deletes the key only while it still carries our token, so an
// expired lease taken over by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker shares the exclusion domain between processes. The TTL bounds how long
// a crashed holder can block a user.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, prefix: "cryptobot:lock:user:", ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock: %w", market.ErrStorageUnavailable, err)
	}
	if !ok {
		return nil, market.ErrUserBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
		})
	}, nil
}
