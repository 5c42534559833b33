package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PollLockKey guards poll cycles across processes sharing one Redis.
const PollLockKey = "tubenotify:poll-lock"

// Lock is a best-effort mutual exclusion shared between processes.
type Lock interface {
	// TryAcquire returns ok=false when another holder owns the lock. release
	// is non-nil only when ok is true.
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements Lock with SET NX PX and a token-checked release, so
// a holder whose TTL lapsed cannot delete a newer holder's lock.
type RedisLock struct {
	client redis.Cmdable
	key    string
}

func NewRedisLock(client redis.Cmdable, key string) *RedisLock {
	if key == "" {
		key = PollLockKey
	}
	return &RedisLock{client: client, key: key}
}

func (l *RedisLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, true, nil
}
