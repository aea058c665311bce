package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLeaseTTL bounds how long a crashed holder keeps a Redis lock.
const DefaultLeaseTTL = 10 * time.Minute

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between machines through Redis.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLocker creates a locker on client. ttl <= 0 uses DefaultLeaseTTL.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &RedisLocker{client: client, prefix: "fxctl:lock:", ttl: ttl}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	name := l.prefix + key

	ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrAlreadyLocked
	}
	return &redisLease{client: l.client, key: name, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

var errLeaseLost = errors.New("lock lease expired or was taken over")

func (r *redisLease) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, r.client, []string{r.key}, r.token).Int()
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", r.key, err)
	}
	if n == 0 {
		return errLeaseLost
	}
	return nil
}
