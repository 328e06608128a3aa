package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("nurse lock not acquired")
)

// Locker guards the assignment critical section per nurse. The nurse is the
// contended resource: two staff members assigning the same nurse to
// overlapping windows must serialize here before the storage-level
// check-and-set runs.
type Locker interface {
	WithNurseLock(ctx context.Context, nurseID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisNurseLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisNurseLocker creates a locker that uses a per nurse Redis key.
func NewRedisNurseLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisNurseLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisNurseLocker) WithNurseLock(ctx context.Context, nurseID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:nurse:%s", nurseID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire nurse lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// Compare-and-delete so a lock that expired and was re-acquired elsewhere is
// never released by the previous holder.
var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisNurseLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release nurse lock: %w", err)
	}
	return nil
}
