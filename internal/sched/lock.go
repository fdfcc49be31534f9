package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKey = "sched:lock:ranking"

// Lock is the cluster-wide mutual exclusion for the scheduled ranking
// cycle: set-if-absent with a unique token and a TTL longer than the cycle
// runtime, released only by the holder whose token still matches.
type Lock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLock(rdb *redis.Client, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Lock{rdb: rdb, ttl: ttl}
}

// releaseScript deletes the lock only while it still holds the caller's
// token, so a holder whose lock expired and was re-acquired elsewhere can
// never delete the new holder's lock.
//
// KEYS[1] = lock key, ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryAcquire attempts to take the lock. On contention it returns
// ok == false and the caller must skip its scheduled run entirely this
// cycle, without retrying.
func (l *Lock) TryAcquire(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("sched: acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it. Returns whether the lock
// was actually released.
func (l *Lock) Release(ctx context.Context, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{lockKey}, token).Int()
	if err != nil {
		return false, fmt.Errorf("sched: release lock: %w", err)
	}
	return n == 1, nil
}
