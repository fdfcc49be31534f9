package rank

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const scoreKey = "rank:score"

// ScoreDelta is one pending score contribution for an item.
type ScoreDelta struct {
	ID    int64
	Delta float64
}

// Store is the read/write surface of a popularity score backend. The remote
// sorted-set implementation and the in-process fallback both satisfy it; the
// circuit breaker decides which one a call reaches.
type Store interface {
	Increment(ctx context.Context, id int64, delta float64) error
	Remove(ctx context.Context, id int64) error
	TopN(ctx context.Context, n int64) ([]int64, error)
}

// RedisStore keeps real-time popularity scores in one sorted set.
type RedisStore struct {
	rdb *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// decayScript multiplies every score by a factor and prunes entries at or
// below the threshold, as one step. Concurrent readers never observe a
// partially decayed set.
//
// KEYS[1] = score sorted set
// ARGV[1] = decay factor, ARGV[2] = prune threshold (inclusive)
var decayScript = redis.NewScript(`
local entries = redis.call("ZRANGE", KEYS[1], 0, -1, "WITHSCORES")
local factor = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
for i = 1, #entries, 2 do
	redis.call("ZADD", KEYS[1], tonumber(entries[i+1]) * factor, entries[i])
end
local pruned = redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", threshold)
return {#entries / 2, pruned}
`)

// Increment adds delta to the item's score, creating the entry if absent.
func (s *RedisStore) Increment(ctx context.Context, id int64, delta float64) error {
	if err := s.rdb.ZIncrBy(ctx, scoreKey, delta, member(id)).Err(); err != nil {
		return fmt.Errorf("rank: increment %d: %w", id, err)
	}
	return nil
}

// Remove deletes the item's entry. Idempotent if absent.
func (s *RedisStore) Remove(ctx context.Context, id int64) error {
	if err := s.rdb.ZRem(ctx, scoreKey, member(id)).Err(); err != nil {
		return fmt.Errorf("rank: remove %d: %w", id, err)
	}
	return nil
}

// TopN returns up to n item ids ordered by descending score. An empty
// result is not an error.
func (s *RedisStore) TopN(ctx context.Context, n int64) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	members, err := s.rdb.ZRevRange(ctx, scoreKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("rank: top %d: %w", n, err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Score returns the item's current score and whether it has an entry.
func (s *RedisStore) Score(ctx context.Context, id int64) (float64, bool, error) {
	score, err := s.rdb.ZScore(ctx, scoreKey, member(id)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("rank: score %d: %w", id, err)
	}
	return score, true, nil
}

// DecayAndPrune multiplies every score by factor and removes entries at or
// below threshold, atomically. Returns the entry count before decay and the
// number of pruned entries.
func (s *RedisStore) DecayAndPrune(ctx context.Context, factor, threshold float64) (total, pruned int64, err error) {
	res, err := decayScript.Run(ctx, s.rdb, []string{scoreKey},
		strconv.FormatFloat(factor, 'f', -1, 64),
		strconv.FormatFloat(threshold, 'f', -1, 64),
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rank: decay: %w", err)
	}
	if len(res) == 2 {
		total, pruned = res[0], res[1]
	}
	return total, pruned, nil
}

// IncrementBatch applies score deltas through one pipeline round trip.
func (s *RedisStore) IncrementBatch(ctx context.Context, deltas []ScoreDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, d := range deltas {
		pipe.ZIncrBy(ctx, scoreKey, d.Delta, member(d.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rank: increment batch: %w", err)
	}
	return nil
}

// RemoveBatch deletes entries through one pipeline round trip.
func (s *RedisStore) RemoveBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, scoreKey, member(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rank: remove batch: %w", err)
	}
	return nil
}

func member(id int64) string {
	return strconv.FormatInt(id, 10)
}
