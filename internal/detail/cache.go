package detail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/BimilLog/BimilLog-sub001/internal/model"

	"github.com/redis/go-redis/v9"
)

// Cache stores one full item record per key with a fixed TTL and decides
// refreshes probabilistically as expiry approaches, so concurrent readers
// spread the refresh work instead of stampeding at the expiry instant.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	gap time.Duration
	// uniform draw in [0,1); replaceable in tests
	randFloat func() float64
}

func NewCache(rdb *redis.Client, ttl, refreshGap time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if refreshGap <= 0 {
		refreshGap = time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl, gap: refreshGap, randFloat: rand.Float64}
}

func detailKey(id int64) string {
	return "detail:" + strconv.FormatInt(id, 10)
}

// incrFieldScript bumps one counter inside the cached JSON while keeping
// the key's remaining TTL. Returns 0 when the key is absent so an expired
// or deleted detail is never resurrected with a partial record.
//
// KEYS[1] = detail key
// ARGV[1] = field, ARGV[2] = delta
var incrFieldScript = redis.NewScript(`
local payload = redis.call("GET", KEYS[1])
if not payload then
	return 0
end
local ok, doc = pcall(cjson.decode, payload)
if not ok then
	return 0
end
doc[ARGV[1]] = (tonumber(doc[ARGV[1]]) or 0) + tonumber(ARGV[2])
local ttl = redis.call("PTTL", KEYS[1])
redis.call("SET", KEYS[1], cjson.encode(doc))
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`)

// Get returns the cached detail, reporting a miss via the bool. A payload
// that no longer parses is logged and treated as a miss for that entry.
func (c *Cache) Get(ctx context.Context, id int64) (model.ItemDetail, bool, error) {
	payload, err := c.rdb.Get(ctx, detailKey(id)).Bytes()
	if err == redis.Nil {
		return model.ItemDetail{}, false, nil
	}
	if err != nil {
		return model.ItemDetail{}, false, fmt.Errorf("detail: get %d: %w", id, err)
	}
	var d model.ItemDetail
	if err := json.Unmarshal(payload, &d); err != nil {
		slog.Warn("detail: dropping malformed cached detail", "id", id, "error", err)
		return model.ItemDetail{}, false, nil
	}
	return d, true, nil
}

// Put stores the detail with the cache's fixed TTL.
func (c *Cache) Put(ctx context.Context, d model.ItemDetail) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("detail: encode %d: %w", d.ID, err)
	}
	if err := c.rdb.Set(ctx, detailKey(d.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("detail: put %d: %w", d.ID, err)
	}
	return nil
}

// Delete removes the cached detail. Writes go around the cache to the
// system of record; the entry is invalidated, not updated in place.
func (c *Cache) Delete(ctx context.Context, id int64) error {
	if err := c.rdb.Del(ctx, detailKey(id)).Err(); err != nil {
		return fmt.Errorf("detail: delete %d: %w", id, err)
	}
	return nil
}

// ShouldRefresh is true deterministically once the TTL has expired, and
// probabilistically inside the trailing gap window before expiry: with
// remaining TTL r_ttl and a uniform draw r, refresh when r_ttl - r*gap <= 0.
// The probability rises linearly from 0 at gap width to 1 at expiry.
func (c *Cache) ShouldRefresh(ctx context.Context, id int64) bool {
	remaining, err := c.rdb.PTTL(ctx, detailKey(id)).Result()
	if err != nil {
		return false
	}
	if remaining < 0 {
		// -2 key gone, -1 no expiry set; either way a fetch is due
		return true
	}
	if remaining >= c.gap {
		return false
	}
	return remaining-time.Duration(c.randFloat()*float64(c.gap)) <= 0
}

// IncrField adds delta to one counter of the cached detail in place.
// Returns false when the detail is not cached.
func (c *Cache) IncrField(ctx context.Context, id int64, field string, delta int64) (bool, error) {
	n, err := incrFieldScript.Run(ctx, c.rdb, []string{detailKey(id)}, field, delta).Int()
	if err != nil {
		return false, fmt.Errorf("detail: update %s for %d: %w", field, id, err)
	}
	return n == 1, nil
}
