package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BimilLog/BimilLog-sub001/internal/model"

	"github.com/redis/go-redis/v9"
)

// JSON field names of model.ItemSummary counters, used for in-place updates.
const (
	FieldViewCount    = "view_count"
	FieldLikeCount    = "like_count"
	FieldCommentCount = "comment_count"
)

// Cache is the tiered per-category list cache. Tier 1 is a hash of summaries
// or an ordered list of JSON entries (per Descriptor.Kind); the membership
// sorted set is the durable rebuild source. Multi-step mutations run as
// single Lua scripts so readers never observe a half-applied state.
type Cache struct {
	rdb *redis.Client
	reg *Registry
}

func NewCache(rdb *redis.Client, reg *Registry) *Cache {
	return &Cache{rdb: rdb, reg: reg}
}

// replaceScript atomically swaps a category's cache: delete both keys,
// write entries in presentation order, assign membership scores, set TTLs.
// The score step matches the category's read direction, so ZRANGE (rank
// order) or ZREVRANGE (recency order) both recover presentation order.
//
// KEYS[1] = list/hash key, KEYS[2] = membership key
// ARGV[1] = ttl seconds (0 = durable), ARGV[2] = "hash" | "list"
// ARGV[3] = score step (1 or -1), ARGV[4..] = alternating id, json
var replaceScript = redis.NewScript(`
redis.call("DEL", KEYS[1], KEYS[2])
local ttl = tonumber(ARGV[1])
local kind = ARGV[2]
local step = tonumber(ARGV[3])
local rank = 0
local n = 0
for i = 4, #ARGV, 2 do
	n = n + 1
	rank = rank + step
	if kind == "list" then
		redis.call("RPUSH", KEYS[1], ARGV[i+1])
	else
		redis.call("HSET", KEYS[1], ARGV[i], ARGV[i+1])
	end
	redis.call("ZADD", KEYS[2], rank, ARGV[i])
end
if ttl > 0 then
	redis.call("EXPIRE", KEYS[1], ttl)
	redis.call("EXPIRE", KEYS[2], ttl)
end
return n
`)

// addHeadScript inserts at the front of a capped list window and trims the
// overflow, dropping trimmed ids from the membership set in the same step.
//
// KEYS[1] = list key, KEYS[2] = membership key
// ARGV[1] = max size, ARGV[2] = json, ARGV[3] = insertion seq, ARGV[4] = id
var addHeadScript = redis.NewScript(`
local max = tonumber(ARGV[1])
redis.call("LPUSH", KEYS[1], ARGV[2])
if max > 0 then
	local len = redis.call("LLEN", KEYS[1])
	if len > max then
		local cut = redis.call("LRANGE", KEYS[1], max, -1)
		redis.call("LTRIM", KEYS[1], 0, max-1)
		for _, payload in ipairs(cut) do
			local ok, doc = pcall(cjson.decode, payload)
			if ok and doc.id then
				redis.call("ZREM", KEYS[2], tostring(doc.id))
			end
		end
	end
end
redis.call("ZADD", KEYS[2], tonumber(ARGV[3]), ARGV[4])
return 1
`)

// addScript inserts one entry into a hash-kind category.
//
// KEYS[1] = hash key, KEYS[2] = membership key
// ARGV[1] = id, ARGV[2] = json, ARGV[3] = insertion seq
var addScript = redis.NewScript(`
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[2], tonumber(ARGV[3]), ARGV[1])
return 1
`)

// removeScript removes one item from a category and, for list kinds,
// returns the id at the new tail so the caller can backfill the window.
//
// KEYS[1] = list/hash key, KEYS[2] = membership key
// ARGV[1] = "hash" | "list", ARGV[2] = id
var removeScript = redis.NewScript(`
redis.call("ZREM", KEYS[2], ARGV[2])
if ARGV[1] == "hash" then
	redis.call("HDEL", KEYS[1], ARGV[2])
	return ""
end
local entries = redis.call("LRANGE", KEYS[1], 0, -1)
for _, payload in ipairs(entries) do
	local ok, doc = pcall(cjson.decode, payload)
	if ok and tostring(doc.id) == ARGV[2] then
		redis.call("LREM", KEYS[1], 1, payload)
		break
	end
end
local tail = redis.call("LINDEX", KEYS[1], -1)
if not tail then
	return ""
end
local ok, doc = pcall(cjson.decode, tail)
if ok and doc.id then
	return tostring(doc.id)
end
return ""
`)

// appendScript pushes one entry onto the tail of a list-kind category.
// The membership score goes one past the current extreme in the category's
// read direction so the entry lands at the tail there too. Used to backfill
// a window after a removal; the remove+append pair is deliberately not
// atomic (see the package notes on the accepted race).
//
// KEYS[1] = list key, KEYS[2] = membership key
// ARGV[1] = id, ARGV[2] = json, ARGV[3] = score step (1 or -1)
var appendScript = redis.NewScript(`
redis.call("RPUSH", KEYS[1], ARGV[2])
local step = tonumber(ARGV[3])
local edge
if step > 0 then
	edge = redis.call("ZRANGE", KEYS[2], -1, -1, "WITHSCORES")
else
	edge = redis.call("ZRANGE", KEYS[2], 0, 0, "WITHSCORES")
end
local score = step
if edge[2] then
	score = tonumber(edge[2]) + step
end
redis.call("ZADD", KEYS[2], score, ARGV[1])
return 1
`)

// incrFieldScript adjusts one numeric field of one cached entry in place
// without rewriting the rest of the structure. Returns 1 when applied, 0
// when the entry is not cached (callers skip, never resurrect).
//
// KEYS[1] = list/hash key
// ARGV[1] = "hash" | "list", ARGV[2] = id, ARGV[3] = field, ARGV[4] = delta
var incrFieldScript = redis.NewScript(`
local kind, id, field, delta = ARGV[1], ARGV[2], ARGV[3], tonumber(ARGV[4])
if kind == "hash" then
	local payload = redis.call("HGET", KEYS[1], id)
	if not payload then
		return 0
	end
	local ok, doc = pcall(cjson.decode, payload)
	if not ok then
		return 0
	end
	doc[field] = (tonumber(doc[field]) or 0) + delta
	redis.call("HSET", KEYS[1], id, cjson.encode(doc))
	return 1
end
local entries = redis.call("LRANGE", KEYS[1], 0, -1)
for i, payload in ipairs(entries) do
	local ok, doc = pcall(cjson.decode, payload)
	if ok and tostring(doc.id) == id then
		doc[field] = (tonumber(doc[field]) or 0) + delta
		redis.call("LSET", KEYS[1], i-1, cjson.encode(doc))
		return 1
	end
end
return 0
`)

// GetList returns the cached summaries for a category in presentation
// order. An empty result is not an error: it means this tier is cold and
// the caller should reconstruct from membership ids or the system of record.
func (c *Cache) GetList(ctx context.Context, cat Category) ([]model.ItemSummary, error) {
	d, err := c.reg.Descriptor(cat)
	if err != nil {
		return nil, err
	}
	if d.Kind == KindList {
		payloads, err := c.rdb.LRange(ctx, d.ListKey(), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("feed: range %s: %w", cat, err)
		}
		return decodeAll(cat, payloads), nil
	}
	ids, err := c.MemberIDs(ctx, cat)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return c.Summaries(ctx, cat, ids)
}

// Summaries batch-reads summaries for the given ids from a hash-kind
// category, preserving the callers order. Missing or malformed entries are
// skipped; a malformed payload is logged and treated as a miss for that
// single entry.
func (c *Cache) Summaries(ctx context.Context, cat Category, ids []int64) ([]model.ItemSummary, error) {
	d, err := c.reg.Descriptor(cat)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.FormatInt(id, 10)
	}
	vals, err := c.rdb.HMGet(ctx, d.ListKey(), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("feed: read summaries %s: %w", cat, err)
	}
	out := make([]model.ItemSummary, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var item model.ItemSummary
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			slog.Warn("feed: dropping malformed cached summary", "category", cat, "id", ids[i], "error", err)
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// ReplaceList atomically swaps the category's cache contents with items,
// given in presentation order. Readers see either the old or the new list,
// never a partial one.
func (c *Cache) ReplaceList(ctx context.Context, cat Category, items []model.ItemSummary) error {
	d, err := c.reg.Descriptor(cat)
	if err != nil {
		return err
	}
	args := make([]interface{}, 0, 3+2*len(items))
	args = append(args, int64(d.TTL/time.Second), kindArg(d.Kind), scoreStep(d.Ordering))
	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("feed: encode summary %d: %w", item.ID, err)
		}
		args = append(args, strconv.FormatInt(item.ID, 10), string(payload))
	}
	keys := []string{d.ListKey(), d.MemberKey()}
	if err := replaceScript.Run(ctx, c.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("feed: replace %s: %w", cat, err)
	}
	return nil
}

// AddHead inserts item at the front of a capped window and trims to
// maxSize in the same scripted step. maxSize 0 falls back to the
// category's configured window.
func (c *Cache) AddHead(ctx context.Context, cat Category, item model.ItemSummary, maxSize int) error {
	d, err := c.reg.Descriptor(cat)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("feed: encode summary %d: %w", item.ID, err)
	}
	if maxSize <= 0 {
		maxSize = d.MaxSize
	}
	id := strconv.FormatInt(item.ID, 10)
	keys := []string{d.ListKey(), d.MemberKey()}
	if d.Kind == KindHash {
		err = addScript.Run(ctx, c.rdb, keys, id, string(payload), insertionSeq()).Err()
	} else {
		err = addHeadScript.Run(ctx, c.rdb, keys, maxSize, string(payload), insertionSeq(), id).Err()
	}
	if err != nil {
		return fmt.Errorf("feed: add head %s: %w", cat, err)
	}
	return nil
}

// Append pushes item onto the tail of a list-kind category. This is the
// backfill half of the evict-then-backfill protocol; it is a separate call
// from Remove, so a reader in between may see a temporarily short window.
func (c *Cache) Append(ctx context.Context, cat Category, item model.ItemSummary) error {
	d, err := c.reg.Descriptor(cat)
	if err != nil {
		return err
	}
	if d.Kind != KindList {
		return c.AddHead(ctx, cat, item, 0)
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("feed: encode summary %d: %w", item.ID, err)
	}
	id := strconv.FormatInt(item.ID, 10)
	keys := []string{d.ListKey(), d.MemberKey()}
	if err := appendScript.Run(ctx, c.rdb, keys, id, string(payload), scoreStep(d.Ordering)).Err(); err != nil {
		return fmt.Errorf("feed: append %s: %w", cat, err)
	}
	return nil
}

// Remove deletes an item from a category. For list kinds it returns the id
// now at the tail of the window (0 when the window emptied) so the caller
// can append a replacement. Idempotent if the item is absent.
func (c *Cache) Remove(ctx context.Context, cat Category, id int64) (int64, error) {
	d, err := c.reg.Descriptor(cat)
	if err != nil {
		return 0, err
	}
	keys := []string{d.ListKey(), d.MemberKey()}
	res, err := removeScript.Run(ctx, c.rdb, keys, kindArg(d.Kind), strconv.FormatInt(id, 10)).Text()
	if err != nil {
		return 0, fmt.Errorf("feed: remove %d from %s: %w", id, cat, err)
	}
	if res == "" {
		return 0, nil
	}
	tail, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, nil
	}
	return tail, nil
}

// IncrField adds delta to one numeric field of one cached entry, in place.
// Returns false when the entry is no longer cached; callers must skip it
// rather than re-create a partial record.
func (c *Cache) IncrField(ctx context.Context, cat Category, id int64, field string, delta int64) (bool, error) {
	d, err := c.reg.Descriptor(cat)
	if err != nil {
		return false, err
	}
	n, err := incrFieldScript.Run(ctx, c.rdb,
		[]string{d.ListKey()},
		kindArg(d.Kind), strconv.FormatInt(id, 10), field, delta,
	).Int()
	if err != nil {
		return false, fmt.Errorf("feed: update %s.%s for %d: %w", cat, field, id, err)
	}
	return n == 1, nil
}

// MemberIDs returns the category's durable membership in presentation
// order: ascending ranks for rank-ordered categories, newest first for
// recency-ordered ones.
func (c *Cache) MemberIDs(ctx context.Context, cat Category) ([]int64, error) {
	d, err := c.reg.Descriptor(cat)
	if err != nil {
		return nil, err
	}
	var members []string
	if d.Ordering == OrderRecency {
		members, err = c.rdb.ZRevRange(ctx, d.MemberKey(), 0, -1).Result()
	} else {
		members, err = c.rdb.ZRange(ctx, d.MemberKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("feed: members %s: %w", cat, err)
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

// Contains reports whether the item belongs to the category.
func (c *Cache) Contains(ctx context.Context, cat Category, id int64) (bool, error) {
	d, err := c.reg.Descriptor(cat)
	if err != nil {
		return false, err
	}
	_, err = c.rdb.ZScore(ctx, d.MemberKey(), strconv.FormatInt(id, 10)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("feed: contains %s: %w", cat, err)
	}
	return true, nil
}

func decodeAll(cat Category, payloads []string) []model.ItemSummary {
	out := make([]model.ItemSummary, 0, len(payloads))
	for _, p := range payloads {
		var item model.ItemSummary
		if err := json.Unmarshal([]byte(p), &item); err != nil {
			slog.Warn("feed: dropping malformed cached summary", "category", cat, "error", err)
			continue
		}
		out = append(out, item)
	}
	return out
}

func kindArg(k Kind) string {
	if k == KindList {
		return "list"
	}
	return "hash"
}

// scoreStep maps the read direction to the membership score increment:
// ascending ranks for rank order, descending for recency order.
func scoreStep(o Ordering) int64 {
	if o == OrderRecency {
		return -1
	}
	return 1
}

// insertionSeq is the membership score for head insertions. Microsecond
// resolution keeps the value exactly representable as a float64 score while
// still separating back-to-back insertions.
func insertionSeq() int64 {
	return time.Now().UnixMicro()
}
