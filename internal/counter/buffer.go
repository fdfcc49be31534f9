package counter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const bufferKey = "counter:views"

// Buffer write-buffers high-frequency counter increments in one redis hash.
// A drain reads and clears the hash in a single scripted step, so any number
// of concurrent drainers split the pending deltas cleanly: each delta lands
// in exactly one drainer's result, never lost, never double-counted.
type Buffer struct {
	rdb *redis.Client
}

func NewBuffer(rdb *redis.Client) *Buffer {
	return &Buffer{rdb: rdb}
}

// drainScript captures the buffer's contents and deletes it as one atomic
// unit. Increments racing with the drain land after the DEL, in a fresh
// buffer for the next drain to pick up.
//
// KEYS[1] = buffer hash
var drainScript = redis.NewScript(`
local entries = redis.call("HGETALL", KEYS[1])
if #entries > 0 then
	redis.call("DEL", KEYS[1])
end
return entries
`)

// Increment adds n to the item's pending delta.
func (b *Buffer) Increment(ctx context.Context, id int64, n int64) error {
	if err := b.rdb.HIncrBy(ctx, bufferKey, strconv.FormatInt(id, 10), n).Err(); err != nil {
		return fmt.Errorf("counter: increment %d: %w", id, err)
	}
	return nil
}

// DrainAndReset atomically returns the buffered deltas and resets the
// buffer. An empty or missing buffer yields an empty map, not an error.
func (b *Buffer) DrainAndReset(ctx context.Context) (map[int64]int64, error) {
	entries, err := drainScript.Run(ctx, b.rdb, []string{bufferKey}).Slice()
	if err != nil {
		return nil, fmt.Errorf("counter: drain buffer: %w", err)
	}
	out := make(map[int64]int64, len(entries)/2)
	for i := 0; i+1 < len(entries); i += 2 {
		field, ok := entries[i].(string)
		if !ok {
			continue
		}
		val, ok := entries[i+1].(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out[id] = n
	}
	return out, nil
}

// Pending returns the current buffered delta for one item, for diagnostics.
func (b *Buffer) Pending(ctx context.Context, id int64) (int64, error) {
	val, err := b.rdb.HGet(ctx, bufferKey, strconv.FormatInt(id, 10)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter: pending %d: %w", id, err)
	}
	return strconv.ParseInt(val, 10, 64)
}
