package dedupe

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker answers "has this viewer seen this item inside the window" as one
// atomic conditional set, so check and count can never race apart.
type Marker struct {
	rdb    *redis.Client
	window time.Duration
}

func NewMarker(rdb *redis.Client, window time.Duration) *Marker {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Marker{rdb: rdb, window: window}
}

func seenKey(id int64, viewerKey string) string {
	return "view:seen:" + strconv.FormatInt(id, 10) + ":" + viewerKey
}

// MarkAndCountIfNew returns true exactly once per (item, viewer) pair per
// window. SET NX with the window as TTL performs the check and the claim in
// a single store operation.
func (m *Marker) MarkAndCountIfNew(ctx context.Context, id int64, viewerKey string) (bool, error) {
	first, err := m.rdb.SetNX(ctx, seenKey(id, viewerKey), "1", m.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: mark %d for %s: %w", id, viewerKey, err)
	}
	return first, nil
}
