package detail

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/BimilLog/BimilLog-sub001/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl, gap time.Duration) (*Cache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client, ttl, gap), mr, client
}

func testDetail(id int64) model.ItemDetail {
	return model.ItemDetail{
		ID:        id,
		Title:     "title",
		Body:      "body",
		AuthorID:  9,
		CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPutGetDelete(t *testing.T) {
	c, _, _ := newTestCache(t, 10*time.Minute, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok, "miss is not an error")

	require.NoError(t, c.Put(ctx, testDetail(1)))
	got, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "body", got.Body)

	require.NoError(t, c.Delete(ctx, 1))
	_, ok, err = c.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMalformedDetailIsMiss(t *testing.T) {
	c, _, client := newTestCache(t, 10*time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "detail:5", "{broken", time.Minute).Err())
	_, ok, err := c.Get(ctx, 5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestShouldRefreshDeterministicOutsideGap(t *testing.T) {
	c, mr, _ := newTestCache(t, 10*time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testDetail(1)))

	// plenty of TTL left: never refresh, whatever the draw
	c.randFloat = func() float64 { return 0.999999 }
	require.False(t, c.ShouldRefresh(ctx, 1))

	// expired: always refresh
	mr.FastForward(11 * time.Minute)
	c.randFloat = func() float64 { return 0 }
	require.True(t, c.ShouldRefresh(ctx, 1))
}

func TestShouldRefreshInsideGap(t *testing.T) {
	c, mr, _ := newTestCache(t, 10*time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testDetail(1)))
	mr.FastForward(9*time.Minute + 30*time.Second) // 30s remaining of a 60s gap

	c.randFloat = func() float64 { return 0.49 } // 0.49*60s = 29.4s < 30s remaining
	require.False(t, c.ShouldRefresh(ctx, 1))

	c.randFloat = func() float64 { return 0.51 } // 0.51*60s = 30.6s >= 30s remaining
	require.True(t, c.ShouldRefresh(ctx, 1))
}

// Inside the gap the refresh probability is roughly (gap-remaining)/gap.
func TestShouldRefreshProbabilityIsLinear(t *testing.T) {
	c, mr, _ := newTestCache(t, 10*time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testDetail(1)))
	mr.FastForward(9*time.Minute + 15*time.Second) // 45s remaining: expect ~25%

	rng := rand.New(rand.NewSource(42))
	c.randFloat = rng.Float64

	const trials = 4000
	hits := 0
	for i := 0; i < trials; i++ {
		if c.ShouldRefresh(ctx, 1) {
			hits++
		}
	}
	got := float64(hits) / trials
	require.InDelta(t, 0.25, got, 0.04)
}

func TestIncrFieldKeepsTTLAndSkipsMissing(t *testing.T) {
	c, mr, _ := newTestCache(t, 10*time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testDetail(1)))
	applied, err := c.IncrField(ctx, 1, "view_count", 3)
	require.NoError(t, err)
	require.True(t, applied)

	got, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, got.ViewCount)
	require.Greater(t, mr.TTL("detail:1"), time.Duration(0), "update must not strip the TTL")

	applied, err = c.IncrField(ctx, 404, "view_count", 1)
	require.NoError(t, err)
	require.False(t, applied, "a missing detail is never resurrected")
}
