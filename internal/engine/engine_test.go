package engine

import (
	"context"
	"testing"
	"time"

	"github.com/BimilLog/BimilLog-sub001/internal/counter"
	"github.com/BimilLog/BimilLog-sub001/internal/dedupe"
	"github.com/BimilLog/BimilLog-sub001/internal/detail"
	"github.com/BimilLog/BimilLog-sub001/internal/feed"
	"github.com/BimilLog/BimilLog-sub001/internal/model"
	"github.com/BimilLog/BimilLog-sub001/internal/rank"
	"github.com/BimilLog/BimilLog-sub001/internal/sched"
	"github.com/BimilLog/BimilLog-sub001/internal/source"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testRig struct {
	eng    *Engine
	mr     *miniredis.Miniredis
	client *redis.Client
	src    *source.Memory
	rank   *rank.Engine
	feed   *feed.Cache
	det    *detail.Cache
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := feed.NewRegistry(24*time.Hour+30*time.Minute, 3)
	src := source.NewMemory()
	breaker := rank.NewBreaker(rank.BreakerConfig{FailureThreshold: 0.5, MinSamples: 10, Cooldown: time.Second})
	rankEng := rank.NewEngine(rank.NewRedisStore(client), rank.NewFallback(), breaker, 500)
	feedCache := feed.NewCache(client, reg)
	det := detail.NewCache(client, 10*time.Minute, time.Minute)

	eng := New(Options{
		Rank:           rankEng,
		Feed:           feedCache,
		Registry:       reg,
		Detail:         det,
		Counters:       counter.NewBuffer(client),
		Dedupe:         dedupe.NewMarker(client, 24*time.Hour),
		Lock:           sched.NewLock(client, 90*time.Second),
		Source:         src,
		Points:         Points{View: 2, Like: 5, Comment: 3},
		DecayFactor:    0.97,
		PruneThreshold: 1.0,
		FeedSize:       3,
	})
	return &testRig{eng: eng, mr: mr, client: client, src: src, rank: rankEng, feed: feedCache, det: det}
}

func seedItem(r *testRig, id int64, title string) {
	r.src.PutDetail(model.ItemDetail{
		ID:        id,
		Title:     title,
		Body:      "body of " + title,
		AuthorID:  1,
		CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	})
}

func feedIDs(items []model.ItemSummary) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func TestFeedUnknownCategory(t *testing.T) {
	r := newTestRig(t)
	_, err := r.eng.Feed(context.Background(), feed.Category("bogus"))
	require.Error(t, err)
}

func TestFeedRebuildsFromSystemOfRecord(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		seedItem(r, i, "w")
	}
	r.src.SetCategory(feed.Weekly, []int64{2, 1, 3})

	got, err := r.eng.Feed(ctx, feed.Weekly)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1, 3}, feedIDs(got), "source order is the presentation order")

	// the rebuild populated the cache: mutate the source and expect the
	// cached copy until the next cycle
	r.src.SetCategory(feed.Weekly, []int64{3})
	got, err = r.eng.Feed(ctx, feed.Weekly)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1, 3}, feedIDs(got))
}

func TestFeedReconstructsFromMembershipAfterEviction(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		seedItem(r, i, "w")
	}
	r.src.SetCategory(feed.Weekly, []int64{1, 2, 3})
	_, err := r.eng.Feed(ctx, feed.Weekly)
	require.NoError(t, err)

	// tier-1 eviction leaves durable membership behind
	r.mr.Del("feed:list:weekly")

	got, err := r.eng.Feed(ctx, feed.Weekly)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, feedIDs(got))
}

func TestOnViewDedupesAndBuffers(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, r.eng.OnView(ctx, 7, "viewer-a"))
	require.NoError(t, r.eng.OnView(ctx, 7, "viewer-a")) // duplicate in window
	require.NoError(t, r.eng.OnView(ctx, 7, "viewer-b"))

	score, ok, err := r.rank.Score(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 4.0, score, 1e-9, "two distinct viewers at 2 points each")

	buffered, err := r.client.HGet(ctx, "counter:views", "7").Result()
	require.NoError(t, err)
	require.Equal(t, "2", buffered, "the view counter buffered once per distinct viewer")
}

func TestRealtimeFeedFollowsScores(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		seedItem(r, i, "rt")
	}
	require.NoError(t, r.eng.OnLike(ctx, 2)) // 5 points
	require.NoError(t, r.eng.OnView(ctx, 1, "a"))
	require.NoError(t, r.eng.OnComment(ctx, 3)) // 3 points

	got, err := r.eng.Feed(ctx, feed.Realtime)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 1}, feedIDs(got), "summary gaps are filled from the system of record")
}

func TestFlushCountersSkipsVanishedEntries(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	seedItem(r, 1, "a")
	r.src.SetCategory(feed.Weekly, []int64{1})
	_, err := r.eng.Feed(ctx, feed.Weekly)
	require.NoError(t, err)
	_, err = r.eng.Detail(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, r.eng.OnView(ctx, 1, "a"))
	require.NoError(t, r.eng.OnView(ctx, 1, "b"))
	require.NoError(t, r.eng.OnView(ctx, 999, "a")) // nothing cached for this id

	r.eng.FlushCounters(ctx)

	got, err := r.eng.Feed(ctx, feed.Weekly)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 2, got[0].ViewCount)

	d, err := r.eng.Detail(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, d.ViewCount)

	// nothing appeared for the uncached id
	require.False(t, r.mr.Exists("detail:999"))

	// the buffer was reset: a second flush applies nothing more
	r.eng.FlushCounters(ctx)
	got, err = r.eng.Feed(ctx, feed.Weekly)
	require.NoError(t, err)
	require.EqualValues(t, 2, got[0].ViewCount)
}

func TestDetailServesStaleOnSourceFailure(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	seedItem(r, 1, "a")
	d, err := r.eng.Detail(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "a", d.Title)

	// dropping the TTL forces the early-refresh election on the next read
	require.NoError(t, r.client.Persist(ctx, "detail:1").Err())
	r.src.Delete(1)

	d, err = r.eng.Detail(ctx, 1)
	require.NoError(t, err, "a failed refresh serves the cached copy")
	require.Equal(t, "a", d.Title)

	// with nothing cached a missing record is a hard error
	_, err = r.eng.Detail(ctx, 404)
	require.Error(t, err)
}

func TestCreateItemEntersWindows(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		seedItem(r, i, "fp")
		require.NoError(t, r.eng.CreateItem(ctx, model.ItemDetail{
			ID: i, Title: "fp", AuthorID: 1,
			CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		}))
	}

	got, err := r.eng.Feed(ctx, feed.FirstPage)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 3, 2}, feedIDs(got), "capped window keeps the newest three")
}

func TestDeleteItemBackfillsWindow(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		seedItem(r, i, "fp")
	}
	r.src.SetCategory(feed.FirstPage, []int64{1, 2, 3, 4})

	// window holds the first three
	_, err := r.eng.Feed(ctx, feed.FirstPage)
	require.NoError(t, err)

	// the record is gone from the system of record before the caches hear
	// about it
	r.src.Delete(2)
	require.NoError(t, r.eng.DeleteItem(ctx, 2))

	got, err := r.eng.Feed(ctx, feed.FirstPage)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 4}, feedIDs(got), "the window was backfilled from the system of record")

	_, ok, err := r.rank.Score(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok, "the score entry is gone")
}

func TestRunCycleDecaysRebuildsAndFlushes(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	seedItem(r, 7, "hot")
	r.src.SetCategory(feed.Weekly, []int64{7})
	for i := 0; i < 20; i++ {
		require.NoError(t, r.eng.OnView(ctx, 7, ""))
	}

	require.NoError(t, r.eng.RunCycle(ctx))

	score, ok, err := r.rank.Score(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 38.8, score, 1e-9)

	got, err := r.eng.Feed(ctx, feed.Weekly)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 20, got[0].ViewCount, "buffered views were flushed during the cycle")

	// the lock was released
	require.False(t, r.mr.Exists("sched:lock:ranking"))
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, r.client.Set(ctx, "sched:lock:ranking", "other-instance", time.Minute).Err())
	require.NoError(t, r.eng.OnView(ctx, 7, ""))

	require.NoError(t, r.eng.RunCycle(ctx), "contention is a skip, not an error")

	score, ok, err := r.rank.Score(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 2.0, score, 1e-9, "no decay ran")

	val, err := r.client.Get(ctx, "sched:lock:ranking").Result()
	require.NoError(t, err)
	require.Equal(t, "other-instance", val, "the other instance's lock is untouched")
}
