package counter

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBuffer(client)
}

func TestDrainEmptyBufferIsNotError(t *testing.T) {
	b := newTestBuffer(t)
	got, err := b.DrainAndReset(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestIncrementAndDrain(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	require.NoError(t, b.Increment(ctx, 1, 1))
	require.NoError(t, b.Increment(ctx, 1, 2))
	require.NoError(t, b.Increment(ctx, 2, 5))

	got, err := b.DrainAndReset(ctx)
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{1: 3, 2: 5}, got)

	// the drain reset the buffer
	got, err = b.DrainAndReset(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestIncrementsAfterDrainLandInFreshBuffer(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	require.NoError(t, b.Increment(ctx, 1, 4))
	got, err := b.DrainAndReset(ctx)
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{1: 4}, got)

	require.NoError(t, b.Increment(ctx, 1, 6))
	pending, err := b.Pending(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 6, pending)
}

// Several processes drain the same buffer: the flush worker runs on every
// instance and the ranking cycle flushes too. Each buffered delta must land
// in exactly one drainer's result, so the totals across all drainers add up
// to exactly the number of increments issued.
func TestConcurrentDrainersSplitDeltasExactlyOnce(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	const writers = 4
	const drainers = 4
	const perWriter = 50

	var wg sync.WaitGroup
	drained := make(chan map[int64]int64, drainers*32)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := b.Increment(ctx, 7, 1); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	for d := 0; d < drainers; d++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				got, err := b.DrainAndReset(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				drained <- got
			}
		}()
	}

	wg.Wait()
	close(drained)

	var total int64
	for m := range drained {
		total += m[7]
	}
	final, err := b.DrainAndReset(ctx)
	require.NoError(t, err)
	total += final[7]

	require.EqualValues(t, writers*perWriter, total)
}

// Increments racing with drains are never lost and never double-counted:
// the drained totals plus the final pending delta add up to exactly the
// number of increments issued.
func TestDrainIsExactlyOnceUnderConcurrency(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	drained := make(chan map[int64]int64, 64)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := b.Increment(ctx, 7, 1); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			got, err := b.DrainAndReset(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			drained <- got
		}
	}()

	wg.Wait()
	close(drained)

	var total int64
	for m := range drained {
		total += m[7]
	}
	final, err := b.DrainAndReset(ctx)
	require.NoError(t, err)
	total += final[7]

	require.EqualValues(t, writers*perWriter, total)
}
