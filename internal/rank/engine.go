package rank

import (
	"context"
	"log/slog"
)

// Engine is the breaker-guarded score engine. Writes reach the remote
// sorted set while the circuit is closed and accumulate in the in-process
// fallback while it is open or during a transient blip; the next successful
// remote call replays the fallback additively. Callers never see a remote
// failure.
type Engine struct {
	remote    *RedisStore
	fallback  *Fallback
	breaker   *Breaker
	batchSize int
}

func NewEngine(remote *RedisStore, fallback *Fallback, breaker *Breaker, replayBatchSize int) *Engine {
	if replayBatchSize <= 0 {
		replayBatchSize = 500
	}
	return &Engine{
		remote:    remote,
		fallback:  fallback,
		breaker:   breaker,
		batchSize: replayBatchSize,
	}
}

// Increment adds delta to an item's score. Never returns an error to the
// caller: remote failures divert the write to the fallback store.
func (e *Engine) Increment(ctx context.Context, id int64, delta float64) error {
	if !e.breaker.Allow() {
		return e.fallback.Increment(ctx, id, delta)
	}
	if err := e.remote.Increment(ctx, id, delta); err != nil {
		e.breaker.Failure()
		slog.Warn("rank: diverting increment to fallback", "id", id, "error", err)
		return e.fallback.Increment(ctx, id, delta)
	}
	e.afterSuccess(ctx)
	return nil
}

// Remove deletes an item's score entry, buffering the deletion for replay
// when the remote store is unavailable.
func (e *Engine) Remove(ctx context.Context, id int64) error {
	if !e.breaker.Allow() {
		return e.fallback.Remove(ctx, id)
	}
	if err := e.remote.Remove(ctx, id); err != nil {
		e.breaker.Failure()
		slog.Warn("rank: diverting removal to fallback", "id", id, "error", err)
		return e.fallback.Remove(ctx, id)
	}
	e.afterSuccess(ctx)
	return nil
}

// TopN returns up to n ids by descending score. Reads degrade to an empty
// result during an outage instead of blocking or failing.
func (e *Engine) TopN(ctx context.Context, n int64) ([]int64, error) {
	if !e.breaker.Allow() {
		return e.fallback.TopN(ctx, n)
	}
	ids, err := e.remote.TopN(ctx, n)
	if err != nil {
		e.breaker.Failure()
		slog.Warn("rank: top-n degraded to empty", "error", err)
		return nil, nil
	}
	e.afterSuccess(ctx)
	return ids, nil
}

// DecayAndPrune runs the scheduled decay cycle against the remote store.
// The scheduled job owns error handling here, so failures propagate.
func (e *Engine) DecayAndPrune(ctx context.Context, factor, threshold float64) (total, pruned int64, err error) {
	return e.remote.DecayAndPrune(ctx, factor, threshold)
}

// Score exposes the remote score for one item.
func (e *Engine) Score(ctx context.Context, id int64) (float64, bool, error) {
	return e.remote.Score(ctx, id)
}

// State reports the breaker position, for logs and health output.
func (e *Engine) State() State {
	return e.breaker.State()
}

// afterSuccess runs reconciliation after a successful remote call. The
// half-open probe's success transitions the breaker closed, but diverted
// writes can also strand in the fallback without the circuit ever opening
// (a sub-threshold blip), so any buffered entry triggers a merge.
func (e *Engine) afterSuccess(ctx context.Context) {
	if e.breaker.Success() || e.fallback.Len() > 0 {
		e.replay(ctx)
	}
}

// replay merges the fallback store back into the remote sorted set:
// additive increments first, then buffered removals. A failed increment
// batch goes back into the fallback for the next attempt; removal replay
// is best effort. The caller's request must not fail because
// reconciliation did.
func (e *Engine) replay(ctx context.Context) {
	deltas, removals := e.fallback.Drain()
	if len(deltas) == 0 && len(removals) == 0 {
		return
	}
	slog.Info("rank: replaying fallback after recovery", "deltas", len(deltas), "removals", len(removals))

	batch := make([]ScoreDelta, 0, e.batchSize)
	for id, delta := range deltas {
		batch = append(batch, ScoreDelta{ID: id, Delta: delta})
		if len(batch) == e.batchSize {
			e.mergeBatch(ctx, batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		e.mergeBatch(ctx, batch)
	}

	// removal replay stays best effort: a re-delete raced by a fresh
	// increment should not win
	for start := 0; start < len(removals); start += e.batchSize {
		end := start + e.batchSize
		if end > len(removals) {
			end = len(removals)
		}
		if err := e.remote.RemoveBatch(ctx, removals[start:end]); err != nil {
			slog.Error("rank: fallback removal replay failed", "size", end-start, "error", err)
		}
	}
}

// mergeBatch applies one increment batch remotely, returning the deltas to
// the fallback on failure so they survive until the next attempt.
func (e *Engine) mergeBatch(ctx context.Context, batch []ScoreDelta) {
	if err := e.remote.IncrementBatch(ctx, batch); err != nil {
		slog.Error("rank: fallback replay batch failed, re-buffering", "size", len(batch), "error", err)
		for _, d := range batch {
			_ = e.fallback.Increment(ctx, d.ID, d.Delta)
		}
	}
}
