package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BimilLog/BimilLog-sub001/internal/counter"
	"github.com/BimilLog/BimilLog-sub001/internal/dedupe"
	"github.com/BimilLog/BimilLog-sub001/internal/detail"
	"github.com/BimilLog/BimilLog-sub001/internal/feed"
	"github.com/BimilLog/BimilLog-sub001/internal/model"
	"github.com/BimilLog/BimilLog-sub001/internal/rank"
	"github.com/BimilLog/BimilLog-sub001/internal/sched"
	"github.com/BimilLog/BimilLog-sub001/internal/source"

	"golang.org/x/sync/errgroup"
)

// Points maps event kinds to their score contribution.
type Points struct {
	View    float64
	Like    float64
	Comment float64
}

// Options bundles the engine's collaborators and tuning.
type Options struct {
	Rank           *rank.Engine
	Feed           *feed.Cache
	Registry       *feed.Registry
	Detail         *detail.Cache
	Counters       *counter.Buffer
	Dedupe         *dedupe.Marker
	Lock           *sched.Lock
	Source         source.Reader
	Points         Points
	DecayFactor    float64
	PruneThreshold float64
	FeedSize       int // page size for realtime top-n reads
}

// Engine ties the ranking, cache and counter components into the write
// path (events), the read path (feeds, details) and the scheduled cycle.
type Engine struct {
	rank     *rank.Engine
	feed     *feed.Cache
	reg      *feed.Registry
	detail   *detail.Cache
	counters *counter.Buffer
	dedupe   *dedupe.Marker
	lock     *sched.Lock
	source   source.Reader
	points   Points
	factor   float64
	cutoff   float64
	feedSize int64
}

func New(opts Options) *Engine {
	if opts.Points.View == 0 {
		opts.Points.View = 2
	}
	if opts.Points.Like == 0 {
		opts.Points.Like = 5
	}
	if opts.Points.Comment == 0 {
		opts.Points.Comment = 3
	}
	if opts.DecayFactor == 0 {
		opts.DecayFactor = 0.97
	}
	if opts.PruneThreshold == 0 {
		opts.PruneThreshold = 1.0
	}
	if opts.FeedSize <= 0 {
		opts.FeedSize = 20
	}
	return &Engine{
		rank:     opts.Rank,
		feed:     opts.Feed,
		reg:      opts.Registry,
		detail:   opts.Detail,
		counters: opts.Counters,
		dedupe:   opts.Dedupe,
		lock:     opts.Lock,
		source:   opts.Source,
		points:   opts.Points,
		factor:   opts.DecayFactor,
		cutoff:   opts.PruneThreshold,
		feedSize: int64(opts.FeedSize),
	}
}

// OnView records one view event. The viewer is counted once per dedupe
// window; repeat views inside the window contribute nothing. A viewerKey of
// "" bypasses dedupe (trusted batch callers).
func (e *Engine) OnView(ctx context.Context, id int64, viewerKey string) error {
	if viewerKey != "" {
		first, err := e.dedupe.MarkAndCountIfNew(ctx, id, viewerKey)
		if err != nil {
			// counting an occasional duplicate beats dropping views while
			// the store flaps
			slog.Warn("engine: dedupe unavailable, counting view", "id", id, "error", err)
		} else if !first {
			return nil
		}
	}
	if err := e.rank.Increment(ctx, id, e.points.View); err != nil {
		return err
	}
	if err := e.counters.Increment(ctx, id, 1); err != nil {
		slog.Warn("engine: view counter buffer unavailable", "id", id, "error", err)
	}
	return nil
}

// OnLike records one like event: score points plus in-place counter bumps
// on the cached detail and realtime summary.
func (e *Engine) OnLike(ctx context.Context, id int64) error {
	if err := e.rank.Increment(ctx, id, e.points.Like); err != nil {
		return err
	}
	e.bumpCached(ctx, id, feed.FieldLikeCount, 1)
	return nil
}

// OnComment records one comment event.
func (e *Engine) OnComment(ctx context.Context, id int64) error {
	if err := e.rank.Increment(ctx, id, e.points.Comment); err != nil {
		return err
	}
	e.bumpCached(ctx, id, feed.FieldCommentCount, 1)
	return nil
}

func (e *Engine) bumpCached(ctx context.Context, id int64, field string, delta int64) {
	if _, err := e.detail.IncrField(ctx, id, field, delta); err != nil {
		slog.Warn("engine: detail counter bump failed", "id", id, "field", field, "error", err)
	}
	if _, err := e.feed.IncrField(ctx, feed.Realtime, id, field, delta); err != nil {
		slog.Warn("engine: summary counter bump failed", "id", id, "field", field, "error", err)
	}
}

// Feed returns the category's summaries in presentation order, walking the
// tiers: list cache, then durable membership plus the system of record,
// then a full re-source. Infrastructure failures degrade to an empty feed;
// only an unknown category is an error.
func (e *Engine) Feed(ctx context.Context, cat feed.Category) ([]model.ItemSummary, error) {
	if _, err := e.reg.Descriptor(cat); err != nil {
		return nil, err
	}
	if cat == feed.Realtime {
		return e.realtimeFeed(ctx), nil
	}

	items, err := e.feed.GetList(ctx, cat)
	if err != nil {
		slog.Warn("engine: list cache read failed", "category", cat, "error", err)
	}
	if len(items) > 0 {
		return items, nil
	}

	// Tier 2: durable membership ids, summaries re-sourced.
	ids, err := e.feed.MemberIDs(ctx, cat)
	if err != nil {
		slog.Warn("engine: membership read failed", "category", cat, "error", err)
	}
	if len(ids) > 0 {
		items, err := e.source.Summaries(ctx, ids)
		if err != nil {
			slog.Warn("engine: summary re-source failed", "category", cat, "error", err)
			return nil, nil
		}
		if err := e.feed.ReplaceList(ctx, cat, items); err != nil {
			slog.Warn("engine: list cache repopulate failed", "category", cat, "error", err)
		}
		return items, nil
	}

	// Tier 3: the system of record defines the category from scratch.
	items, err = e.rebuildCategory(ctx, cat)
	if err != nil {
		slog.Warn("engine: category rebuild failed", "category", cat, "error", err)
		return nil, nil
	}
	return items, nil
}

// realtimeFeed orders the realtime page by the live score ranking and
// fills summary gaps from the system of record.
func (e *Engine) realtimeFeed(ctx context.Context) []model.ItemSummary {
	ids, err := e.rank.TopN(ctx, e.feedSize)
	if err != nil || len(ids) == 0 {
		// outage or empty ranking: fall back to the cached list as-is
		items, err := e.feed.GetList(ctx, feed.Realtime)
		if err != nil {
			slog.Warn("engine: realtime fallback read failed", "error", err)
			return nil
		}
		return items
	}
	cached, err := e.feed.Summaries(ctx, feed.Realtime, ids)
	if err != nil {
		slog.Warn("engine: realtime summary read failed", "error", err)
		cached = nil
	}
	byID := make(map[int64]model.ItemSummary, len(cached))
	for _, s := range cached {
		byID[s.ID] = s
	}
	missing := make([]int64, 0)
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fetched, err := e.source.Summaries(ctx, missing)
		if err != nil {
			slog.Warn("engine: realtime summary re-source failed", "count", len(missing), "error", err)
		}
		for _, s := range fetched {
			byID[s.ID] = s
			if err := e.feed.AddHead(ctx, feed.Realtime, s, 0); err != nil {
				slog.Warn("engine: realtime summary cache write failed", "id", s.ID, "error", err)
			}
		}
	}
	out := make([]model.ItemSummary, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Detail returns the full item record, refreshing from the system of
// record when the cached copy is absent or elected for early refresh.
// Stale data is served when the system of record is unreachable.
func (e *Engine) Detail(ctx context.Context, id int64) (model.ItemDetail, error) {
	cached, ok, err := e.detail.Get(ctx, id)
	if err != nil {
		slog.Warn("engine: detail cache read failed", "id", id, "error", err)
		ok = false
	}
	if ok && !e.detail.ShouldRefresh(ctx, id) {
		return cached, nil
	}
	fresh, err := e.source.Detail(ctx, id)
	if err != nil {
		if ok {
			slog.Warn("engine: serving stale detail", "id", id, "error", err)
			return cached, nil
		}
		return model.ItemDetail{}, fmt.Errorf("engine: detail %d: %w", id, err)
	}
	if err := e.detail.Put(ctx, fresh); err != nil {
		slog.Warn("engine: detail cache write failed", "id", id, "error", err)
	}
	return fresh, nil
}

// CreateItem enters a freshly persisted item into the caches: the detail
// cache, the head of the capped first-page window and, for notices, the
// notice category.
func (e *Engine) CreateItem(ctx context.Context, d model.ItemDetail) error {
	if err := e.detail.Put(ctx, d); err != nil {
		return err
	}
	s := d.Summary()
	if err := e.feed.AddHead(ctx, feed.FirstPage, s, 0); err != nil {
		return err
	}
	if d.Notice {
		if err := e.feed.AddHead(ctx, feed.Notice, s, 0); err != nil {
			return err
		}
	}
	return nil
}

// DeleteItem removes an item everywhere: score entry, detail cache and
// every category cache. Capped windows are backfilled afterwards; the
// remove+backfill pair is two calls, so a reader in between may briefly
// see a short window.
func (e *Engine) DeleteItem(ctx context.Context, id int64) error {
	if err := e.rank.Remove(ctx, id); err != nil {
		slog.Warn("engine: score removal failed", "id", id, "error", err)
	}
	if err := e.detail.Delete(ctx, id); err != nil {
		slog.Warn("engine: detail invalidation failed", "id", id, "error", err)
	}
	for _, cat := range e.reg.Categories() {
		tail, err := e.feed.Remove(ctx, cat, id)
		if err != nil {
			slog.Warn("engine: category removal failed", "category", cat, "id", id, "error", err)
			continue
		}
		e.backfillWindow(ctx, cat, tail)
	}
	return nil
}

// backfillWindow appends the next system-of-record item to a capped window
// after a removal so the window stays saturated without a full rebuild.
func (e *Engine) backfillWindow(ctx context.Context, cat feed.Category, tail int64) {
	d, err := e.reg.Descriptor(cat)
	if err != nil || d.MaxSize <= 0 {
		return
	}
	ids, err := e.source.CategoryIDs(ctx, cat)
	if err != nil {
		slog.Warn("engine: backfill source read failed", "category", cat, "error", err)
		return
	}
	current, err := e.feed.MemberIDs(ctx, cat)
	if err != nil {
		slog.Warn("engine: backfill membership read failed", "category", cat, "error", err)
		return
	}
	if len(current) >= d.MaxSize {
		return
	}
	have := make(map[int64]struct{}, len(current))
	for _, c := range current {
		have[c] = struct{}{}
	}
	for _, candidate := range ids {
		if _, ok := have[candidate]; ok {
			continue
		}
		items, err := e.source.Summaries(ctx, []int64{candidate})
		if err != nil || len(items) == 0 {
			return
		}
		if err := e.feed.Append(ctx, cat, items[0]); err != nil {
			slog.Warn("engine: window backfill failed", "category", cat, "id", candidate, "tail", tail, "error", err)
		}
		return
	}
}

// RunCycle is the scheduled-job entry point: one lock-guarded pass of
// score decay, category rebuilds and counter flush. Lock contention is a
// normal skip, not an error; a failed cycle logs and tries again next time.
func (e *Engine) RunCycle(ctx context.Context) error {
	token, ok, err := e.lock.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("engine: cycle lock: %w", err)
	}
	if !ok {
		slog.Debug("engine: cycle lock held elsewhere, skipping")
		return nil
	}
	defer func() {
		released, err := e.lock.Release(ctx, token)
		if err != nil {
			slog.Warn("engine: cycle lock release failed", "error", err)
		} else if !released {
			slog.Warn("engine: cycle lock expired before release")
		}
	}()

	total, pruned, err := e.rank.DecayAndPrune(ctx, e.factor, e.cutoff)
	if err != nil {
		slog.Error("engine: decay failed", "error", err)
	} else {
		slog.Info("engine: decayed scores", "entries", total, "pruned", pruned)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range e.reg.Categories() {
		cat := cat
		g.Go(func() error {
			items, err := e.rebuildCategory(gctx, cat)
			if err != nil {
				slog.Error("engine: rebuild failed", "category", cat, "error", err)
				return nil // a failed category must not abort the others
			}
			slog.Info("engine: rebuilt category", "category", cat, "items", len(items))
			return nil
		})
	}
	_ = g.Wait()

	e.FlushCounters(ctx)
	return nil
}

// rebuildCategory re-sources one category and atomically replaces its
// cache. Realtime derives its order from the live score ranking; the rest
// come from the system of record.
func (e *Engine) rebuildCategory(ctx context.Context, cat feed.Category) ([]model.ItemSummary, error) {
	d, err := e.reg.Descriptor(cat)
	if err != nil {
		return nil, err
	}
	var ids []int64
	if cat == feed.Realtime {
		ids, err = e.rank.TopN(ctx, e.feedSize)
	} else {
		ids, err = e.source.CategoryIDs(ctx, cat)
	}
	if err != nil {
		return nil, err
	}
	if d.MaxSize > 0 && len(ids) > d.MaxSize {
		ids = ids[:d.MaxSize]
	}
	items, err := e.source.Summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := e.feed.ReplaceList(ctx, cat, items); err != nil {
		return nil, err
	}
	return items, nil
}

// FlushCounters drains the buffered view counters and applies them to
// every cached copy of each item, skipping copies that are no longer
// cached so a deleted item is never resurrected with a partial record.
func (e *Engine) FlushCounters(ctx context.Context) {
	deltas, err := e.counters.DrainAndReset(ctx)
	if err != nil {
		slog.Error("engine: counter drain failed", "error", err)
		return
	}
	if len(deltas) == 0 {
		return
	}
	var applied, skipped int
	for id, n := range deltas {
		hit := false
		if ok, err := e.detail.IncrField(ctx, id, feed.FieldViewCount, n); err != nil {
			slog.Warn("engine: detail counter flush failed", "id", id, "error", err)
		} else if ok {
			hit = true
		}
		for _, cat := range e.reg.Categories() {
			if ok, err := e.feed.IncrField(ctx, cat, id, feed.FieldViewCount, n); err != nil {
				slog.Warn("engine: summary counter flush failed", "category", cat, "id", id, "error", err)
			} else if ok {
				hit = true
			}
		}
		if hit {
			applied++
		} else {
			skipped++
		}
	}
	slog.Info("engine: flushed view counters", "items", len(deltas), "applied", applied, "skipped", skipped)
}
