package cmd

import (
	"fmt"
	"time"

	"github.com/BimilLog/BimilLog-sub001/internal/config"
	"github.com/BimilLog/BimilLog-sub001/internal/counter"
	"github.com/BimilLog/BimilLog-sub001/internal/dedupe"
	"github.com/BimilLog/BimilLog-sub001/internal/detail"
	"github.com/BimilLog/BimilLog-sub001/internal/engine"
	"github.com/BimilLog/BimilLog-sub001/internal/feed"
	"github.com/BimilLog/BimilLog-sub001/internal/rank"
	"github.com/BimilLog/BimilLog-sub001/internal/redisclient"
	"github.com/BimilLog/BimilLog-sub001/internal/sched"
	"github.com/BimilLog/BimilLog-sub001/internal/source"

	"github.com/redis/go-redis/v9"
)

// durations collects the parsed duration settings the engine needs.
type durations struct {
	cycle   time.Duration
	lockTTL time.Duration
	counter time.Duration
}

// buildEngine wires the full engine from configuration. src is the
// system-of-record adapter; commands without a real persistence client
// pass an empty in-memory reader.
func buildEngine(cfg config.Config, src source.Reader) (*engine.Engine, *redis.Client, durations, error) {
	var d durations
	var err error
	if d.cycle, err = time.ParseDuration(cfg.Ranking.CycleInterval); err != nil {
		return nil, nil, d, fmt.Errorf("invalid ranking.cycle_interval: %w", err)
	}
	if d.lockTTL, err = time.ParseDuration(cfg.Ranking.LockTTL); err != nil {
		return nil, nil, d, fmt.Errorf("invalid ranking.lock_ttl: %w", err)
	}
	if d.counter, err = time.ParseDuration(cfg.Cache.CounterInterval); err != nil {
		return nil, nil, d, fmt.Errorf("invalid cache.counter_interval: %w", err)
	}
	detailTTL, err := time.ParseDuration(cfg.Cache.DetailTTL)
	if err != nil {
		return nil, nil, d, fmt.Errorf("invalid cache.detail_ttl: %w", err)
	}
	refreshGap, err := time.ParseDuration(cfg.Cache.RefreshGap)
	if err != nil {
		return nil, nil, d, fmt.Errorf("invalid cache.refresh_gap: %w", err)
	}
	listTTL, err := time.ParseDuration(cfg.Cache.ListTTL)
	if err != nil {
		return nil, nil, d, fmt.Errorf("invalid cache.list_ttl: %w", err)
	}
	dedupeWindow, err := time.ParseDuration(cfg.Cache.DedupeWindow)
	if err != nil {
		return nil, nil, d, fmt.Errorf("invalid cache.dedupe_window: %w", err)
	}
	cooldown, err := time.ParseDuration(cfg.Breaker.Cooldown)
	if err != nil {
		return nil, nil, d, fmt.Errorf("invalid breaker.cooldown: %w", err)
	}

	rdb := redisclient.New(cfg.Redis)
	reg := feed.NewRegistry(listTTL, cfg.Cache.FirstPageSize)

	breaker := rank.NewBreaker(rank.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinSamples:       cfg.Breaker.MinSamples,
		Cooldown:         cooldown,
	})
	rankEngine := rank.NewEngine(rank.NewRedisStore(rdb), rank.NewFallback(), breaker, cfg.Breaker.ReplayBatchSize)

	eng := engine.New(engine.Options{
		Rank:     rankEngine,
		Feed:     feed.NewCache(rdb, reg),
		Registry: reg,
		Detail:   detail.NewCache(rdb, detailTTL, refreshGap),
		Counters: counter.NewBuffer(rdb),
		Dedupe:   dedupe.NewMarker(rdb, dedupeWindow),
		Lock:     sched.NewLock(rdb, d.lockTTL),
		Source:   src,
		Points: engine.Points{
			View:    cfg.Ranking.ViewPoints,
			Like:    cfg.Ranking.LikePoints,
			Comment: cfg.Ranking.CommentPoints,
		},
		DecayFactor:    cfg.Ranking.DecayFactor,
		PruneThreshold: cfg.Ranking.PruneThreshold,
		FeedSize:       cfg.Cache.FirstPageSize,
	})
	return eng, rdb, d, nil
}
