package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/BimilLog/BimilLog-sub001/internal/engine"
)

// RankingJob runs the scheduled ranking cycle: decay and prune the score
// set, rebuild the category caches and flush counters, all under the
// cluster-wide scheduler lock. Only one instance per cluster does the work
// each cycle; the rest skip.
type RankingJob struct {
	Engine   *engine.Engine
	Interval time.Duration
}

func (w *RankingJob) Start(ctx context.Context) error {
	if w.Interval <= 0 {
		w.Interval = 5 * time.Minute
	}
	t := time.NewTicker(w.Interval)
	defer t.Stop()

	// initial run
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.runOnce(ctx)
		}
	}
}

func (w *RankingJob) runOnce(ctx context.Context) {
	start := time.Now()
	if err := w.Engine.RunCycle(ctx); err != nil {
		slog.Error("ranking job: cycle failed", "error", err)
		return
	}
	slog.Info("ranking job: cycle complete", "took", time.Since(start).String())
}
