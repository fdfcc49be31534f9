package worker

import (
	"context"
	"time"

	"github.com/BimilLog/BimilLog-sub001/internal/engine"
)

// CounterFlush periodically drains the buffered view counters into the
// cached summaries and details. The drain is one atomic scripted step, so
// running this on every instance is safe: whichever drains first gets the
// deltas, the others see an empty buffer.
type CounterFlush struct {
	Engine   *engine.Engine
	Interval time.Duration
}

func (w *CounterFlush) Start(ctx context.Context) error {
	if w.Interval <= 0 {
		w.Interval = 60 * time.Second
	}
	t := time.NewTicker(w.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.Engine.FlushCounters(ctx)
		}
	}
}
