package rank

import (
	"context"
	"sync"
)

// Fallback is the process-local degraded-mode score store used while the
// remote store is judged unavailable. It accumulates deltas and removals so
// they can be replayed additively once the circuit closes again.
type Fallback struct {
	mu      sync.Mutex
	deltas  map[int64]float64
	removed map[int64]struct{}
}

var _ Store = (*Fallback)(nil)

func NewFallback() *Fallback {
	return &Fallback{
		deltas:  make(map[int64]float64),
		removed: make(map[int64]struct{}),
	}
}

// Increment accumulates a pending delta. An increment after a buffered
// removal re-creates the entry, matching sorted-set semantics.
func (f *Fallback) Increment(_ context.Context, id int64, delta float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.removed, id)
	f.deltas[id] += delta
	return nil
}

// Remove buffers a deletion to re-apply on recovery and drops any pending
// delta for the item.
func (f *Fallback) Remove(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.deltas, id)
	f.removed[id] = struct{}{}
	return nil
}

// TopN returns an empty result: local deltas are outage-window fragments,
// not a ranking, so degraded reads see an empty feed rather than a wrong one.
func (f *Fallback) TopN(_ context.Context, _ int64) ([]int64, error) {
	return nil, nil
}

// Drain returns the buffered deltas and removals and clears the store, so
// each outage window is merged back exactly once.
func (f *Fallback) Drain() (map[int64]float64, []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deltas) == 0 && len(f.removed) == 0 {
		return nil, nil
	}
	deltas := f.deltas
	f.deltas = make(map[int64]float64)
	removals := make([]int64, 0, len(f.removed))
	for id := range f.removed {
		removals = append(removals, id)
	}
	f.removed = make(map[int64]struct{})
	return deltas, removals
}

// Len reports how many items currently hold buffered deltas or removals.
func (f *Fallback) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deltas) + len(f.removed)
}
