package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BimilLog/BimilLog-sub001/internal/feed"
	"github.com/BimilLog/BimilLog-sub001/internal/model"
)

// ErrNotFound reports an id unknown to the system of record.
var ErrNotFound = fmt.Errorf("source: item not found")

// Reader is the system-of-record boundary. The engine treats it as ground
// truth when rebuilding caches on miss or during the scheduled refresh.
type Reader interface {
	// CategoryIDs returns the category's item ids in presentation order.
	CategoryIDs(ctx context.Context, cat feed.Category) ([]int64, error)
	// Summaries returns summary records for ids, in the same order,
	// skipping unknown ids.
	Summaries(ctx context.Context, ids []int64) ([]model.ItemSummary, error)
	// Detail returns the full record for one item.
	Detail(ctx context.Context, id int64) (model.ItemDetail, error)
}

// Memory is an in-process Reader used by tests and the demo serve command.
// The real deployment wires the persistence layer's query client here.
type Memory struct {
	mu      sync.RWMutex
	details map[int64]model.ItemDetail
	byCat   map[feed.Category][]int64
}

var _ Reader = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		details: make(map[int64]model.ItemDetail),
		byCat:   make(map[feed.Category][]int64),
	}
}

// PutDetail stores or replaces one record.
func (m *Memory) PutDetail(d model.ItemDetail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[d.ID] = d
}

// SetCategory assigns the category's id list, in presentation order.
func (m *Memory) SetCategory(cat feed.Category, ids []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCat[cat] = append([]int64(nil), ids...)
}

// Delete removes one record and its category assignments.
func (m *Memory) Delete(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.details, id)
	for cat, ids := range m.byCat {
		kept := ids[:0]
		for _, v := range ids {
			if v != id {
				kept = append(kept, v)
			}
		}
		m.byCat[cat] = kept
	}
}

func (m *Memory) CategoryIDs(_ context.Context, cat feed.Category) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.byCat[cat]...), nil
}

func (m *Memory) Summaries(_ context.Context, ids []int64) ([]model.ItemSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ItemSummary, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.details[id]; ok {
			out = append(out, d.Summary())
		}
	}
	return out, nil
}

func (m *Memory) Detail(_ context.Context, id int64) (model.ItemDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.details[id]
	if !ok {
		return model.ItemDetail{}, ErrNotFound
	}
	return d, nil
}

// IDs lists every known id in ascending order, for diagnostics.
func (m *Memory) IDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.details))
	for id := range m.details {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
