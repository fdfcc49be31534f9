package feed

import (
	"fmt"
	"time"
)

// Category is a named popularity bucket with its own cache keys, ordering
// and TTL policy.
type Category string

const (
	Realtime  Category = "realtime"
	Weekly    Category = "weekly"
	Legend    Category = "legend"
	Notice    Category = "notice"
	FirstPage Category = "firstpage"
)

// Kind selects the Tier-1 cache shape for a category.
type Kind int

const (
	// KindHash stores summaries in a hash keyed by item id; presentation
	// order comes from the membership sorted set.
	KindHash Kind = iota
	// KindList stores JSON summaries in an ordered list; the list order is
	// the presentation order.
	KindList
)

// Ordering describes how membership scores are read back.
type Ordering int

const (
	// OrderRank reads membership ascending: scores are presentation ranks
	// assigned at rebuild time.
	OrderRank Ordering = iota
	// OrderRecency reads membership descending: scores are insertion
	// sequence numbers, newest first.
	OrderRecency
)

// Descriptor is the per-category capability record. All category-specific
// behavior is driven by this data; there is a single code path per operation.
type Descriptor struct {
	Name     Category
	Kind     Kind
	Ordering Ordering
	TTL      time.Duration // 0 means durable
	MaxSize  int           // 0 means uncapped
}

// ListKey is the Tier-1 cache key (hash or list depending on Kind).
func (d Descriptor) ListKey() string { return "feed:list:" + string(d.Name) }

// MemberKey is the durable membership sorted-set key.
func (d Descriptor) MemberKey() string { return "feed:ids:" + string(d.Name) }

// Registry resolves categories to descriptors. Built once at startup;
// lookups of unknown categories are a configuration error.
type Registry struct {
	byName map[Category]Descriptor
	order  []Category
}

// NewRegistry builds the default category table. listTTL applies to the
// rebuilt weekly/legend caches; firstPageSize caps the first-page window.
func NewRegistry(listTTL time.Duration, firstPageSize int) *Registry {
	descs := []Descriptor{
		{Name: Realtime, Kind: KindHash, Ordering: OrderRank},
		{Name: Weekly, Kind: KindList, Ordering: OrderRank, TTL: listTTL},
		{Name: Legend, Kind: KindList, Ordering: OrderRank, TTL: listTTL},
		{Name: Notice, Kind: KindHash, Ordering: OrderRecency},
		{Name: FirstPage, Kind: KindList, Ordering: OrderRecency, MaxSize: firstPageSize},
	}
	r := &Registry{byName: make(map[Category]Descriptor, len(descs))}
	for _, d := range descs {
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r
}

// Descriptor returns the descriptor for cat or an error for unknown
// categories. Callers resolve descriptors at startup so a typo fails fast
// rather than at request time.
func (r *Registry) Descriptor(cat Category) (Descriptor, error) {
	d, ok := r.byName[cat]
	if !ok {
		return Descriptor{}, fmt.Errorf("feed: unknown category %q", cat)
	}
	return d, nil
}

// Categories returns all registered categories in declaration order.
func (r *Registry) Categories() []Category {
	out := make([]Category, len(r.order))
	copy(out, r.order)
	return out
}
