package chain

import "sync"

// DedupSet is a bounded, single-writer set of recently observed event
// ids. Each concrete adapter owns exactly one instance.
type DedupSet struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string
	ceiling int
}

// DefaultDedupCeiling is the default eviction ceiling, on the order of
// 10^4 entries
const DefaultDedupCeiling = 10_000

// NewDedupSet constructs a DedupSet with the given eviction ceiling. A
// ceiling <= 0 uses DefaultDedupCeiling.
func NewDedupSet(ceiling int) *DedupSet {
	if ceiling <= 0 {
		ceiling = DefaultDedupCeiling
	}
	return &DedupSet{
		seen:    make(map[string]struct{}, ceiling),
		ceiling: ceiling,
	}
}

// SeenOrAdd reports whether id was already present, and if not, adds it,
// evicting the oldest entry first if the set is at its ceiling.
func (d *DedupSet) SeenOrAdd(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if len(d.order) >= d.ceiling {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}

	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}
