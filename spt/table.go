package spt

import "sync"

// Table is one process's supplemental page table: a plain map keyed by
// user page address, protected by a single mutex -- the same per-
// process lock granularity the teacher's Vm_t uses for its page
// directory (Lock_pmap/Unlock_pmap), since the SPT is always consulted
// alongside the page table in the fault path.
type Table struct {
	mu      sync.Mutex
	entries map[uintptr]*Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[uintptr]*Entry)}
}

// Lookup is the keyed operation: find the entry for exactly one vaddr.
// This is the only operation the page fault handler needs, and it is
// why it must not be conflated with the map_id sweep below -- the
// original comparator that did both via a vaddr==NULL sentinel made
// the keyed case's behavior depend on a value (NULL) that a genuine
// vaddr could never take, which is fragile rather than impossible.
func (t *Table) Lookup(vaddr uintptr) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[vaddr]
	return e, ok
}

// Add inserts e, keyed by e.Vaddr. It panics if an entry already
// exists at that address -- callers (mmap, lazy stack growth) are
// expected to have already checked via Lookup.
func (t *Table) Add(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[e.Vaddr]; exists {
		panic("spt: duplicate entry at existing vaddr")
	}
	t.entries[e.Vaddr] = e
}

// Remove deletes the entry at vaddr, if any.
func (t *Table) Remove(vaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, vaddr)
}

// FindByMapID is the iterator-filter operation: every entry belonging
// to one mmap'd region, in ascending vaddr order, for munmap to walk.
// This replaces the original's reuse of the ordering comparator with a
// vaddr==NULL placeholder to mean "match by map_id instead" -- here
// that is simply a second, distinctly-named method with no shared
// sentinel.
func (t *Table) FindByMapID(mapID int) []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Entry
	for _, e := range t.entries {
		if e.Kind == KindMMF && e.MMF.MapID == mapID {
			out = append(out, e)
		}
	}
	sortByVaddr(out)
	return out
}

// Len reports the number of entries currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// All returns every entry in the table, in no particular order. Used
// by process teardown, which must visit every kind of entry (not just
// KindMMF, as FindByMapID does).
func (t *Table) All() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

func sortByVaddr(entries []*Entry) {
	// Insertion sort: munmap'd regions are a handful of pages at most,
	// and this keeps the package free of a sort.Slice import for a
	// dozen-element case.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].Vaddr > entries[j].Vaddr; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}
