// Package frame is the frame table (component 4.3, spec section 3): the
// physical-frame allocator sitting above mem.Pool, tracking every
// owner (process page table, user address) of each frame and running
// a global second-chance clock across all owners' hardware accessed
// bits when the pool is exhausted. It is grounded on Pintos's
// frame.c (the hash-keyed frame table and its evict_and_get_frame
// clock) and on UltraSQL's Clock.go for the two-pass second-chance
// shape (spec section 4.3: "at most two full passes suffice").
package frame

import (
	"sync"

	"github.com/sirupsen/logrus"

	"vmkernel/mem"
	"vmkernel/pagetable"
)

// maxEvictPasses bounds the clock sweep. One pass clears every
// recently-accessed frame's accessed bit (across all its owners); a
// second pass is guaranteed to find a victim, since nothing can set an
// accessed bit back within the single allocation that's blocking on
// this call.
const maxEvictPasses = 2

// PageOutFunc persists an evicted frame's contents before the frame is
// handed to a new owner. What "persist" means -- write to a swap slot,
// flush to the backing file via bc, or simply drop the frame if it
// turns out to be clean and backed by a still-valid file page -- is a
// decision only the supplemental page table can make (it is the only
// thing that knows whether a frame is anonymous, MMF-backed, or
// stack); the frame table just runs the clock and calls this hook with
// the soon-to-be-reused bytes and the full owner set.
type PageOutFunc func(page *mem.Page, owners []pagetable.Owner)

// Table is the physical frame allocator and its owner-tracking clock.
type Table struct {
	mu      sync.Mutex
	pool    *mem.Pool
	owners  [][]pagetable.Owner // indexed by mem.Pa_t
	inUse   []bool
	hand    int
	pageOut PageOutFunc
	log     *logrus.Entry
}

// NewTable builds a frame table over pool. pageOut is called
// synchronously during eviction; see PageOutFunc.
func NewTable(pool *mem.Pool, pageOut PageOutFunc) *Table {
	return &Table{
		pool:    pool,
		owners:  make([][]pagetable.Owner, pool.Cap()),
		inUse:   make([]bool, pool.Cap()),
		pageOut: pageOut,
		log:     logrus.WithField("component", "frame"),
	}
}

// Alloc hands out a frame for owner, evicting a victim via the clock
// if the pool is exhausted. The returned page is zeroed.
func (t *Table) Alloc(owner pagetable.Owner) (mem.Pa_t, *mem.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pa, page, ok := t.pool.Alloc()
	if !ok {
		t.evictLocked()
		var freshOK bool
		pa, page, freshOK = t.pool.Alloc()
		if !freshOK {
			panic("frame: pool did not yield a frame immediately after eviction")
		}
	}
	t.owners[pa] = []pagetable.Owner{owner}
	t.inUse[pa] = true
	return pa, page
}

// AddOwner records an additional (process, upage) mapping onto an
// already-allocated frame, for shared mappings of the same MMF page
// across processes.
func (t *Table) AddOwner(pa mem.Pa_t, owner pagetable.Owner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owners[pa] = append(t.owners[pa], owner)
}

// RemoveOwner drops one owner from pa's owner set, for the munmap/
// unmap path. It does not free the frame even if the owner set becomes
// empty -- the caller decides whether the frame still holds live data
// worth keeping around (e.g. waiting for a future fault) by calling
// Free explicitly.
func (t *Table) RemoveOwner(pa mem.Pa_t, owner pagetable.Owner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owners := t.owners[pa]
	for i, o := range owners {
		if o == owner {
			t.owners[pa] = append(owners[:i], owners[i+1:]...)
			return
		}
	}
}

// Free returns pa to the underlying pool unconditionally. Callers must
// have already unmapped every owner and persisted any data worth
// keeping; Free does not consult pageOut.
func (t *Table) Free(pa mem.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owners[pa] = nil
	t.inUse[pa] = false
	t.pool.Free(pa)
}

// FreeIfOrphaned frees pa iff it currently has no owners, for the
// unmap path: a privately-mapped page frees its frame immediately,
// while a frame shared by a still-live mapping elsewhere must survive
// until every owner has gone through RemoveOwner. It reports whether
// the frame was freed.
func (t *Table) FreeIfOrphaned(pa mem.Pa_t) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.owners[pa]) > 0 {
		return false
	}
	t.inUse[pa] = false
	t.pool.Free(pa)
	return true
}

// Owners returns a copy of pa's current owner set.
func (t *Table) Owners(pa mem.Pa_t) []pagetable.Owner {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]pagetable.Owner, len(t.owners[pa]))
	copy(out, t.owners[pa])
	return out
}

// evictLocked runs the global clock over every in-use frame, checking
// the hardware accessed bit across all of a frame's owners. Caller
// holds t.mu.
func (t *Table) evictLocked() mem.Pa_t {
	n := len(t.inUse)
	for pass := 0; pass < maxEvictPasses; pass++ {
		for i := 0; i < n; i++ {
			pa := mem.Pa_t((t.hand + i) % n)
			if !t.inUse[pa] {
				continue
			}
			owners := t.owners[pa]
			if len(owners) == 0 {
				// Orphaned frame (every owner unmapped without an
				// explicit Free) -- reclaim it immediately.
				t.hand = (int(pa) + 1) % n
				t.inUse[pa] = false
				t.pool.Free(pa)
				return pa
			}
			if anyAccessed(owners) {
				clearAccessed(owners)
				continue
			}
			// Victim found.
			page := t.pool.At(pa)
			t.pageOut(page, owners)
			for _, o := range owners {
				o.PT.Unmap(o.Upage)
			}
			t.owners[pa] = nil
			t.inUse[pa] = false
			t.hand = (int(pa) + 1) % n
			t.pool.Free(pa)
			return pa
		}
	}
	panic("frame: no evictable frame after two clock passes")
}

func anyAccessed(owners []pagetable.Owner) bool {
	for _, o := range owners {
		if o.PT.IsAccessed(o.Upage) {
			return true
		}
	}
	return false
}

func clearAccessed(owners []pagetable.Owner) {
	for _, o := range owners {
		o.PT.SetAccessed(o.Upage, false)
	}
}
