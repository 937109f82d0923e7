// Package mem is the physical frame pool underneath the frame table
// (component 4.3). It plays the role biscuit's Physmem_t plays for the
// real kernel -- a fixed arena of pages handed out and reclaimed through
// a free list protected by a single mutex -- but without the hardware
// direct-map/PML4 bootstrapping that only makes sense against real
// physical memory; here a "frame" is simply P bytes of the pool's own
// backing array.
package mem

import (
	"sync"

	"vmkernel/defs"
)

// Page is one physical frame's worth of bytes.
type Page [defs.PageSize]byte

// Pa_t is an opaque handle to a physical frame: an index from 0 to
// Cap()-1, so the zero value is itself a real frame. Pool.Alloc's bool
// return distinguishes success from exhaustion instead of relying on a
// sentinel Pa_t value.
type Pa_t uint32

// Pool is a fixed-size arena of physical frames with a free list, the
// direct analogue of biscuit's Physmem_t.Refpg_new/_phys_put pair
// without the per-CPU free-list sharding (this module has no hardware
// CPU-affinity concept to exploit).
type Pool struct {
	mu    sync.Mutex
	pages []Page
	free  []Pa_t // stack of free frame indices
}

// NewPool allocates a pool of n frames, all initially free.
func NewPool(n int) *Pool {
	p := &Pool{
		pages: make([]Page, n),
		free:  make([]Pa_t, n),
	}
	for i := range p.free {
		p.free[i] = Pa_t(n - 1 - i)
	}
	return p
}

// Cap reports the total number of frames in the pool.
func (p *Pool) Cap() int {
	return len(p.pages)
}

// Alloc removes one frame from the free list and returns it zeroed. ok
// is false iff the pool is exhausted -- the frame table's eviction path
// is the only thing that should ever observe that, since cmd/vmctl
// sizes the pool and swap device so that eviction always has somewhere
// to put the page it displaces.
func (p *Pool) Alloc() (Pa_t, *Page, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return 0, nil, false
	}
	pa := p.free[n-1]
	p.free = p.free[:n-1]
	pg := &p.pages[pa]
	*pg = Page{}
	return pa, pg, true
}

// Free returns a frame to the free list.
func (p *Pool) Free(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(pa) >= len(p.pages) {
		defs.Fatal("mem: free of out-of-range frame %d", pa)
	}
	p.free = append(p.free, pa)
}

// At returns the backing bytes for pa without bounds-checking against
// the free list -- callers (the frame table) only ever hold a Pa_t they
// received from Alloc and have not yet Free'd.
func (p *Pool) At(pa Pa_t) *Page {
	return &p.pages[pa]
}

// Nfree reports the number of frames currently on the free list.
func (p *Pool) Nfree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
