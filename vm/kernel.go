// Package vm is the VM core (component 6): the orchestration layer
// that wires the frame table, swap manager, supplemental page table,
// and filesystem lock together behind the page-fault handler and the
// mmap/munmap operations, exactly the role biscuit's Vm_t and its
// Sys_pgfault/Vmadd_*/Pgfault methods play -- but driving the abstract
// pagetable.PT contract (spec section 6) instead of raw x86 PTE bits,
// since this module owns no MMU.
package vm

import (
	"sync"

	"github.com/sirupsen/logrus"

	"vmkernel/bc"
	"vmkernel/defs"
	"vmkernel/fslock"
	"vmkernel/frame"
	"vmkernel/mem"
	"vmkernel/pagetable"
	"vmkernel/spt"
	"vmkernel/swap"
	"vmkernel/util"
)

// Kernel owns the process-wide singletons: the frame table, the swap
// manager, and the buffer cache over the fs-role device are global
// resources shared by every process's Space, matching the
// lock-ordering note in spec section 4.2 (frame_table_lock ->
// swap_lock -> fs_lock -> bc_index_lock -> per-BC-entry lock ->
// per-process SPT lock).
type Kernel struct {
	pool   *mem.Pool
	frames *frame.Table
	sw     *swap.Swap
	fsbc   *bc.Cache
	log    *logrus.Entry

	mu     sync.Mutex
	spaces map[pagetable.PT]*Space
}

// NewKernel builds a Kernel over pool (physical frames), sw (swap
// slots), and fsbc (the buffer cache fronting the fs-role device).
// Per spec sections 2 and 4.3, MMF page-in and page-out both go
// through fsbc rather than touching the backing file directly --
// fsbc is the same cache instance cmd/vmctl wires up for ordinary
// filesystem traffic, so the two subsystems actually share sectors
// in the cache instead of racing two independent views of the disk.
func NewKernel(pool *mem.Pool, sw *swap.Swap, fsbc *bc.Cache) *Kernel {
	k := &Kernel{
		pool:   pool,
		sw:     sw,
		fsbc:   fsbc,
		log:    logrus.WithField("component", "vm"),
		spaces: make(map[pagetable.PT]*Space),
	}
	k.frames = frame.NewTable(pool, k.pageOut)
	return k
}

// NewSpace registers a new process address space over pt (its
// hardware page table) with the given stack base -- the highest user
// address the stack is allowed to occupy, used by the lazy
// stack-growth heuristic.
func (k *Kernel) NewSpace(pt pagetable.PT, stackBase uintptr) *Space {
	sp := &Space{
		pt:        pt,
		spt:       spt.New(),
		k:         k,
		stackBase: stackBase,
	}
	k.mu.Lock()
	k.spaces[pt] = sp
	k.mu.Unlock()
	return sp
}

// DropSpace unregisters pt's Space from the kernel's owner-to-space
// registry. Call this only after Space.Destroy has unmapped and freed
// everything the process owned.
func (k *Kernel) DropSpace(pt pagetable.PT) {
	k.mu.Lock()
	delete(k.spaces, pt)
	k.mu.Unlock()
}

func (k *Kernel) spaceFor(pt pagetable.PT) *Space {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.spaces[pt]
}

// pageOut is the frame.PageOutFunc the frame table calls during
// eviction. It consults the first owner's SPT entry to decide whether
// this frame is file-backed (write back through the buffer cache,
// mark UNLOADED -- the content is trivially refetchable) or anonymous
// (write to swap, mark SWAPPED with the slot), then applies that
// outcome to every owner's own SPT entry. Every present page is
// required to have an SPT entry (spec section 4.3 step 2); an owner
// that doesn't yet have one -- a resident page whose frame was handed
// out before anything tracked it -- gets a fresh KindNormal entry
// synthesized here so its contents are swapped out rather than
// silently dropped.
func (k *Kernel) pageOut(page *mem.Page, owners []pagetable.Owner) {
	if len(owners) == 0 {
		return
	}
	type target struct {
		sp *Space
		e  *spt.Entry
	}
	var targets []target
	for _, o := range owners {
		sp := k.spaceFor(o.PT)
		if sp == nil {
			continue
		}
		e, ok := sp.spt.Lookup(o.Upage)
		if !ok {
			e = &spt.Entry{Vaddr: o.Upage, Kind: spt.KindNormal, Loc: spt.LocPresent}
			sp.spt.Add(e)
		}
		targets = append(targets, target{sp, e})
	}
	if len(targets) == 0 {
		return
	}

	if targets[0].e.Kind == spt.KindMMF {
		dirty := false
		for _, o := range owners {
			if o.PT.IsDirty(o.Upage) {
				dirty = true
				break
			}
		}
		mmf := targets[0].e.MMF
		if dirty && mmf.Writable {
			k.writeMMFThrough(page, mmf)
		}
		for _, tg := range targets {
			tg.e.Loc = spt.LocUnloaded
		}
		return
	}

	slot, ok := k.sw.Out((*[defs.PageSize]byte)(page))
	if !ok {
		defs.Fatal("vm: swap device exhausted during eviction")
	}
	for _, tg := range targets {
		tg.e.Loc = spt.LocSwapped
		tg.e.SwapSlot = slot
	}
}

// writeMMFThrough writes page's valid bytes (per mmf.Length) back to
// the fs-role device through the buffer cache -- spec sections 2 and
// 4.3's "write-back via the file's sectors through the BC" -- instead
// of a direct file write. A full SectorsPerPage-sector page writes
// whole sectors; a short final page (the tail of a file whose length
// isn't page-aligned) writes only its valid prefix of the last sector.
func (k *Kernel) writeMMFThrough(page *mem.Page, mmf spt.MMFInfo) {
	fslock.WithLock(func() {
		remaining := mmf.Length
		for i := 0; i < defs.SectorsPerPage && remaining > 0; i++ {
			n := util.Min(remaining, defs.SectorSize)
			start := i * defs.SectorSize
			buf := page[start : start+n]
			if n == defs.SectorSize {
				k.fsbc.Write(mmf.Sector+uint32(i), buf)
			} else {
				k.fsbc.WriteAt(mmf.Sector+uint32(i), 0, buf)
			}
			remaining -= n
		}
	})
}

// readMMFThrough is writeMMFThrough's dual: it loads an MMF page's
// valid bytes from the fs-role device through the buffer cache into
// pg, zero-filling the remainder (mem.Pool hands out zeroed frames, so
// a short final page needs no explicit zeroing beyond not overwriting
// it).
func (k *Kernel) readMMFThrough(pg *mem.Page, mmf spt.MMFInfo) {
	fslock.WithLock(func() {
		remaining := mmf.Length
		for i := 0; i < defs.SectorsPerPage && remaining > 0; i++ {
			n := util.Min(remaining, defs.SectorSize)
			data := k.fsbc.Read(mmf.Sector + uint32(i))
			start := i * defs.SectorSize
			copy(pg[start:start+n], data[:n])
			remaining -= n
		}
	})
}
