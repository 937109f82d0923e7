package vm

import (
	"sync"

	"vmkernel/defs"
	"vmkernel/pagetable"
	"vmkernel/spt"
	"vmkernel/util"
)

// stackFaultSlack is how far below the current stack pointer a fault
// is still considered a stack-growth request rather than a genuine
// segfault -- the x86 PUSHA instruction can fault up to 32 bytes below
// esp before esp itself is adjusted, so a fault there is expected,
// not an error.
const stackFaultSlack = 32

// Space is one process's address space: its hardware page table, its
// supplemental page table, and a reference back to the Kernel that
// owns the shared frame table and swap manager.
type Space struct {
	pt        pagetable.PT
	spt       *spt.Table
	k         *Kernel
	stackBase uintptr

	mapIDMu   sync.Mutex
	nextMapID int
}

// HandlePageFault resolves a fault at vaddr, the direct analogue of
// Pintos's pt_suppl_handle_page_fault / biscuit's Sys_pgfault. esp is
// the faulting thread's stack pointer at fault time, used only to
// decide whether an unmapped fault below the stack base is a growth
// request.
func (s *Space) HandlePageFault(vaddr uintptr, write bool, esp uintptr) defs.Err_t {
	page := util.Rounddown(vaddr, uintptr(defs.PageSize))

	e, ok := s.spt.Lookup(page)
	if !ok {
		if !s.isStackGrowth(vaddr, esp) {
			return defs.EFAULT
		}
		e = &spt.Entry{Vaddr: page, Kind: spt.KindLazy, Loc: spt.LocUnloaded}
		s.spt.Add(e)
	}

	switch e.Loc {
	case spt.LocPresent:
		// Spurious fault (e.g. a second CPU raced us); nothing to do.
		return 0
	case spt.LocSwapped:
		return s.pageInSwapped(e, write)
	case spt.LocUnloaded:
		return s.pageInUnloaded(e, write)
	default:
		defs.Fatal("vm: entry at %#x has unknown Loc %d", page, e.Loc)
		return defs.EFAULT
	}
}

func (s *Space) isStackGrowth(vaddr uintptr, esp uintptr) bool {
	if vaddr > s.stackBase {
		return false
	}
	if s.stackBase-vaddr > defs.MaxStack {
		return false
	}
	return vaddr+stackFaultSlack >= esp || vaddr >= esp
}

func (s *Space) pageInUnloaded(e *spt.Entry, write bool) defs.Err_t {
	if e.Kind == spt.KindMMF && write && !e.MMF.Writable {
		return defs.EFAULT
	}

	pa, pg := s.k.frames.Alloc(pagetable.Owner{PT: s.pt, Upage: e.Vaddr})

	if e.Kind == spt.KindMMF {
		s.k.readMMFThrough(pg, e.MMF)
	}
	// KindNormal and KindLazy pages are zero-filled: mem.Pool.Alloc
	// already zeroes the frame it hands out.

	if !s.pt.Map(e.Vaddr, uintptr(pa), s.writableFor(e)) {
		s.k.frames.Free(pa)
		return defs.ENOMEM
	}
	e.Loc = spt.LocPresent
	e.Pa = pa
	return 0
}

func (s *Space) pageInSwapped(e *spt.Entry, write bool) defs.Err_t {
	pa, pg := s.k.frames.Alloc(pagetable.Owner{PT: s.pt, Upage: e.Vaddr})
	s.k.sw.In(e.SwapSlot, (*[defs.PageSize]byte)(pg))
	if !s.pt.Map(e.Vaddr, uintptr(pa), s.writableFor(e)) {
		s.k.frames.Free(pa)
		return defs.ENOMEM
	}
	e.Loc = spt.LocPresent
	e.Pa = pa
	return 0
}

func (s *Space) writableFor(e *spt.Entry) bool {
	if e.Kind == spt.KindMMF {
		return e.MMF.Writable
	}
	return true
}

// Mmap maps length bytes starting at baseSector on the fs-role device
// into the address space at vaddr, lazily: no frame is allocated and
// no data is read until the first fault. It assigns and returns a
// fresh map_id, scoped to this address space, for munmap to take later
// (spec section 4.4).
//
// Per spec sections 4.4 and 6, it rejects: a non-positive length (no
// file, nothing to map); a zero vaddr (address 0 is never a valid
// mapping target); a misaligned vaddr; and any page of the requested
// range that is already tracked in the SPT or already present in the
// hardware page table.
func (s *Space) Mmap(baseSector uint32, vaddr uintptr, length int64, writable bool) (int, defs.Err_t) {
	if length <= 0 {
		return 0, defs.EINVAL
	}
	if vaddr == 0 {
		return 0, defs.EINVAL
	}
	if vaddr%uintptr(defs.PageSize) != 0 {
		return 0, defs.EINVAL
	}
	npages := (length + int64(defs.PageSize) - 1) / int64(defs.PageSize)
	for i := int64(0); i < npages; i++ {
		pageVaddr := vaddr + uintptr(i*int64(defs.PageSize))
		if _, exists := s.spt.Lookup(pageVaddr); exists {
			return 0, defs.EINVAL
		}
		if s.pt.IsPresent(pageVaddr) {
			return 0, defs.EINVAL
		}
	}

	mapID := s.allocMapID()
	for i := int64(0); i < npages; i++ {
		pageVaddr := vaddr + uintptr(i*int64(defs.PageSize))
		remain := length - i*int64(defs.PageSize)
		validLen := int(util.Min(remain, int64(defs.PageSize)))
		s.spt.Add(&spt.Entry{
			Vaddr: pageVaddr,
			Kind:  spt.KindMMF,
			Loc:   spt.LocUnloaded,
			MMF: spt.MMFInfo{
				MapID:    mapID,
				Sector:   baseSector + uint32(i)*defs.SectorsPerPage,
				Length:   validLen,
				Writable: writable,
			},
		})
	}
	return mapID, 0
}

// allocMapID hands out a fresh, monotonically-increasing map_id,
// scoped to this address space -- every process's mappings are
// numbered independently, matching munmap's per-process map_id
// namespace.
func (s *Space) allocMapID() int {
	s.mapIDMu.Lock()
	defer s.mapIDMu.Unlock()
	s.nextMapID++
	return s.nextMapID
}

// Munmap tears down every page of the mapping identified by mapID:
// present pages are unmapped from the hardware page table (writing
// dirty ones back to the file first), and every SPT entry for the
// mapping is removed. It is idempotent -- munmap of an already-
// unmapped or never-mapped map_id is a no-op.
func (s *Space) Munmap(mapID int) {
	for _, e := range s.spt.FindByMapID(mapID) {
		if e.Loc == spt.LocPresent {
			s.flushIfDirty(e)
			s.pt.Unmap(e.Vaddr)
			owner := pagetable.Owner{PT: s.pt, Upage: e.Vaddr}
			s.k.frames.RemoveOwner(e.Pa, owner)
			s.k.frames.FreeIfOrphaned(e.Pa)
		}
		s.spt.Remove(e.Vaddr)
	}
}

// flushIfDirty writes a present, writable MMF entry's current frame
// contents back through the buffer cache if the hardware dirty bit is
// set.
func (s *Space) flushIfDirty(e *spt.Entry) {
	if e.Kind != spt.KindMMF || !e.MMF.Writable || !s.pt.IsDirty(e.Vaddr) {
		return
	}
	page := s.k.pool.At(e.Pa)
	s.k.writeMMFThrough(page, e.MMF)
}

// Destroy tears down every SPT entry belonging to this space: it frees
// swap slots held by swapped-out anonymous pages and unmaps present
// pages (writing back dirty MMF pages first), since a process exiting
// discards its own anonymous memory outright rather than persisting
// it. Call Kernel.DropSpace afterward to remove the space from the
// kernel's registry.
func (s *Space) Destroy() {
	for _, e := range s.spt.All() {
		switch e.Loc {
		case spt.LocPresent:
			s.flushIfDirty(e)
			s.pt.Unmap(e.Vaddr)
			owner := pagetable.Owner{PT: s.pt, Upage: e.Vaddr}
			s.k.frames.RemoveOwner(e.Pa, owner)
			s.k.frames.FreeIfOrphaned(e.Pa)
		case spt.LocSwapped:
			s.k.sw.Free(e.SwapSlot)
		}
		s.spt.Remove(e.Vaddr)
	}
}
