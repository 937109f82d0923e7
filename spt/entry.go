// Package spt is the supplemental page table (component 5, spec
// section 4.5): per-process bookkeeping for every user page that is
// not a plain always-resident mapping -- anonymous pages that may be
// swapped, memory-mapped file pages, and pages the stack-growth path
// creates lazily on first fault. It is grounded on Pintos's page.c/
// page.h state machine, adapted onto the teacher's hashtable.go
// bucket-chain idiom and, per spec section 9's design note, split so
// that keyed lookup and the map_id sweep used by munmap are two
// distinct operations instead of one comparator overloaded with
// sentinel semantics.
package spt

import (
	"vmkernel/mem"
	"vmkernel/swap"
)

// Kind classifies how a page's content is (re)produced.
type Kind int

const (
	// KindNormal pages are plain anonymous memory: swapped out and
	// back in verbatim, with no backing file.
	KindNormal Kind = iota
	// KindMMF pages are backed by a memory-mapped file region; paging
	// them out means writing back to that file (if dirty) rather than
	// to swap.
	KindMMF
	// KindLazy pages are not yet backed by anything -- the stack-growth
	// path creates them, and the first fault on one allocates a zeroed
	// frame. They carry no file information and are never loaded from
	// an executable segment; once evicted they go to swap.
	KindLazy
)

// Loc tracks where a page's content currently lives.
type Loc int

const (
	LocUnloaded Loc = iota // no frame assigned yet
	LocPresent             // resident in a frame, mapped
	LocSwapped             // evicted to a swap slot
)

// MMFInfo is the extra bookkeeping a KindMMF entry carries: which
// mapped region it belongs to (MapID, used by the munmap sweep) and
// where in the backing file this page's bytes live. Per spec sections
// 2 and 4.3, an MMF page's content lives on the fs-role block device,
// addressed by sector rather than by a file handle, so that page-in
// and write-back both go through the buffer cache instead of a direct
// file read/write.
type MMFInfo struct {
	MapID int
	// Sector is the first of defs.SectorsPerPage consecutive sectors
	// on the fs-role device backing this page.
	Sector   uint32
	Length   int // bytes valid from the start of the page; the remainder is zero-filled
	Writable bool
}

// Entry is one supplemental page table row.
type Entry struct {
	Vaddr uintptr
	Kind  Kind
	Loc   Loc

	// SwapSlot is valid iff Loc == LocSwapped.
	SwapSlot swap.Slot_t

	// Pa is the physical frame backing this page, valid iff
	// Loc == LocPresent.
	Pa mem.Pa_t

	// MMF is valid iff Kind == KindMMF.
	MMF MMFInfo
}
