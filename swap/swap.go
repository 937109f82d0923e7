// Package swap is the swap slot allocator (component 1, spec section
// 4.2): a bitmap over a swap-role blockdev.Device, one bit per
// defs.SectorsPerPage sectors, handed out and freed under a single
// mutex. It is a direct port of Pintos's swap.c to a slice-of-bool
// bitmap instead of a packed bitmap library, since nothing else in
// this module needs a general-purpose bitmap type.
package swap

import (
	"sync"

	"vmkernel/blockdev"
	"vmkernel/defs"
)

// Slot_t identifies one swap slot -- one page's worth of swap space.
type Slot_t uint32

// NoSlot is returned alongside ok == false from Out to signal "no slot
// allocated"; it is never a valid Slot_t.
const NoSlot Slot_t = ^Slot_t(0)

// Swap is the slot allocator for one swap-role device.
type Swap struct {
	mu     sync.Mutex
	dev    blockdev.Device
	nslots uint32
	used   []bool
}

// New builds a Swap over dev, sized to dev's reported sector count.
func New(dev blockdev.Device) *Swap {
	sectors := dev.Size(blockdev.RoleSwap)
	nslots := sectors / defs.SectorsPerPage
	return &Swap{
		dev:    dev,
		nslots: nslots,
		used:   make([]bool, nslots),
	}
}

// Nslots reports the total number of swap slots.
func (s *Swap) Nslots() uint32 {
	return s.nslots
}

// Out writes page to a free slot and returns that slot, marking it
// used. ok is false if the swap device is full -- the frame table's
// eviction path (the only caller) treats that as fatal, since there is
// nowhere left to put the evicted page.
func (s *Swap) Out(page *[defs.PageSize]byte) (Slot_t, bool) {
	s.mu.Lock()
	slot := Slot_t(NoSlot)
	for i, inUse := range s.used {
		if !inUse {
			slot = Slot_t(i)
			s.used[i] = true
			break
		}
	}
	s.mu.Unlock()
	if slot == NoSlot {
		return NoSlot, false
	}

	base := uint32(slot) * defs.SectorsPerPage
	buf := make([]byte, defs.SectorSize)
	for i := uint32(0); i < defs.SectorsPerPage; i++ {
		copy(buf, page[i*defs.SectorSize:(i+1)*defs.SectorSize])
		s.dev.Write(blockdev.RoleSwap, base+i, buf)
	}
	return slot, true
}

// In reads slot's contents into page and frees the slot. Reading an
// unallocated slot is a programmer error and panics, since it can only
// happen if a caller retained a Slot_t past a Free.
func (s *Swap) In(slot Slot_t, page *[defs.PageSize]byte) {
	s.mu.Lock()
	if uint32(slot) >= s.nslots || !s.used[slot] {
		s.mu.Unlock()
		defs.Fatal("swap: read of unallocated slot %d", slot)
	}
	s.mu.Unlock()

	base := uint32(slot) * defs.SectorsPerPage
	buf := make([]byte, defs.SectorSize)
	for i := uint32(0); i < defs.SectorsPerPage; i++ {
		s.dev.Read(blockdev.RoleSwap, base+i, buf)
		copy(page[i*defs.SectorSize:(i+1)*defs.SectorSize], buf)
	}

	s.Free(slot)
}

// Free releases slot without reading it back, for the case where the
// page it held is being discarded outright (process teardown).
func (s *Swap) Free(slot Slot_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint32(slot) >= s.nslots {
		defs.Fatal("swap: free of out-of-range slot %d", slot)
	}
	s.used[slot] = false
}
