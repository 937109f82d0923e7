package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkernel/bc"
	"vmkernel/blockdev"
	"vmkernel/defs"
	"vmkernel/mem"
	"vmkernel/pagetable"
	"vmkernel/spt"
	"vmkernel/swap"
)

// newTestKernel builds a Kernel over an in-memory swap device and an
// in-memory fs-role device fronted by a real bc.Cache, so MMF tests
// exercise the same buffer-cache path cmd/vmctl wires up in
// production. The cache's daemons are never started: every test drives
// Read/Write/eviction synchronously, so there is nothing for the
// background flush or read-ahead sweep to do.
func newTestKernel(nframes int, swapSectors uint32) *Kernel {
	pool := mem.NewPool(nframes)
	swapDev := blockdev.NewMemDevice(0, swapSectors)
	sw := swap.New(swapDev)
	fsDev := blockdev.NewMemDevice(defs.SectorsPerPage*8, 0)
	fsCache := bc.NewCache(fsDev, blockdev.RoleFS, 8, 4)
	return NewKernel(pool, sw, fsCache)
}

func TestLazyStackGrowthZeroFills(t *testing.T) {
	k := newTestKernel(4, defs.SectorsPerPage*4)
	pt := pagetable.NewFakePT()
	stackBase := uintptr(0x8048000)
	sp := k.NewSpace(pt, stackBase)

	faultAddr := stackBase - uintptr(defs.PageSize)
	err := sp.HandlePageFault(faultAddr, true, faultAddr)
	require.Equal(t, defs.Err_t(0), err)
	require.True(t, pt.IsPresent(faultAddr))

	pa, ok := pt.Kpage(faultAddr)
	require.True(t, ok)
	require.Equal(t, mem.Page{}, *k.pool.At(mem.Pa_t(pa)))
}

func TestFaultFarBelowStackIsRejected(t *testing.T) {
	k := newTestKernel(4, defs.SectorsPerPage*4)
	pt := pagetable.NewFakePT()
	stackBase := uintptr(0x8048000)
	sp := k.NewSpace(pt, stackBase)

	esp := stackBase
	err := sp.HandlePageFault(0x1000, true, esp)
	require.Equal(t, defs.EFAULT, err)
}

func TestEvictionSwapsOutAnonymousPageAndFaultBringsItBack(t *testing.T) {
	k := newTestKernel(1, defs.SectorsPerPage*4)
	pt := pagetable.NewFakePT()
	stackBase := uintptr(0x8048000)
	sp := k.NewSpace(pt, stackBase)

	page1 := stackBase - uintptr(defs.PageSize)
	page2 := stackBase - 2*uintptr(defs.PageSize)

	require.Equal(t, defs.Err_t(0), sp.HandlePageFault(page1, true, page1))
	pt.Touch(page1)
	pt.MarkDirty(page1)

	// Only one physical frame exists; faulting page2 must evict page1.
	require.Equal(t, defs.Err_t(0), sp.HandlePageFault(page2, true, page2))
	require.False(t, pt.IsPresent(page1))
	require.True(t, pt.IsPresent(page2))

	e1, ok := sp.spt.Lookup(page1)
	require.True(t, ok)
	require.Equal(t, spt.LocSwapped, e1.Loc)

	// Faulting page1 again must bring it back from swap.
	require.Equal(t, defs.Err_t(0), sp.HandlePageFault(page1, false, page1))
	require.True(t, pt.IsPresent(page1))
}

func TestMmapIsLazyAndFaultLoadsFileContentThroughBC(t *testing.T) {
	k := newTestKernel(4, defs.SectorsPerPage*4)
	pt := pagetable.NewFakePT()
	sp := k.NewSpace(pt, 0x8048000)

	var sector0 [defs.SectorSize]byte
	copy(sector0[:], []byte("hello mmap"))
	k.fsbc.Write(0, sector0[:])

	vaddr := uintptr(0x10000000)
	mapID, err := sp.Mmap(0, vaddr, defs.PageSize, true)
	require.Equal(t, defs.Err_t(0), err)
	require.NotZero(t, mapID)
	require.False(t, pt.IsPresent(vaddr))

	require.Equal(t, defs.Err_t(0), sp.HandlePageFault(vaddr, false, 0))
	require.True(t, pt.IsPresent(vaddr))

	pa, ok := pt.Kpage(vaddr)
	require.True(t, ok)
	pg := k.pool.At(mem.Pa_t(pa))
	require.Equal(t, []byte("hello mmap"), pg[:10])
}

func TestMunmapFlushesDirtyPageThroughBCAndIsIdempotent(t *testing.T) {
	k := newTestKernel(4, defs.SectorsPerPage*4)
	pt := pagetable.NewFakePT()
	sp := k.NewSpace(pt, 0x8048000)

	vaddr := uintptr(0x10000000)
	mapID, err := sp.Mmap(0, vaddr, defs.PageSize, true)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Err_t(0), sp.HandlePageFault(vaddr, true, 0))

	pa, ok := pt.Kpage(vaddr)
	require.True(t, ok)
	pg := k.pool.At(mem.Pa_t(pa))
	copy(pg[:4], []byte("oink"))
	pt.MarkDirty(vaddr)

	sp.Munmap(mapID)
	require.False(t, pt.IsPresent(vaddr))

	got := k.fsbc.Read(0)
	require.Equal(t, []byte("oink"), got[:4])

	require.NotPanics(t, func() { sp.Munmap(mapID) })
}

func TestMmapRejectsInvalidArguments(t *testing.T) {
	k := newTestKernel(4, defs.SectorsPerPage*4)
	pt := pagetable.NewFakePT()
	sp := k.NewSpace(pt, 0x8048000)

	_, err := sp.Mmap(0, 0x10000000, 0, true)
	require.Equal(t, defs.EINVAL, err, "non-positive length must be rejected")

	_, err = sp.Mmap(0, 0, defs.PageSize, true)
	require.Equal(t, defs.EINVAL, err, "a zero vaddr must be rejected")

	vaddr := uintptr(0x10000000)
	mapID, err := sp.Mmap(0, vaddr, defs.PageSize, true)
	require.Equal(t, defs.Err_t(0), err)
	require.NotZero(t, mapID)

	_, err = sp.Mmap(defs.SectorsPerPage, vaddr, defs.PageSize, true)
	require.Equal(t, defs.EINVAL, err, "a vaddr already tracked in the SPT must be rejected")
}

func TestDestroyFreesSwapSlots(t *testing.T) {
	k := newTestKernel(1, defs.SectorsPerPage*2)
	pt := pagetable.NewFakePT()
	sp := k.NewSpace(pt, 0x8048000)

	page1 := uintptr(0x8047000)
	page2 := uintptr(0x8046000)
	require.Equal(t, defs.Err_t(0), sp.HandlePageFault(page1, true, page1))
	require.Equal(t, defs.Err_t(0), sp.HandlePageFault(page2, true, page2)) // evicts page1 to swap

	sp.Destroy()
	require.Equal(t, 0, sp.spt.Len())
}
