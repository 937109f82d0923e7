package spt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupMiss(t *testing.T) {
	tbl := New()
	_, ok := tbl.Lookup(0x1000)
	require.False(t, ok)
}

func TestAddThenLookup(t *testing.T) {
	tbl := New()
	tbl.Add(&Entry{Vaddr: 0x2000, Kind: KindLazy, Loc: LocUnloaded})

	e, ok := tbl.Lookup(0x2000)
	require.True(t, ok)
	require.Equal(t, KindLazy, e.Kind)
}

func TestAddDuplicatePanics(t *testing.T) {
	tbl := New()
	tbl.Add(&Entry{Vaddr: 0x3000})
	require.Panics(t, func() {
		tbl.Add(&Entry{Vaddr: 0x3000})
	})
}

func TestFindByMapIDReturnsOnlyMatchingSortedByVaddr(t *testing.T) {
	tbl := New()
	tbl.Add(&Entry{Vaddr: 0x3000, Kind: KindMMF, MMF: MMFInfo{MapID: 1}})
	tbl.Add(&Entry{Vaddr: 0x1000, Kind: KindMMF, MMF: MMFInfo{MapID: 1}})
	tbl.Add(&Entry{Vaddr: 0x2000, Kind: KindMMF, MMF: MMFInfo{MapID: 2}})
	tbl.Add(&Entry{Vaddr: 0x4000, Kind: KindNormal})

	got := tbl.FindByMapID(1)
	require.Len(t, got, 2)
	require.Equal(t, uintptr(0x1000), got[0].Vaddr)
	require.Equal(t, uintptr(0x3000), got[1].Vaddr)
}

func TestRemoveThenLookupMisses(t *testing.T) {
	tbl := New()
	tbl.Add(&Entry{Vaddr: 0x5000})
	tbl.Remove(0x5000)
	_, ok := tbl.Lookup(0x5000)
	require.False(t, ok)
}

func TestMunmapIsIdempotent(t *testing.T) {
	tbl := New()
	tbl.Add(&Entry{Vaddr: 0x1000, Kind: KindMMF, MMF: MMFInfo{MapID: 7}})

	for _, e := range tbl.FindByMapID(7) {
		tbl.Remove(e.Vaddr)
	}
	require.Empty(t, tbl.FindByMapID(7))

	// A second munmap of the same map_id finds nothing and must not
	// panic or otherwise misbehave.
	require.NotPanics(t, func() {
		for _, e := range tbl.FindByMapID(7) {
			tbl.Remove(e.Vaddr)
		}
	})
}
