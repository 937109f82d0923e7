package swap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkernel/blockdev"
	"vmkernel/defs"
)

func page(b byte) *[defs.PageSize]byte {
	var p [defs.PageSize]byte
	for i := range p {
		p[i] = b
	}
	return &p
}

func TestOutInRoundTrip(t *testing.T) {
	dev := blockdev.NewMemDevice(0, defs.SectorsPerPage*4)
	s := New(dev)

	slot, ok := s.Out(page(0xAB))
	require.True(t, ok)

	var got [defs.PageSize]byte
	s.In(slot, &got)
	require.Equal(t, *page(0xAB), got)
}

func TestInFreesSlotForReuse(t *testing.T) {
	dev := blockdev.NewMemDevice(0, defs.SectorsPerPage*1)
	s := New(dev)

	slot, ok := s.Out(page(1))
	require.True(t, ok)
	var got [defs.PageSize]byte
	s.In(slot, &got)

	slot2, ok := s.Out(page(2))
	require.True(t, ok)
	require.Equal(t, slot, slot2, "the only slot must be reused once freed")
}

func TestOutFailsWhenFull(t *testing.T) {
	dev := blockdev.NewMemDevice(0, defs.SectorsPerPage*1)
	s := New(dev)

	_, ok := s.Out(page(1))
	require.True(t, ok)

	_, ok = s.Out(page(2))
	require.False(t, ok, "second Out must fail: swap device holds only one slot")
}

func TestFreeWithoutReadDoesNotRoundTrip(t *testing.T) {
	dev := blockdev.NewMemDevice(0, defs.SectorsPerPage*1)
	s := New(dev)

	slot, _ := s.Out(page(9))
	s.Free(slot)

	slot2, ok := s.Out(page(3))
	require.True(t, ok)
	require.Equal(t, slot, slot2)

	var got [defs.PageSize]byte
	s.In(slot2, &got)
	require.Equal(t, *page(3), got, "the freed page's bytes must not come back")
}
