package blockdev

import (
	"sync"

	"vmkernel/defs"
)

// MemDevice is an in-memory Device, used by unit tests that exercise the
// buffer cache and swap manager without touching the filesystem. Two
// independent backing arrays stand in for the fs-role and swap-role
// devices, mirroring the real deployment where they are separate disks.
type MemDevice struct {
	mu   sync.Mutex
	fs   [][defs.SectorSize]byte
	swap [][defs.SectorSize]byte
}

// NewMemDevice allocates a MemDevice with fsSectors sectors of fs-role
// storage and swapSectors sectors of swap-role storage.
func NewMemDevice(fsSectors, swapSectors uint32) *MemDevice {
	return &MemDevice{
		fs:   make([][defs.SectorSize]byte, fsSectors),
		swap: make([][defs.SectorSize]byte, swapSectors),
	}
}

func (m *MemDevice) backing(role Role) [][defs.SectorSize]byte {
	switch role {
	case RoleFS:
		return m.fs
	case RoleSwap:
		return m.swap
	default:
		defs.Fatal("blockdev: unknown role %v", role)
		return nil
	}
}

// Read implements Device.
func (m *MemDevice) Read(role Role, sector uint32, buf []byte) {
	if len(buf) != defs.SectorSize {
		defs.Fatal("blockdev: short read buffer (%d)", len(buf))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.backing(role)
	if int(sector) >= len(b) {
		defs.Fatal("blockdev: sector %d out of range for %v", sector, role)
	}
	copy(buf, b[sector][:])
}

// Write implements Device.
func (m *MemDevice) Write(role Role, sector uint32, buf []byte) {
	if len(buf) != defs.SectorSize {
		defs.Fatal("blockdev: short write buffer (%d)", len(buf))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.backing(role)
	if int(sector) >= len(b) {
		defs.Fatal("blockdev: sector %d out of range for %v", sector, role)
	}
	copy(b[sector][:], buf)
}

// Size implements Device.
func (m *MemDevice) Size(role Role) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.backing(role)))
}
