//go:build linux || darwin

package blockdev

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"vmkernel/defs"
)

// FileDevice is a Device backed by a regular file, mapped into the
// process with mmap so that Read/Write are plain memory copies instead
// of syscalls per sector. cmd/vmctl uses one FileDevice for the fs role
// and a second, independent FileDevice for the swap role, matching the
// "two roles, two disks" model in spec section 6.
type FileDevice struct {
	mu     sync.Mutex
	f      *os.File
	region []byte
}

// OpenFileDevice maps the first sectors*SectorSize bytes of path. The
// file is created and truncated to that size if it does not already
// hold enough data.
func OpenFileDevice(path string, sectors uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(sectors) * defs.SectorSize
	if st, err := f.Stat(); err != nil {
		f.Close()
		return nil, err
	} else if st.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	region, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{f: f, region: region}, nil
}

// Read implements Device. role is ignored: a FileDevice only ever backs
// one role at a time, chosen by the caller when it opens two instances.
func (d *FileDevice) Read(_ Role, sector uint32, buf []byte) {
	if len(buf) != defs.SectorSize {
		defs.Fatal("blockdev: short read buffer (%d)", len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := int64(sector) * defs.SectorSize
	if off+defs.SectorSize > int64(len(d.region)) {
		defs.Fatal("blockdev: sector %d out of range", sector)
	}
	copy(buf, d.region[off:off+defs.SectorSize])
}

// Write implements Device.
func (d *FileDevice) Write(_ Role, sector uint32, buf []byte) {
	if len(buf) != defs.SectorSize {
		defs.Fatal("blockdev: short write buffer (%d)", len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := int64(sector) * defs.SectorSize
	if off+defs.SectorSize > int64(len(d.region)) {
		defs.Fatal("blockdev: sector %d out of range", sector)
	}
	copy(d.region[off:off+defs.SectorSize], buf)
}

// Size implements Device.
func (d *FileDevice) Size(_ Role) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(len(d.region) / defs.SectorSize)
}

// Sync flushes the mapped region back to the file. It leaves the
// device open; Close unmaps and closes it.
func (d *FileDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := unix.Msync(d.region, unix.MS_SYNC); err != nil {
		return err
	}
	return nil
}

// Close unmaps the region and closes the backing file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := unix.Munmap(d.region); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
