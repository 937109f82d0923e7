// Package bc is the buffer cache (component 3, spec section 4.1): a
// fixed-size, fully-associative cache of disk sectors sitting in front
// of a blockdev.Device, with second-chance eviction biased against
// dirty entries and a background flush daemon plus a bounded
// read-ahead ring. The design is biscuit's Bdev_block_t/BlkList_t
// reworked around Pintos's cache.c eviction and daemon structure.
package bc

import (
	"sync"

	"vmkernel/defs"
)

// Entry is one cache slot. Sector/Valid/Dirty/SecondChance/Readers are
// all guarded by Mu. Data is guarded by DataMu, a separate lock, so
// that concurrent readers of an already-cached sector can copy it out
// at the same time instead of serializing on Mu -- Mu is only ever
// held long enough to update the bookkeeping fields, never for the
// duration of a memcpy.
type Entry struct {
	Mu     sync.Mutex
	DataMu sync.RWMutex

	Valid        bool
	Sector       uint32
	Data         [defs.SectorSize]byte
	Dirty        bool
	SecondChance bool
	// Readers counts in-flight Read/Write callers holding a reference
	// to this entry, from the point Mu first records the pin to the
	// point it is released again -- it always brackets any DataMu hold,
	// so the evictor, which only ever acts on an entry it has observed
	// with Readers == 0 under Mu, can safely touch Data without taking
	// DataMu itself. This is what makes eviction safe to run
	// concurrently with readers/writers instead of needing a global
	// stop-the-world lock.
	Readers int
}
