package bc

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"vmkernel/blockdev"
	"vmkernel/defs"
)

// flushPeriod is how often the flush daemon sweeps every dirty entry to
// disk, mirroring Pintos's bc_daemon_flush timer_msleep(1000) cadence.
const flushPeriod = 1 * time.Second

// maxEvictRounds bounds the eviction clock sweep. Round 0 skips dirty
// entries outright (write-back is expensive, so prefer a clean victim);
// round 1 takes the first non-referenced entry regardless of dirty
// state. A third round exists purely as a liveness backstop -- it
// should never be needed if the cache is sized sanely relative to the
// number of concurrent readers/writers.
const maxEvictRounds = 3

// readAheadSlot is one pending read-ahead request. valid distinguishes
// an empty slot from sector 0, since sector 0 is itself a legitimate
// sector to prefetch -- using it as its own sentinel, the way the
// original C implementation did, is exactly the bug this design avoids
// (see DESIGN.md).
type readAheadSlot struct {
	valid  bool
	sector uint32
}

// Cache is a fixed-size, fully-associative buffer cache for one
// blockdev.Device role.
type Cache struct {
	dev  blockdev.Device
	role blockdev.Role
	log  *logrus.Entry

	entries []Entry

	indexMu   sync.Mutex
	index     map[uint32]int // sector -> slot
	clockHand int

	readAheadMu   sync.Mutex
	readAheadRing []readAheadSlot
	readAheadSem  *semaphore.Weighted // counts filled slots

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewCache builds a cache of nentries slots over dev/role, with a
// read-ahead ring of ringSize pending requests.
func NewCache(dev blockdev.Device, role blockdev.Role, nentries, ringSize int) *Cache {
	if nentries < 1 {
		defs.Fatal("bc: cache needs at least one entry")
	}
	c := &Cache{
		dev:           dev,
		role:          role,
		log:           logrus.WithField("component", "bc").WithField("role", role.String()),
		entries:       make([]Entry, nentries),
		index:         make(map[uint32]int, nentries),
		readAheadRing: make([]readAheadSlot, ringSize),
		readAheadSem:  semaphore.NewWeighted(int64(ringSize)),
	}
	// Start with every permit held, so the semaphore's available count
	// is the number of filled ring slots: RequestReadAhead releases one
	// per slot it fills and the daemon acquires one per slot it takes.
	c.readAheadSem.TryAcquire(int64(ringSize))
	return c
}

// Start launches the flush and read-ahead daemons under ctx. Call
// Stop to shut them down and wait for them; cancelling ctx also stops
// them, but does not wait. Both daemons only stop on context
// cancellation, so Stop normally returns nil.
func (c *Cache) Start(ctx context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	c.cancel = cancel
	c.group = g
	g.Go(func() error { return c.flushDaemon(gctx) })
	g.Go(func() error { return c.readAheadDaemon(gctx) })
}

// Stop cancels the daemons and waits for them to exit.
func (c *Cache) Stop() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	err := c.group.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Read returns a copy of the sector's current contents, loading it
// from the underlying device on a miss.
func (c *Cache) Read(sector uint32) [defs.SectorSize]byte {
	e := c.acquire(sector, false)
	e.DataMu.RLock()
	data := e.Data
	e.DataMu.RUnlock()
	e.release()
	return data
}

// Write overwrites the sector's contents in the cache and marks the
// entry dirty; it does not touch the device synchronously -- that is
// the flush daemon's job (and FlushAll's, for callers that need a
// synchronous barrier).
func (c *Cache) Write(sector uint32, data []byte) {
	if len(data) != defs.SectorSize {
		defs.Fatal("bc: short write (%d bytes)", len(data))
	}
	// The whole sector is about to be overwritten, so a miss never
	// needs to load the stale disk content first.
	e := c.acquire(sector, true)
	e.DataMu.Lock()
	copy(e.Data[:], data)
	e.DataMu.Unlock()
	e.Mu.Lock()
	e.Dirty = true
	e.Mu.Unlock()
	e.release()
}

// ReadAt returns length bytes starting at offset within sector, per
// spec section 4.1's partial-sector read contract.
func (c *Cache) ReadAt(sector uint32, offset, length int) []byte {
	if offset < 0 || length < 0 || offset+length > defs.SectorSize {
		defs.Fatal("bc: read range [%d:%d) out of bounds for a %d-byte sector", offset, offset+length, defs.SectorSize)
	}
	e := c.acquire(sector, false)
	out := make([]byte, length)
	e.DataMu.RLock()
	copy(out, e.Data[offset:offset+length])
	e.DataMu.RUnlock()
	e.release()
	return out
}

// WriteAt overwrites buf into sector at offset, per spec section 4.1's
// partial-sector write contract: a write that covers the whole sector
// never pays for a load-before-store on a miss, since every byte is
// about to be replaced anyway; a partial write on a miss reads the
// rest of the sector in first so the untouched bytes survive.
func (c *Cache) WriteAt(sector uint32, offset int, buf []byte) {
	length := len(buf)
	if offset < 0 || length < 0 || offset+length > defs.SectorSize {
		defs.Fatal("bc: write range [%d:%d) out of bounds for a %d-byte sector", offset, offset+length, defs.SectorSize)
	}
	full := offset == 0 && length == defs.SectorSize
	e := c.acquire(sector, full)
	e.DataMu.Lock()
	copy(e.Data[offset:offset+length], buf)
	e.DataMu.Unlock()
	e.Mu.Lock()
	e.Dirty = true
	e.Mu.Unlock()
	e.release()
}

// release undoes the pin acquire placed on e, letting the evictor
// consider it again once Readers drops to zero.
func (e *Entry) release() {
	e.Mu.Lock()
	e.Readers--
	e.Mu.Unlock()
}

// Remove evicts sector from the cache without writing it back,
// discarding any dirty data. It reports whether the sector was
// present. Callers (e.g. truncation) are responsible for knowing that
// discarding dirty data is safe.
func (c *Cache) Remove(sector uint32) bool {
	c.indexMu.Lock()
	idx, ok := c.index[sector]
	if !ok {
		c.indexMu.Unlock()
		return false
	}
	e := &c.entries[idx]
	e.Mu.Lock()
	delete(c.index, sector)
	c.indexMu.Unlock()
	e.Valid = false
	e.Dirty = false
	e.SecondChance = false
	e.Mu.Unlock()
	return true
}

// FlushAll writes every dirty entry back to the device synchronously,
// except an entry pinned by an in-flight Read/Write at the moment the
// sweep reaches it (see flushLocked), which stays dirty.
func (c *Cache) FlushAll() {
	for i := range c.entries {
		e := &c.entries[i]
		e.Mu.Lock()
		c.flushLocked(e)
		e.Mu.Unlock()
	}
}

// flushLocked writes e back to disk if dirty. Caller must hold e.Mu.
// It skips a currently-pinned entry (Readers > 0): Readers brackets
// every DataMu hold, so Readers == 0 here is what lets it read e.Data
// directly without taking DataMu itself. A pinned dirty entry is
// picked up by the next periodic sweep instead.
func (c *Cache) flushLocked(e *Entry) {
	if !e.Valid || !e.Dirty || e.Readers > 0 {
		return
	}
	c.dev.Write(c.role, e.Sector, e.Data[:])
	e.Dirty = false
}

// acquire returns the entry for sector, pinning it (Readers++) so the
// evictor leaves it alone, and loading it from disk on a miss unless
// skipLoad is set (the caller is about to overwrite every byte of the
// sector, so the stale disk content would just be thrown away). The
// returned entry is unlocked -- callers take DataMu themselves around
// the actual Data access and must call release when done.
//
// On a miss, Mu stays held across the device read: that serializes
// against a concurrent acquire of the same sector (which blocks on
// Mu.Lock() in the hit branch below) so it can never observe a
// half-loaded entry, while still letting already-resident sectors
// serve multiple concurrent readers without serializing on Mu.
func (c *Cache) acquire(sector uint32, skipLoad bool) *Entry {
	c.indexMu.Lock()
	if idx, ok := c.index[sector]; ok {
		e := &c.entries[idx]
		e.Mu.Lock()
		c.indexMu.Unlock()
		e.Readers++
		e.SecondChance = true
		e.Mu.Unlock()
		return e
	}

	idx := c.getFreeEntryLocked()
	e := &c.entries[idx]
	e.Valid = true
	e.Sector = sector
	e.Dirty = false
	e.SecondChance = false
	e.Readers = 1
	c.index[sector] = idx
	c.indexMu.Unlock()

	if !skipLoad {
		c.dev.Read(c.role, sector, e.Data[:])
	}
	e.Mu.Unlock()
	return e
}

// getFreeEntryLocked returns the index of an unused or newly-evicted
// entry, locked. Caller must hold indexMu and will receive the entry
// still locked (acquire fills it in and unlocks it).
func (c *Cache) getFreeEntryLocked() int {
	for i := range c.entries {
		e := &c.entries[i]
		if !e.Valid {
			e.Mu.Lock()
			return i
		}
	}
	return c.evictLocked()
}

// evictLocked runs the modified-clock eviction scan described in spec
// section 4.1 and returns the index of the victim, left locked. Caller
// holds indexMu throughout: the scan only ever takes entry locks that
// it immediately releases again unless the entry is chosen, so lock
// order (indexMu -> entry) never inverts.
func (c *Cache) evictLocked() int {
	n := len(c.entries)
	for round := 0; round < maxEvictRounds; round++ {
		for i := 0; i < n; i++ {
			idx := (c.clockHand + i) % n
			e := &c.entries[idx]
			if !e.Mu.TryLock() {
				continue
			}
			if e.Readers > 0 {
				e.Mu.Unlock()
				continue
			}
			if e.SecondChance {
				e.SecondChance = false
				e.Mu.Unlock()
				continue
			}
			if round == 0 && e.Dirty {
				e.Mu.Unlock()
				continue
			}
			// Victim found.
			c.flushLocked(e)
			delete(c.index, e.Sector)
			e.Valid = false
			c.clockHand = (idx + 1) % n
			return idx
		}
	}
	defs.Fatal("bc: no evictable entry after %d rounds (cache too small for concurrency level)", maxEvictRounds)
	return -1
}

// RequestReadAhead asks the read-ahead daemon to prefetch sector in the
// background. It is fire-and-forget: if the ring is full the request
// is dropped, since read-ahead is an optimization, not a correctness
// requirement.
func (c *Cache) RequestReadAhead(sector uint32) {
	c.readAheadMu.Lock()
	defer c.readAheadMu.Unlock()
	for i := range c.readAheadRing {
		if !c.readAheadRing[i].valid {
			c.readAheadRing[i] = readAheadSlot{valid: true, sector: sector}
			c.readAheadSem.Release(1)
			return
		}
	}
	c.log.WithField("sector", sector).Warn("read-ahead ring full, dropping request")
}

// readAheadDaemon blocks on the semaphore until a slot is filled, then
// loads that sector into the cache (a plain Read, discarded) before
// looping. It exits when ctx is cancelled.
func (c *Cache) readAheadDaemon(ctx context.Context) error {
	for {
		if err := c.readAheadSem.Acquire(ctx, 1); err != nil {
			return err
		}
		sector, ok := c.takeReadAhead()
		if ok {
			c.Read(sector)
		}
	}
}

func (c *Cache) takeReadAhead() (uint32, bool) {
	c.readAheadMu.Lock()
	defer c.readAheadMu.Unlock()
	for i := range c.readAheadRing {
		if c.readAheadRing[i].valid {
			s := c.readAheadRing[i].sector
			c.readAheadRing[i] = readAheadSlot{}
			return s, true
		}
	}
	return 0, false
}

// flushDaemon periodically writes back every dirty entry. It exits
// when ctx is cancelled.
func (c *Cache) flushDaemon(ctx context.Context) error {
	t := time.NewTicker(flushPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.FlushAll()
			c.log.Debug("periodic flush complete")
		}
	}
}
