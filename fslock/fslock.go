// Package fslock is the single global filesystem lock referenced by
// the lock-ordering discipline in spec section 4.2
// (frame_table_lock -> swap_lock -> fs_lock -> bc index lock -> per-BC
// -entry lock -> per-process SPT lock). Any path that touches the
// backing file for an MMF page (lazy load, write-back on eviction or
// munmap) takes this lock before going anywhere near the
// buffer cache, exactly as Pintos's single filesys lock serializes all
// directory and inode operations.
package fslock

import "sync"

var mu sync.Mutex

// Lock acquires the global filesystem lock.
func Lock() { mu.Lock() }

// Unlock releases the global filesystem lock.
func Unlock() { mu.Unlock() }

// WithLock runs fn holding the lock, a convenience for the common
// acquire/defer-release pattern every caller in this module uses.
func WithLock(fn func()) {
	mu.Lock()
	defer mu.Unlock()
	fn()
}
