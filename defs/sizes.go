package defs

// SectorSize is the fixed size, in bytes, of a single block-device sector.
const SectorSize = 512

// PageSize is the fixed size, in bytes, of a virtual-memory page. PageSize
// must be an integer multiple of SectorSize (k = PageSize/SectorSize
// sectors per page).
const PageSize = 4096

// SectorsPerPage is k in the spec: the number of sectors backing one page.
const SectorsPerPage = PageSize / SectorSize

// MaxStack is the default maximum size of a process's stack region,
// measured down from PHYS_BASE.
const MaxStack = 8 * 1024 * 1024

// Tid_t identifies a kernel thread (one per user process in this design).
type Tid_t int
