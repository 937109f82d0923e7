// Package defs holds the error taxonomy and a few cross-cutting constants
// shared by every subsystem: buffer cache, swap, frame table, supplemental
// page table, and the VM core that wires them together.
package defs

import "fmt"

// Err_t is the error type returned across the user-error boundary (page
// fault handler, mmap, munmap). Negative values are error sentinels; zero
// means success. Programmer errors, resource exhaustion, and block-device
// I/O failures are not representable as Err_t -- those panic (see the
// taxonomy below).
type Err_t int

const (
	// EFAULT: the faulting or requested address has no valid mapping and
	// no heuristic (e.g. stack growth) applies.
	EFAULT Err_t = -1
	// ENOMEM: a page-table mapping could not be installed.
	ENOMEM Err_t = -2
	// EINVAL: caller-supplied arguments violate an mmap/munmap precondition.
	EINVAL Err_t = -3
	// ENOSPC: the swap device has no free slots.
	ENOSPC Err_t = -4
)

// String renders an Err_t the way the kernel's diagnostic logging expects.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "ok"
	case EFAULT:
		return "EFAULT"
	case ENOMEM:
		return "ENOMEM"
	case EINVAL:
		return "EINVAL"
	case ENOSPC:
		return "ENOSPC"
	default:
		return "Err_t(?)"
	}
}

// Fatal reports a programmer error or resource-exhaustion condition that
// this subsystem cannot recover from. Per the error handling design,
// these abort the kernel rather than propagate -- the buffer cache and
// swap manager never return errors to their callers, they call Fatal.
func Fatal(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}
