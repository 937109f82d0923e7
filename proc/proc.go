// Package proc is the process lifecycle glue (component 7): binding a
// thread id to its address space and making sure teardown happens in
// the right order -- unmap everything, then hand the space back to the
// kernel's registry -- matching the order biscuit's Proc_t.Doexit /
// Vm_t.Uvmfree tears down an exiting process's memory before anything
// else touches it again.
package proc

import (
	"fmt"
	"sync"

	"vmkernel/defs"
	"vmkernel/pagetable"
	"vmkernel/vm"
)

// Process is one running process's kernel-visible state: just enough
// to drive its address space through the VM core. Anything about
// scheduling, file descriptors, or syscalls is out of scope here.
type Process struct {
	Tid   defs.Tid_t
	Space *vm.Space
	pt    pagetable.PT
}

// Table tracks every live process, guarding creation and exit against
// each other.
type Table struct {
	k *vm.Kernel

	mu   sync.Mutex
	next defs.Tid_t
	byID map[defs.Tid_t]*Process
}

// NewTable builds a process table bound to kernel k.
func NewTable(k *vm.Kernel) *Table {
	return &Table{k: k, byID: make(map[defs.Tid_t]*Process)}
}

// Spawn registers a new process with its own page table and stack
// base, returning its Process.
func (t *Table) Spawn(pt pagetable.PT, stackBase uintptr) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	tid := t.next
	t.next++
	p := &Process{
		Tid:   tid,
		Space: t.k.NewSpace(pt, stackBase),
		pt:    pt,
	}
	t.byID[tid] = p
	return p
}

// Get returns the process for tid, if it is still alive.
func (t *Table) Get(tid defs.Tid_t) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[tid]
	return p, ok
}

// Exit tears down tid's address space (unmapping everything, freeing
// swap slots and frames it held) and removes it from the table. Exit
// of an unknown tid is a no-op, matching the idempotent-teardown
// property the VM core's own Destroy/Munmap already provide.
func (t *Table) Exit(tid defs.Tid_t) error {
	t.mu.Lock()
	p, ok := t.byID[tid]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.byID, tid)
	t.mu.Unlock()

	p.Space.Destroy()
	t.k.DropSpace(p.pt)
	return nil
}

// Len reports the number of live processes.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

func (p *Process) String() string {
	return fmt.Sprintf("proc(tid=%d)", p.Tid)
}
