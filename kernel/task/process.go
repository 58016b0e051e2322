package task

import (
	"github.com/zrho/Carbon/kernel/mm/vmm"
)

// NoParent is the ParentPID of processes without a parent.
const NoParent = -1

// Process is a process descriptor. Its threads are kept in the registry's
// tid table.
type Process struct {
	// addr is the heap address of the descriptor itself.
	addr uintptr

	PID       int
	ParentPID int

	// Order is the distance from the root process.
	Order int

	// Handler is the entry point of IPC handler threads; 0 if the process
	// does not accept messages.
	Handler uintptr

	// TermImplicit terminates the process when its last thread stops.
	TermImplicit bool

	Space vmm.AddressSpace

	// live counts the threads that have not terminated.
	live int
}

// LiveThreads returns the number of threads that have not terminated.
func (p *Process) LiveThreads() int {
	return p.live
}
