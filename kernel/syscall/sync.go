package syscall

import (
	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/sync"
)

// Error codes of the mutex calls.
const (
	errInaccessible = 1
	errNotLocked    = 2
)

func mutexStatus(regs *gate.Registers, err *kernel.Error) {
	switch err {
	case sync.ErrNotLocked:
		regs.RAX = errNotLocked
	default:
		regs.RAX = errInaccessible
	}
}

// mutexLock acquires the mutex at RDI, sleeping while it is held.
func (t *Table) mutexLock(regs *gate.Registers) {
	if err := t.sync.MutexLock(regs, uintptr(regs.RDI)); err != nil {
		mutexStatus(regs, err)
	}
}

// mutexUnlock releases the mutex at RDI.
func (t *Table) mutexUnlock(regs *gate.Registers) {
	if err := t.sync.MutexUnlock(uintptr(regs.RDI)); err != nil {
		mutexStatus(regs, err)
	}
}

// mutexTryLock: RBX = 1 if the mutex at RDI was acquired.
func (t *Table) mutexTryLock(regs *gate.Registers) {
	locked, err := t.sync.MutexTryLock(uintptr(regs.RDI))
	if err != nil {
		mutexStatus(regs, err)
		return
	}

	regs.RBX = 0
	if locked {
		regs.RBX = 1
	}
}

// futexWake wakes up to RCX threads sleeping on the futex at RSI.
// RAX = 1 on success.
func (t *Table) futexWake(regs *gate.Registers) {
	regs.RAX = boolStatus(t.sync.FutexWake(uintptr(regs.RSI), uint32(regs.RCX)))
}

// futexWait sleeps on the futex at RSI while it holds RBX. RAX = 1 after a
// wakeup and 0 if the caller did not sleep.
func (t *Table) futexWait(regs *gate.Registers) {
	// A sleeping caller's RAX is already set when this returns.
	if !t.sync.FutexWait(regs, uintptr(regs.RSI), uint32(regs.RBX)) {
		regs.RAX = 0
	}
}

// futexCmpRequeue wakes RCX sleepers of the futex at RSI and moves up to RDX
// of the others to the futex at RDI, provided the futex holds RBX.
func (t *Table) futexCmpRequeue(regs *gate.Registers) {
	ok := t.sync.FutexCmpRequeue(uintptr(regs.RSI), uintptr(regs.RDI), uint32(regs.RBX), uint32(regs.RCX), uint32(regs.RDX))
	regs.RAX = boolStatus(ok)
}

func boolStatus(ok bool) uint64 {
	if ok {
		return 1
	}
	return 0
}
