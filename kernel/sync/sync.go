// Package sync implements the blocking primitives user threads synchronize
// with: byte-sized mutexes and 32-bit futexes. Both live in user memory and
// are only visible to threads of the same process.
//
// The kernel runs on a single CPU and is not preemptible, so the words are
// read and written without atomic instructions.
package sync

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/task"
)

var (
	// ErrInaccessible is returned for a word the caller cannot access.
	ErrInaccessible = &kernel.Error{Module: "sync", Message: "word is not accessible from user mode"}

	// ErrNotLocked is returned when unlocking a mutex that is not held.
	ErrNotLocked = &kernel.Error{Module: "sync", Message: "mutex is not locked"}
)

// Primitives operates on the mutexes and futexes of the current thread's
// process.
type Primitives struct {
	reg *task.Registry
}

// Init attaches the primitives to the registry.
func (s *Primitives) Init(reg *task.Registry) {
	s.reg = reg
}

// MutexLock acquires the mutex at addr. If the mutex is held the caller
// sleeps until an unlock hands the mutex over to it.
func (s *Primitives) MutexLock(regs *gate.Registers, addr uintptr) *kernel.Error {
	word, err := s.mutex(addr)
	if err != nil {
		return err
	}

	if *word == 0 {
		*word = 1
		return nil
	}

	_, t := s.reg.Current()
	regs.RAX = 0
	t.Sleep = task.Sleep{Kind: task.SleepMutex, Addr: addr}
	s.reg.Freeze(t)
	s.reg.SwitchNext(regs)
	return nil
}

// MutexTryLock acquires the mutex at addr if it is free and reports whether
// it did.
func (s *Primitives) MutexTryLock(addr uintptr) (bool, *kernel.Error) {
	word, err := s.mutex(addr)
	if err != nil {
		return false, err
	}

	if *word != 0 {
		return false, nil
	}
	*word = 1
	return true, nil
}

// MutexUnlock releases the mutex at addr. If a thread sleeps on it, the
// mutex passes to that thread and stays locked.
func (s *Primitives) MutexUnlock(addr uintptr) *kernel.Error {
	word, err := s.mutex(addr)
	if err != nil {
		return err
	}
	if *word == 0 {
		return ErrNotLocked
	}

	woken := s.wake(task.SleepMutex, addr, 1)
	if woken == 0 {
		*word = 0
	}
	return nil
}

// FutexWait puts the caller to sleep on the futex at addr if the futex holds
// expected. It returns false without sleeping for an inaccessible or
// misaligned futex or a different value. A sleeping caller resumes with RAX
// set to 1.
func (s *Primitives) FutexWait(regs *gate.Registers, addr uintptr, expected uint32) bool {
	word := s.futex(addr)
	if word == nil || *word != expected {
		return false
	}

	_, t := s.reg.Current()
	regs.RAX = 1
	t.Sleep = task.Sleep{Kind: task.SleepFutex, Addr: addr}
	s.reg.Freeze(t)
	s.reg.SwitchNext(regs)
	return true
}

// FutexWake wakes up to count threads sleeping on the futex at addr.
func (s *Primitives) FutexWake(addr uintptr, count uint32) bool {
	if s.futex(addr) == nil {
		return false
	}

	s.wake(task.SleepFutex, addr, count)
	return true
}

// FutexCmpRequeue wakes up to wake threads sleeping on the futex at addr and
// moves up to transfer of the remaining sleepers to the futex at target. It
// does nothing and returns false if the futex at addr does not hold expected.
func (s *Primitives) FutexCmpRequeue(addr, target uintptr, expected, wake, transfer uint32) bool {
	word := s.futex(addr)
	if word == nil || s.futex(target) == nil || *word != expected {
		return false
	}

	s.wake(task.SleepFutex, addr, wake)

	p, _ := s.reg.Current()
	s.reg.VisitThreads(p, func(t *task.Thread) bool {
		if transfer == 0 {
			return false
		}
		if t.Sleep.Kind == task.SleepFutex && t.Sleep.Addr == addr {
			t.Sleep.Addr = target
			transfer--
		}
		return true
	})
	return true
}

// wake thaws up to count threads of the current process that sleep on addr
// and returns how many it woke.
func (s *Primitives) wake(kind task.SleepKind, addr uintptr, count uint32) uint32 {
	var woken uint32

	p, _ := s.reg.Current()
	s.reg.VisitThreads(p, func(t *task.Thread) bool {
		if woken == count {
			return false
		}
		if t.Sleep.Kind == kind && t.Sleep.Addr == addr {
			t.Sleep = task.Sleep{}
			s.reg.Thaw(t)
			woken++
		}
		return true
	})
	return woken
}

func (s *Primitives) mutex(addr uintptr) (*uint8, *kernel.Error) {
	if !s.reg.VM().RegionAccessible(addr, 1) {
		return nil, ErrInaccessible
	}
	return (*uint8)(s.reg.VM().PtrTo(addr)), nil
}

func (s *Primitives) futex(addr uintptr) *uint32 {
	size := unsafe.Sizeof(uint32(0))
	if addr&(size-1) != 0 || !s.reg.VM().RegionAccessible(addr, size) {
		return nil
	}
	return (*uint32)(s.reg.VM().PtrTo(addr))
}
