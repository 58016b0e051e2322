package task

import (
	"github.com/zrho/Carbon/kernel/gate"
)

// Current returns the running process and thread. Both are nil while the
// CPU idles.
func (r *Registry) Current() (*Process, *Thread) {
	return r.curProc, r.curThread
}

// SetIdle records the context that runs while no thread is ready.
func (r *Registry) SetIdle(regs *gate.Registers) {
	r.idle = *regs
}

// Switch saves regs as the context of the current thread and replaces them
// with the context of next, activating its address space. A nil next loads
// the idle context in the kernel address space.
func (r *Registry) Switch(next *Thread, regs *gate.Registers) {
	if cur := r.curThread; cur != nil && !cur.terminated {
		cur.Regs = *regs
		r.fpu.Save(uintptr(r.heap.PtrTo(cur.fxArea)))
		cur.fpuReady = true
	}

	if next == nil {
		r.curProc, r.curThread = nil, nil
		if r.vm.Active() != r.vm.Kernel() {
			r.vm.Activate(r.vm.Kernel())
		}
		*regs = r.idle
	} else {
		p := r.procs[next.PID]
		r.curProc, r.curThread = p, next
		if r.vm.Active() != p.Space {
			r.vm.Activate(p.Space)
		}

		*regs = next.Regs
		next.ttl = TTLGain
		if next.fpuReady {
			r.fpu.Restore(uintptr(r.heap.PtrTo(next.fxArea)))
		} else {
			r.fpu.Init()
		}
	}

	if r.hasPending {
		r.vm.Dispose(r.pending)
		r.hasPending = false
	}
}

// SwitchNext switches to the next ready thread.
func (r *Registry) SwitchNext(regs *gate.Registers) {
	r.Switch(r.sched.Next(), regs)
}

// Tick is called on every timer interrupt. The running thread keeps the CPU
// until its time slice is used up.
func (r *Registry) Tick(regs *gate.Registers) {
	if cur := r.curThread; cur != nil && !cur.Frozen() {
		cur.ttl--
		if cur.ttl > 0 {
			return
		}
	}

	next := r.sched.Next()
	if next == nil && r.curThread == nil {
		return
	}
	r.Switch(next, regs)
}
