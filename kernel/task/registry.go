// Package task keeps track of processes and threads, their user stacks and
// the ready queue, and performs context switches.
package task

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/cpu"
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/mm"
	"github.com/zrho/Carbon/kernel/mm/vmm"
)

const (
	// ProcessMax is the size of the process table.
	ProcessMax = 1024

	// ThreadMax is the number of threads a process can have.
	ThreadMax = 256

	userCodeSelector = 0x1B
	userDataSelector = 0x23
	flagIF           = 0x200
)

var (
	// ErrProcessLimit is returned when the process table is full.
	ErrProcessLimit = &kernel.Error{Module: "task", Message: "process limit reached"}

	// ErrThreadLimit is returned when a process has no free thread id.
	ErrThreadLimit = &kernel.Error{Module: "task", Message: "thread limit reached"}

	// ErrThreadRunning is raised when freeing a thread that was not stopped.
	ErrThreadRunning = &kernel.Error{Module: "task", Message: "cannot free a running thread"}

	// ErrFrozen is raised when queueing a frozen thread.
	ErrFrozen = &kernel.Error{Module: "task", Message: "frozen thread cannot be scheduled"}

	// ErrStackOverflow is raised when a stack would exceed StackLengthMax.
	ErrStackOverflow = &kernel.Error{Module: "task", Message: "stack exceeds its maximum length"}

	logger = &kfmt.PrefixWriter{Prefix: []byte("[task] ")}
)

// Heap provides storage for descriptors and FPU areas.
type Heap interface {
	Alloc(size uintptr) uintptr
	Free(addr uintptr)
	PtrTo(addr uintptr) unsafe.Pointer
}

// BufferReleaser frees the IPC buffers of a thread that stops.
type BufferReleaser interface {
	ReleaseBuffers(p *Process, t *Thread)
}

// Registry holds all processes and threads and the scheduler state.
type Registry struct {
	vm      *vmm.Manager
	frames  mm.FrameAllocator
	heap    Heap
	fpu     FPU
	buffers BufferReleaser

	procs [ProcessMax]*Process
	tids  [ProcessMax][ThreadMax]*Thread

	curProc   *Process
	curThread *Thread

	sched Scheduler
	idle  gate.Registers

	// pending is the address space of a terminated process that was still
	// active; it is disposed on the next switch.
	pending    vmm.AddressSpace
	hasPending bool
}

// Init prepares an empty registry.
func (r *Registry) Init(vm *vmm.Manager, frames mm.FrameAllocator, heap Heap, fpu FPU) {
	r.vm = vm
	r.frames = frames
	r.heap = heap
	r.fpu = fpu
}

// SetBufferReleaser installs the hook that releases IPC buffers of stopped
// threads.
func (r *Registry) SetBufferReleaser(b BufferReleaser) {
	r.buffers = b
}

// VM returns the page-table manager.
func (r *Registry) VM() *vmm.Manager {
	return r.vm
}

// Frames returns the frame allocator.
func (r *Registry) Frames() mm.FrameAllocator {
	return r.frames
}

// Scheduler returns the ready queue.
func (r *Registry) Scheduler() *Scheduler {
	return &r.sched
}

// Process returns the process with the given pid or nil.
func (r *Registry) Process(pid int) *Process {
	if pid < 0 || pid >= ProcessMax {
		return nil
	}
	return r.procs[pid]
}

// Thread returns the thread of p with the given tid or nil.
func (r *Registry) Thread(p *Process, tid int) *Thread {
	if p == nil || tid < 0 || tid >= ThreadMax {
		return nil
	}
	return r.tids[p.PID][tid]
}

// VisitThreads invokes visitor for every thread of p until it returns false.
func (r *Registry) VisitThreads(p *Process, visitor func(*Thread) bool) {
	for _, t := range r.tids[p.PID] {
		if t != nil && !visitor(t) {
			return
		}
	}
}

// SpawnProcess creates a process with a fresh address space and no threads.
func (r *Registry) SpawnProcess(parent *Process) (*Process, *kernel.Error) {
	pid := 0
	for ; pid < ProcessMax && r.procs[pid] != nil; pid++ {
	}
	if pid == ProcessMax {
		return nil, ErrProcessLimit
	}

	space, err := r.vm.Create()
	if err != nil {
		return nil, err
	}

	addr := r.heap.Alloc(unsafe.Sizeof(Process{}))
	p := (*Process)(r.heap.PtrTo(addr))
	p.addr = addr
	p.PID = pid
	p.ParentPID = NoParent
	p.Space = space
	if parent != nil {
		p.ParentPID = parent.PID
		p.Order = parent.Order + 1
	}

	r.procs[pid] = p
	kfmt.Fprintf(logger, "spawned process %d (parent %d)\n", pid, p.ParentPID)
	return p, nil
}

// TerminateProcess stops every thread of the process, releases its address
// space and frees its descriptor. Unknown pids are ignored. If the process's
// address space is active, it is released on the next switch.
func (r *Registry) TerminateProcess(pid int) {
	p := r.Process(pid)
	if p == nil {
		return
	}

	// Unlisting first keeps StopThread from terminating implicitly.
	r.procs[pid] = nil

	for _, t := range r.tids[pid] {
		switch {
		case t == nil:
		case t.terminated:
			r.FreeThread(p, t)
		default:
			t.detached = true
			r.StopThread(p, t)
		}
	}

	if r.vm.Active() == p.Space {
		r.pending, r.hasPending = p.Space, true
	} else {
		r.vm.Dispose(p.Space)
	}

	if r.curProc == p {
		r.curProc = nil
	}
	r.heap.Free(p.addr)
	kfmt.Fprintf(logger, "terminated process %d\n", pid)
}

// SpawnThread creates a frozen thread of p that starts at entry in user mode
// with a one-page stack.
func (r *Registry) SpawnThread(p *Process, entry uintptr) (*Thread, *kernel.Error) {
	tid := 0
	for ; tid < ThreadMax && r.tids[p.PID][tid] != nil; tid++ {
	}
	if tid == ThreadMax {
		return nil, ErrThreadLimit
	}

	addr := r.heap.Alloc(unsafe.Sizeof(Thread{}))
	t := (*Thread)(r.heap.PtrTo(addr))
	t.addr = addr
	t.TID = tid
	t.PID = p.PID
	t.frozen = 1
	t.fxArea = r.heap.Alloc(cpu.FXSaveAreaSize)

	t.Stack = StackFor(tid)
	guard := r.vm.Switch(p.Space)
	t.Stack.Resize(r.vm, r.frames, mm.PageSize)
	guard.Restore()

	t.Regs = gate.Registers{
		RIP:    uint64(entry),
		RSP:    uint64(t.Stack.Top),
		RBP:    uint64(t.Stack.Top),
		CS:     userCodeSelector,
		SS:     userDataSelector,
		RFlags: flagIF,
	}

	r.tids[p.PID][tid] = t
	p.live++
	return t, nil
}

// StopThread terminates t. The stack, FPU area and IPC buffers are released
// and joiners are woken with t.Result. Detached threads and threads that had
// joiners are freed right away.
// Stopping the last thread of a TermImplicit process terminates the process.
func (r *Registry) StopThread(p *Process, t *Thread) {
	if t.terminated {
		return
	}

	if p.TermImplicit && p.live == 1 && r.procs[p.PID] == p {
		r.TerminateProcess(p.PID)
		return
	}

	r.Freeze(t)

	guard := r.vm.Switch(p.Space)
	t.Stack.Resize(r.vm, r.frames, 0)
	guard.Restore()

	if r.buffers != nil {
		r.buffers.ReleaseBuffers(p, t)
	}

	r.heap.Free(t.fxArea)
	t.fxArea = 0
	t.fpuReady = false
	t.Role = Role{}
	t.Sleep = Sleep{}
	t.terminated = true
	p.live--

	joined := false
	r.VisitThreads(p, func(joiner *Thread) bool {
		if joiner.Sleep.Kind == SleepJoin && joiner.Sleep.TID == t.TID {
			joiner.Sleep = Sleep{}
			joiner.Regs.RBX = t.Result
			r.Thaw(joiner)
			joined = true
		}
		return true
	})

	if t.detached || joined {
		r.FreeThread(p, t)
	}
}

// FreeThread releases the descriptor of a stopped thread and its tid.
func (r *Registry) FreeThread(p *Process, t *Thread) {
	if !t.terminated {
		panic(ErrThreadRunning)
	}

	r.tids[p.PID][t.TID] = nil
	if r.curThread == t {
		r.curThread = nil
	}
	r.heap.Free(t.addr)
}

// Freeze takes t off the ready queue. Freezes nest; every Freeze needs a
// matching Thaw.
func (r *Registry) Freeze(t *Thread) {
	t.frozen++
	if t.frozen == 1 {
		r.sched.Remove(t)
	}
}

// Thaw undoes one Freeze and queues t once no freeze remains. Thawing a
// thread that is not frozen or has terminated does nothing.
func (r *Registry) Thaw(t *Thread) {
	if t.frozen == 0 || t.terminated {
		return
	}

	t.frozen--
	if t.frozen == 0 {
		r.sched.Add(t)
	}
}

// JoinSleep puts t to sleep until awaited stops. It returns false without
// sleeping if awaited has already terminated.
func (r *Registry) JoinSleep(t, awaited *Thread) bool {
	if awaited.terminated {
		return false
	}

	t.Sleep = Sleep{Kind: SleepJoin, TID: awaited.TID}
	r.Freeze(t)
	return true
}
