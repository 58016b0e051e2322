// Package syscall implements the system call interface. User code raises
// interrupt 0x80 with the call number in RAX and arguments in the general
// purpose registers. On return RAX holds 0 on success or a call specific
// error code; results are passed back in RBX.
//
// Calls that switch threads clear RAX first, so an error can only be
// reported before the caller gives up the CPU.
package syscall

import (
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/ipc"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/sync"
	"github.com/zrho/Carbon/kernel/task"
)

// Number identifies a system call.
type Number uint64

// System call numbers.
const (
	ProcessID       Number = 0
	ProcessParentID Number = 1
	ProcessExit     Number = 2
	ThreadID        Number = 3
	ThreadSpawn     Number = 4
	ThreadJoin      Number = 5
	ThreadCancel    Number = 6

	ProcessCreate Number = 8
	ProcessKill   Number = 9
	ThreadCreate  Number = 10
	ThreadKill    Number = 11

	MutexLock    Number = 16
	MutexUnlock  Number = 17
	MutexTryLock Number = 18

	IPCSend       Number = 24
	IPCRespond    Number = 25
	IPCBufferSize Number = 26
	IPCBufferGet  Number = 27
	IPCHandler    Number = 28

	MemoryAlloc Number = 32
	MemoryFree  Number = 33
	MemoryMap   Number = 34
	MemoryUnmap Number = 35

	Debug    Number = 40
	DebugHex Number = 41

	FutexWake       Number = 48
	FutexWait       Number = 49
	FutexCmpRequeue Number = 50

	callCount = 56
)

// RootPID is the pid of the process that may use privileged calls.
const RootPID = 0

// errNotRoot is returned by privileged calls made by other processes.
const errNotRoot = 1

var (
	// handleInterruptFn is mocked by tests.
	handleInterruptFn = gate.HandleInterrupt

	logger = &kfmt.PrefixWriter{Prefix: []byte("[syscall] ")}
)

type handler func(*Table, *gate.Registers)

var handlers = [callCount]handler{
	ProcessID:       (*Table).processID,
	ProcessParentID: (*Table).processParentID,
	ProcessExit:     (*Table).processExit,
	ThreadID:        (*Table).threadID,
	ThreadSpawn:     (*Table).threadSpawn,
	ThreadJoin:      (*Table).threadJoin,
	ThreadCancel:    (*Table).threadCancel,

	ProcessCreate: (*Table).processCreate,
	ProcessKill:   (*Table).processKill,
	ThreadCreate:  (*Table).threadCreate,
	ThreadKill:    (*Table).threadKill,

	MutexLock:    (*Table).mutexLock,
	MutexUnlock:  (*Table).mutexUnlock,
	MutexTryLock: (*Table).mutexTryLock,

	IPCSend:       (*Table).ipcSend,
	IPCRespond:    (*Table).ipcRespond,
	IPCBufferSize: (*Table).ipcBufferSize,
	IPCBufferGet:  (*Table).ipcBufferGet,
	IPCHandler:    (*Table).ipcHandler,

	MemoryAlloc: (*Table).memoryAlloc,
	MemoryFree:  (*Table).memoryFree,
	MemoryMap:   (*Table).memoryMap,
	MemoryUnmap: (*Table).memoryUnmap,

	Debug:    (*Table).debug,
	DebugHex: (*Table).debugHex,

	FutexWake:       (*Table).futexWake,
	FutexWait:       (*Table).futexWait,
	FutexCmpRequeue: (*Table).futexCmpRequeue,
}

// privileged marks the calls reserved for the root process.
var privileged = [callCount]bool{
	ProcessCreate: true,
	ProcessKill:   true,
	ThreadCreate:  true,
	ThreadKill:    true,

	MemoryAlloc: true,
	MemoryFree:  true,
	MemoryMap:   true,
	MemoryUnmap: true,
}

// Table routes system calls to the kernel services.
type Table struct {
	reg  *task.Registry
	ipc  *ipc.Service
	sync *sync.Primitives
}

// Install attaches the table to the kernel services and registers it for the
// syscall vector.
func (t *Table) Install(reg *task.Registry, ipcService *ipc.Service, primitives *sync.Primitives) {
	t.reg = reg
	t.ipc = ipcService
	t.sync = primitives

	handleInterruptFn(gate.Syscall, t.dispatch)
}

// dispatch runs the call selected by RAX on behalf of the current thread.
// Unknown calls are logged and leave the registers untouched.
func (t *Table) dispatch(regs *gate.Registers) {
	num := Number(regs.RAX)
	if num >= callCount || handlers[num] == nil {
		kfmt.Fprintf(logger, "unknown system call 0x%x\n", uint64(num))
		return
	}

	p, cur := t.reg.Current()
	if cur == nil {
		kfmt.Fprintf(logger, "system call 0x%x without a current thread\n", uint64(num))
		return
	}

	if privileged[num] && p.PID != RootPID {
		regs.RAX = errNotRoot
		return
	}

	regs.RAX = 0
	handlers[num](t, regs)
}
