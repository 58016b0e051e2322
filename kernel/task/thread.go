package task

import (
	"github.com/zrho/Carbon/kernel/gate"
)

// RoleKind tells what a thread is currently doing on behalf of another one.
type RoleKind uint8

const (
	// RoleNormal is the role of every thread that is not serving a message.
	RoleNormal RoleKind = iota

	// RoleIPCReceiver marks a handler thread spawned to serve a message.
	RoleIPCReceiver
)

// Role records who a handler thread has to respond to.
type Role struct {
	Kind RoleKind

	// SenderPID and SenderTID identify the thread that sent the message
	// served by a RoleIPCReceiver thread.
	SenderPID int
	SenderTID int

	// Flags are the flags the message was sent with.
	Flags uint64
}

// SleepKind tells what a frozen thread is waiting for.
type SleepKind uint8

const (
	SleepNone SleepKind = iota
	SleepJoin
	SleepMutex
	SleepFutex
)

// Sleep describes the wait condition of a thread. TID is set for SleepJoin;
// Addr holds the user address of the word for SleepMutex and SleepFutex.
type Sleep struct {
	Kind SleepKind
	TID  int
	Addr uintptr
}

// Thread is a thread descriptor. Descriptors live on the kernel heap; the
// registry owns them.
type Thread struct {
	// addr is the heap address of the descriptor itself.
	addr uintptr

	TID int
	PID int

	frozen int
	ttl    int

	Role  Role
	Sleep Sleep

	// Regs holds the user context while the thread is not running.
	Regs gate.Registers

	// BufferSize holds the byte sizes of the send and receive buffers.
	BufferSize [2]uintptr

	Stack Stack

	// Result is the value handed to joiners.
	Result uint64

	terminated bool
	detached   bool
	fpuReady   bool

	// fxArea is the heap slot holding the saved FPU state.
	fxArea uintptr

	// nextReady links the scheduler's ready queue.
	nextReady *Thread
}

// Frozen returns true if the thread may not be scheduled.
func (t *Thread) Frozen() bool {
	return t.frozen > 0
}

// Terminated returns true once the thread was stopped. Its descriptor stays
// around until it is joined or freed.
func (t *Thread) Terminated() bool {
	return t.terminated
}

// Detached returns true if the thread cannot be joined.
func (t *Thread) Detached() bool {
	return t.detached
}

// Detach marks the thread so that it is freed as soon as it stops.
func (t *Thread) Detach() {
	t.detached = true
}
