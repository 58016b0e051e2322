package syscall

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/task"
)

// Error codes of the process and thread calls.
const (
	errJoinSelf     = 1
	errJoinNoThread = 2
	errJoinDetached = 3

	errKillNoThread   = 1
	errNoProcess      = 2
	errProcessLimit   = 3
	errThreadLimit    = 3
	reasonMainReturns = 1
)

// noParentID is reported as the parent of processes without one.
const noParentID = ^uint64(0)

// processID: RBX = pid.
func (t *Table) processID(regs *gate.Registers) {
	p, _ := t.reg.Current()
	regs.RBX = uint64(p.PID)
}

// processParentID: RBX = parent pid or ^0.
func (t *Table) processParentID(regs *gate.Registers) {
	p, _ := t.reg.Current()
	if p.ParentPID == task.NoParent {
		regs.RBX = noParentID
		return
	}
	regs.RBX = uint64(p.ParentPID)
}

// processExit terminates the caller's process.
func (t *Table) processExit(regs *gate.Registers) {
	p, _ := t.reg.Current()
	t.reg.TerminateProcess(p.PID)
	t.reg.SwitchNext(regs)
}

// threadID: RBX = tid.
func (t *Table) threadID(regs *gate.Registers) {
	_, cur := t.reg.Current()
	regs.RBX = uint64(cur.TID)
}

// threadSpawn starts a thread in the caller's process at RDI with argument
// RSI. RDX is pushed as the return address. RBX = tid.
func (t *Table) threadSpawn(regs *gate.Registers) {
	p, _ := t.reg.Current()
	t.createThread(regs, p, uintptr(regs.RDI), regs.RSI, regs.RDX)
}

// threadJoin waits for thread RBX of the caller's process to stop.
// RBX = its result. The joined thread's tid is free again afterwards.
func (t *Table) threadJoin(regs *gate.Registers) {
	p, cur := t.reg.Current()
	tid := int(uint32(regs.RBX))

	if tid == cur.TID {
		regs.RAX = errJoinSelf
		return
	}

	awaited := t.reg.Thread(p, tid)
	switch {
	case awaited == nil:
		regs.RAX = errJoinNoThread
	case awaited.Detached():
		regs.RAX = errJoinDetached
	case !t.reg.JoinSleep(cur, awaited):
		regs.RBX = awaited.Result
		t.reg.FreeThread(p, awaited)
	default:
		t.reg.SwitchNext(regs)
	}
}

// threadCancel stops thread RBX of the caller's process with result RSI and
// reason RDX.
func (t *Table) threadCancel(regs *gate.Registers) {
	p, _ := t.reg.Current()
	t.killThread(regs, p, int(uint32(regs.RBX)), regs.RSI, uint8(regs.RDX))
}

// processCreate: RBX = pid of a new, empty child of process RCX.
func (t *Table) processCreate(regs *gate.Registers) {
	parent := t.reg.Process(int(uint32(regs.RCX)))
	if parent == nil {
		regs.RAX = errNoProcess
		return
	}

	p, err := t.reg.SpawnProcess(parent)
	if err != nil {
		regs.RAX = errProcessLimit
		return
	}
	regs.RBX = uint64(p.PID)
}

// processKill terminates process RCX.
func (t *Table) processKill(regs *gate.Registers) {
	cur, _ := t.reg.Current()
	pid := int(uint32(regs.RCX))

	t.reg.TerminateProcess(pid)
	if pid == cur.PID {
		t.reg.SwitchNext(regs)
	}
}

// threadCreate starts a thread in process RCX at RDI with argument RSI. RDX
// is pushed as the return address. RBX = tid.
func (t *Table) threadCreate(regs *gate.Registers) {
	p := t.reg.Process(int(uint32(regs.RCX)))
	if p == nil {
		regs.RAX = errNoProcess
		return
	}
	t.createThread(regs, p, uintptr(regs.RDI), regs.RSI, regs.RDX)
}

// threadKill stops thread RBX of process RCX with result RSI and reason RDX.
func (t *Table) threadKill(regs *gate.Registers) {
	p := t.reg.Process(int(uint32(regs.RCX)))
	if p == nil {
		regs.RAX = errNoProcess
		return
	}
	t.killThread(regs, p, int(uint32(regs.RBX)), regs.RSI, uint8(regs.RDX))
}

// createThread spawns a ready thread of p whose stack holds the return
// address ret and whose RDI holds arg.
func (t *Table) createThread(regs *gate.Registers, p *task.Process, entry uintptr, arg, ret uint64) {
	th, err := t.reg.SpawnThread(p, entry)
	if err != nil {
		regs.RAX = errThreadLimit
		return
	}

	vm := t.reg.VM()
	slot := th.Stack.Top - unsafe.Sizeof(ret)
	guard := vm.Switch(p.Space)
	*(*uint64)(vm.PtrTo(slot)) = ret
	guard.Restore()

	th.Regs.RSP = uint64(slot)
	th.Regs.RDI = arg
	regs.RBX = uint64(th.TID)
	t.reg.Thaw(th)
}

// killThread stops thread tid of p. If the main thread stops because it
// returned, the whole process terminates.
func (t *Table) killThread(regs *gate.Registers, p *task.Process, tid int, result uint64, reason uint8) {
	th := t.reg.Thread(p, tid)
	if th == nil {
		regs.RAX = errKillNoThread
		return
	}

	curP, curT := t.reg.Current()
	pid, switchThread := p.PID, th == curT

	// StopThread may free p when its last thread stops.
	th.Result = result
	t.reg.StopThread(p, th)

	if tid == 0 && reason == reasonMainReturns {
		t.reg.TerminateProcess(pid)
		if p == curP {
			switchThread = true
		}
	}

	if switchThread {
		t.reg.SwitchNext(regs)
	}
}
