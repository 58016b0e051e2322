package syscall

import (
	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/ipc"
)

// Error codes of the IPC calls.
const (
	errBadBuffer  = 1
	errBufferSize = 2
)

// ipcSend sends RCX bytes of the Send buffer with flags RBX to process RDI.
func (t *Table) ipcSend(regs *gate.Registers) {
	err := t.ipc.Send(regs, int(uint32(regs.RDI)), regs.RBX, uintptr(uint32(regs.RCX)))
	if err != nil {
		regs.RAX = sendStatus(err)
	}
}

// ipcRespond answers the served message with RCX bytes of the Send buffer
// and flags RBX.
func (t *Table) ipcRespond(regs *gate.Registers) {
	if err := t.ipc.Respond(regs, regs.RBX, uintptr(uint32(regs.RCX))); err != nil {
		regs.RAX = respondStatus(err)
	}
}

func sendStatus(err *kernel.Error) uint64 {
	switch err {
	case ipc.ErrNoProcess:
		return 1
	case ipc.ErrNoHandler:
		return 2
	case ipc.ErrLength:
		return 3
	}
	return 0
}

func respondStatus(err *kernel.Error) uint64 {
	switch err {
	case ipc.ErrNotReceiver:
		return 1
	case ipc.ErrLength:
		return 2
	}
	return 0
}

// ipcBufferSize resizes buffer RBX to RCX bytes. RBX = buffer address.
func (t *Table) ipcBufferSize(regs *gate.Registers) {
	p, cur := t.reg.Current()
	buf, size := ipc.Buffer(uint8(regs.RBX)), uintptr(uint32(regs.RCX))

	switch {
	case !buf.Valid():
		regs.RAX = errBadBuffer
	case size > ipc.BufferSize:
		regs.RAX = errBufferSize
	default:
		t.ipc.Resize(p, cur, buf, size)
		regs.RBX = uint64(ipc.Address(cur, buf))
	}
}

// ipcBufferGet: RBX = address of buffer RBX.
func (t *Table) ipcBufferGet(regs *gate.Registers) {
	_, cur := t.reg.Current()
	buf := ipc.Buffer(uint8(regs.RBX))
	if !buf.Valid() {
		regs.RAX = errBadBuffer
		return
	}
	regs.RBX = uint64(ipc.Address(cur, buf))
}

// ipcHandler sets the caller's message handler entry point to RBX.
func (t *Table) ipcHandler(regs *gate.Registers) {
	p, _ := t.reg.Current()
	t.ipc.SetHandler(p, uintptr(regs.RBX))
}
