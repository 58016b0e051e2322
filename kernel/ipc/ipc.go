// Package ipc implements synchronous message passing between processes.
// A message is delivered by spawning a handler thread in the receiving
// process and moving the sender's Send buffer into the handler's Recv buffer.
// The handler answers with Respond, which moves its Send buffer back to the
// sender and wakes it.
package ipc

import (
	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/task"
)

// Message flags.
const (
	// FlagResponse marks a message as the answer to an earlier one.
	FlagResponse = uint64(1)

	// FlagIgnoreResponse lets the sender continue without waiting for
	// the answer.
	FlagIgnoreResponse = uint64(2)
)

var (
	// ErrNoProcess is returned when sending to an unknown process.
	ErrNoProcess = &kernel.Error{Module: "ipc", Message: "target process does not exist"}

	// ErrNoHandler is returned when the target does not accept messages
	// or cannot take another handler thread.
	ErrNoHandler = &kernel.Error{Module: "ipc", Message: "target process has no message handler"}

	// ErrLength is returned when the message is longer than the Send buffer.
	ErrLength = &kernel.Error{Module: "ipc", Message: "message length exceeds the send buffer"}

	// ErrNotReceiver is returned when a thread responds without serving a
	// message.
	ErrNotReceiver = &kernel.Error{Module: "ipc", Message: "current thread is not serving a message"}
)

// Service delivers messages between the threads of a registry.
type Service struct {
	reg *task.Registry
}

// Init attaches the service to the registry, which then releases the
// buffers of threads that stop.
func (s *Service) Init(reg *task.Registry) {
	s.reg = reg
	reg.SetBufferReleaser(s)
}

// SetHandler sets the entry point of p's handler threads. Zero disables
// message delivery to p.
func (s *Service) SetHandler(p *task.Process, entry uintptr) {
	p.Handler = entry
}

// Send delivers the first length bytes of the current thread's Send buffer
// to targetPID and switches to the handler thread. Unless FlagIgnoreResponse
// is set the caller sleeps until the handler responds. Errors are returned
// before any state changes.
func (s *Service) Send(regs *gate.Registers, targetPID int, flags uint64, length uintptr) *kernel.Error {
	p, t := s.reg.Current()

	target := s.reg.Process(targetPID)
	if target == nil {
		return ErrNoProcess
	}
	if target.Handler == 0 {
		return ErrNoHandler
	}
	if length > t.BufferSize[Send] {
		return ErrLength
	}

	handler, err := s.reg.SpawnThread(target, target.Handler)
	if err != nil {
		return ErrNoHandler
	}
	handler.Detach()
	handler.Role = task.Role{
		Kind:      task.RoleIPCReceiver,
		SenderPID: p.PID,
		SenderTID: t.TID,
		Flags:     flags,
	}

	if length > 0 {
		s.Move(p, t, Send, target, handler, Recv)
	}
	writeHeader(&handler.Regs, handler, length, flags, p.PID)

	regs.RAX = 0
	s.reg.Thaw(handler)
	if flags&FlagIgnoreResponse == 0 {
		s.reg.Freeze(t)
	}
	s.reg.Switch(handler, regs)
	return nil
}

// Respond answers the message served by the current thread, which then
// stops. The first length bytes of its Send buffer move to the sender's Recv
// buffer. If the sender is gone or ignores the response, the handler simply
// stops.
func (s *Service) Respond(regs *gate.Registers, flags uint64, length uintptr) *kernel.Error {
	p, t := s.reg.Current()
	if t.Role.Kind != task.RoleIPCReceiver {
		return ErrNotReceiver
	}
	if length > t.BufferSize[Send] {
		return ErrLength
	}

	regs.RAX = 0
	role := t.Role
	senderP := s.reg.Process(role.SenderPID)
	senderT := s.reg.Thread(senderP, role.SenderTID)

	switch {
	case senderT == nil || senderT.Terminated():
		s.reg.StopThread(p, t)
		s.reg.SwitchNext(regs)
		return nil
	case role.Flags&FlagIgnoreResponse != 0:
		s.reg.StopThread(p, t)
	default:
		if length > 0 {
			s.Move(p, t, Send, senderP, senderT, Recv)
		}
		writeHeader(&senderT.Regs, senderT, length, flags, p.PID)
		s.reg.Thaw(senderT)
		s.reg.StopThread(p, t)
	}

	if senderT.Frozen() {
		s.reg.SwitchNext(regs)
		return nil
	}
	s.reg.Switch(senderT, regs)
	return nil
}

// writeHeader describes a delivered message in the receiving thread's
// registers.
func writeHeader(regs *gate.Registers, receiver *task.Thread, length uintptr, flags uint64, senderPID int) {
	regs.RDI = uint64(Address(receiver, Recv))
	regs.RSI = uint64(length)
	regs.RDX = uint64(senderPID)
	regs.RBX = flags
	regs.R8 = uint64(receiver.TID)
}
