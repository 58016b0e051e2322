// Package fault handles CPU exceptions raised by running code. Faults in
// kernel mode are fatal. Page faults just below a user stack grow the stack;
// any other user fault terminates the faulting process.
package fault

import (
	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/cpu"
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/task"
)

// Page fault error code bits.
const (
	errCodePresent = 1 << 0
	errCodeWrite   = 1 << 1
	errCodeRsvd    = 1 << 3
	errCodeFetch   = 1 << 4
)

var (
	// ErrKernelFault is raised when the kernel itself faults.
	ErrKernelFault = &kernel.Error{Module: "fault", Message: "unrecoverable fault in kernel mode"}

	// handleInterruptFn and readCR2Fn are mocked by tests.
	handleInterruptFn = gate.HandleInterrupt
	readCR2Fn         = cpu.ReadCR2

	logger = &kfmt.PrefixWriter{Prefix: []byte("[fault] ")}
)

// Handler resolves faults of the threads in a registry.
type Handler struct {
	reg *task.Registry
}

// Install registers the fault handlers.
func (h *Handler) Install(reg *task.Registry) {
	h.reg = reg

	handleInterruptFn(gate.GPFException, h.generalProtectionFault)
	handleInterruptFn(gate.PageFaultException, h.pageFault)
	handleInterruptFn(gate.FloatingPointException, h.floatingPointFault)
	handleInterruptFn(gate.SIMDFloatingPointException, h.floatingPointFault)
}

// pageFault is invoked when a page is not present or when a protection check
// fails. CR2 holds the faulting address.
func (h *Handler) pageFault(regs *gate.Registers) {
	faultAddr := uintptr(readCR2Fn())

	if !regs.UserMode() {
		kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: %s\n", faultAddr, pageFaultReason(regs.Info))
		kernelFault(regs)
	}

	_, t := h.reg.Current()
	if t != nil && regs.Info&errCodePresent == 0 {
		if t.Stack.GrowTo(h.reg.VM(), h.reg.Frames(), faultAddr) {
			return
		}
	}

	kfmt.Fprintf(logger, "page fault at 0x%16x (%s)\n", faultAddr, pageFaultReason(regs.Info))
	h.terminate(regs)
}

// generalProtectionFault is invoked for segment errors, privileged
// instructions outside ring 0 and accesses to non-canonical addresses.
func (h *Handler) generalProtectionFault(regs *gate.Registers) {
	if !regs.UserMode() {
		kfmt.Printf("\nGeneral protection fault (error code: %x)\n", regs.Info)
		kernelFault(regs)
	}

	kfmt.Fprintf(logger, "general protection fault (error code: %x)\n", regs.Info)
	h.terminate(regs)
}

// floatingPointFault is invoked for unmasked x87 and SSE exceptions.
func (h *Handler) floatingPointFault(regs *gate.Registers) {
	if !regs.UserMode() {
		kfmt.Printf("\nFloating point exception\n")
		kernelFault(regs)
	}

	kfmt.Fprintf(logger, "floating point exception\n")
	h.terminate(regs)
}

// terminate kills the current process and switches to the next ready thread.
func (h *Handler) terminate(regs *gate.Registers) {
	p, _ := h.reg.Current()
	if p == nil {
		kernelFault(regs)
	}

	kfmt.Fprintf(logger, "terminating process %d (rip: 0x%16x)\n", p.PID, regs.RIP)
	h.reg.TerminateProcess(p.PID)
	h.reg.SwitchNext(regs)
}

func kernelFault(regs *gate.Registers) {
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.Output)
	panic(ErrKernelFault)
}

func pageFaultReason(errCode uint64) string {
	var reason string

	switch errCode & (errCodePresent | errCodeWrite) {
	case 0:
		reason = "read from non-present page"
	case errCodePresent:
		reason = "page protection violation (read)"
	case errCodeWrite:
		reason = "write to non-present page"
	default:
		reason = "page protection violation (write)"
	}

	switch {
	case errCode&errCodeRsvd != 0:
		reason = "page table has reserved bit set"
	case errCode&errCodeFetch != 0:
		reason = "instruction fetch"
	}
	return reason
}
