package gate

import (
	"io"

	"github.com/zrho/Carbon/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs. The interrupt entry stubs push this frame and
// pass its address to Dispatch; whatever the handler leaves in it is restored
// by IRETQ. The scheduler also uses it as the saved context of a thread.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info contains the exception code for exceptions, the syscall number
	// for syscall entries or the IRQ number for HW interrupts.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// UserMode returns true if the snapshot was taken while running at ring 3.
func (r *Registers) UserMode() bool {
	return r.CS&3 == 3
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page table entry is not present or
	// when a privilege and/or RW protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs when an unmasked x87 exception is
	// pending while CR0.NE is set.
	FloatingPointException = InterruptNumber(16)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set.
	SIMDFloatingPointException = InterruptNumber(19)

	// IRQBase is the vector of IRQ 0 after the PIC has been remapped.
	IRQBase = InterruptNumber(32)

	// Syscall is the software interrupt vector used for system calls.
	Syscall = InterruptNumber(0x80)
)

// Handler processes an interrupt. It may modify the register snapshot in
// place, e.g. to return values or to switch to a different thread.
type Handler func(*Registers)

var (
	handlers [256]Handler

	// unhandledFn is invoked for vectors without a registered handler.
	unhandledFn = unhandled
)

// HandleInterrupt registers handler for intNumber, replacing any handler
// previously registered for it. A nil handler unregisters the vector.
func HandleInterrupt(intNumber InterruptNumber, handler Handler) {
	handlers[intNumber] = handler
}

// Dispatch routes an interrupt to its registered handler. It is called by the
// interrupt entry stubs with interrupts disabled, so handlers always run to
// completion.
func Dispatch(intNumber InterruptNumber, regs *Registers) {
	if h := handlers[intNumber]; h != nil {
		h(regs)
		return
	}

	unhandledFn(intNumber, regs)
}

func unhandled(intNumber InterruptNumber, regs *Registers) {
	kfmt.Printf("\nunhandled interrupt %d (info: %x)\n", uint8(intNumber), regs.Info)
	regs.DumpTo(kfmt.Output)
}
