package vmm

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel/cpu"
)

// MMU is the hardware the page-table manager drives.
type MMU interface {
	// ActivePDT returns the physical address of the active PML4.
	ActivePDT() uintptr

	// SwitchPDT loads a PML4 into CR3. Reloading the active PML4 flushes
	// every non-global TLB entry.
	SwitchPDT(pdtPhysAddr uintptr)

	// FlushTLBEntry invalidates the TLB entry for a virtual address.
	FlushTLBEntry(virtAddr uintptr)

	// PtrTo converts a mapped virtual address into a pointer.
	PtrTo(virtAddr uintptr) unsafe.Pointer
}

// NativeMMU drives the CPU the kernel runs on.
var NativeMMU MMU = nativeMMU{}

type nativeMMU struct{}

func (nativeMMU) ActivePDT() uintptr             { return cpu.ActivePDT() }
func (nativeMMU) SwitchPDT(pdtPhysAddr uintptr)  { cpu.SwitchPDT(pdtPhysAddr) }
func (nativeMMU) FlushTLBEntry(virtAddr uintptr) { cpu.FlushTLBEntry(virtAddr) }

func (nativeMMU) PtrTo(virtAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(virtAddr)
}
