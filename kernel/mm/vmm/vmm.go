// Package vmm manages 4-level x86-64 page tables through a recursive
// mapping. The active PML4 maps itself in slot mm.RecursiveSlot, so every
// table of the active address space has a fixed virtual address and can be
// edited without temporary mappings.
package vmm

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrReservedSlot is returned for operations on the recursive or kernel
	// PML4 slots that would break the shared layout.
	ErrReservedSlot = &kernel.Error{Module: "vmm", Message: "virtual address lies in a reserved PML4 slot"}

	// ErrDisposeActive is raised when disposing the active address space.
	ErrDisposeActive = &kernel.Error{Module: "vmm", Message: "cannot dispose the active address space"}

	// ErrNoRecursiveMapping is returned by Init if the boot page tables lack
	// the recursive or kernel slot.
	ErrNoRecursiveMapping = &kernel.Error{Module: "vmm", Message: "boot PML4 is not recursively mapped"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	logger = &kfmt.PrefixWriter{Prefix: []byte("[vmm] ")}
)

// Manager edits the page tables of the active address space and creates,
// switches and disposes address spaces.
type Manager struct {
	mmu    MMU
	frames mm.FrameAllocator
	kernel AddressSpace
}

// Init adopts the active PML4 as the kernel address space. The boot code must
// have installed the recursive slot and the shared kernel slot.
func (m *Manager) Init(mmu MMU, frames mm.FrameAllocator) *kernel.Error {
	m.mmu = mmu
	m.frames = frames
	m.kernel = m.Active()

	pml4 := (*[512]pageTableEntry)(mmu.PtrTo(mm.PML4VAddr))
	recursive := pml4[mm.RecursiveSlot]
	if !recursive.HasFlags(FlagPresent) || recursive.Frame() != m.kernel.pml4 {
		return ErrNoRecursiveMapping
	}
	if !pml4[mm.KernelSlot].HasFlags(FlagPresent) {
		return ErrNoRecursiveMapping
	}

	kfmt.Fprintf(logger, "kernel PML4 at 0x%16x\n", m.kernel.pml4.Address())
	return nil
}

// PtrTo converts a mapped kernel virtual address into a pointer.
func (m *Manager) PtrTo(virtAddr uintptr) unsafe.Pointer {
	return m.mmu.PtrTo(virtAddr)
}
