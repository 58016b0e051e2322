package mm

import (
	"math"
	"unsafe"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned when no frame is available, e.g. when a
	// page-table entry that should point to a table is absent.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Unaligned addresses are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Unaligned addresses are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// AlignUp rounds size up to the next page boundary.
func AlignUp(size uintptr) uintptr {
	return (size + (PageSize - 1)) & ^(PageSize - 1)
}

// AlignDown rounds addr down to the page that contains it.
func AlignDown(addr uintptr) uintptr {
	return addr & ^(PageSize - 1)
}

// FrameAllocator is implemented by physical memory allocators. Running out
// of physical memory is unrecoverable, so AllocFrame never fails; it halts
// the kernel instead.
type FrameAllocator interface {
	AllocFrame() Frame
	FreeFrame(Frame)
}

// Memory converts a kernel virtual address into a pointer that can be
// dereferenced. On hardware the conversion is the identity; tests plug in
// an emulated MMU that resolves the address through the active page tables.
type Memory interface {
	PtrTo(virtAddr uintptr) unsafe.Pointer
}
