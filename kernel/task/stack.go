package task

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/mm"
	"github.com/zrho/Carbon/kernel/mm/vmm"
)

const (
	// StackStride is the distance between the tops of neighbouring stacks.
	StackStride = uintptr(0x200000)

	// StackLengthMax is the largest stack. The page below it stays
	// unmapped and guards the stack underneath.
	StackLengthMax = StackStride - mm.PageSize

	// StackProcessMax is the size of a process's stack area.
	StackProcessMax = uintptr(0x8000000000)
)

// PageMapper maps user pages into the active address space.
type PageMapper interface {
	Map(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error
	UnmapFree(page mm.Page) bool
	PtrTo(virtAddr uintptr) unsafe.Pointer
}

// Stack describes a user stack growing down from Top.
type Stack struct {
	Top    uintptr
	Length uintptr
}

// StackFor returns the empty stack of the thread with the given tid.
func StackFor(tid int) Stack {
	return Stack{Top: mm.UserStackVAddr + uintptr(tid+1)*StackStride}
}

// Resize grows or shrinks the stack to length bytes, rounded up to whole
// pages. New pages are zeroed; released pages go back to the frame
// allocator. The owning process's address space must be active.
func (s *Stack) Resize(vm PageMapper, frames mm.FrameAllocator, length uintptr) {
	if length > StackLengthMax {
		panic(ErrStackOverflow)
	}

	length = mm.AlignUp(length)
	for s.Length < length {
		s.Length += mm.PageSize
		page := mm.PageFromAddress(s.Top - s.Length)
		if err := vm.Map(page, frames.AllocFrame(), vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
			panic(err)
		}
		kernel.Memset(uintptr(vm.PtrTo(page.Address())), 0, mm.PageSize)
	}

	for s.Length > length {
		vm.UnmapFree(mm.PageFromAddress(s.Top - s.Length))
		s.Length -= mm.PageSize
	}
}

// GrowTo grows the stack so that it covers faultAddr. It returns false if
// the address is outside the stack's range or already covered.
func (s *Stack) GrowTo(vm PageMapper, frames mm.FrameAllocator, faultAddr uintptr) bool {
	if faultAddr >= s.Top || faultAddr < s.Top-StackLengthMax || faultAddr >= s.Top-s.Length {
		return false
	}

	s.Resize(vm, frames, s.Top-mm.AlignDown(faultAddr))
	return true
}
