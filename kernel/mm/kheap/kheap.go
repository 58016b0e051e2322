// Package kheap implements the kernel's slab allocator. The heap occupies
// the virtual range [mm.HeapVAddr, mm.HeapVAddr+mm.HeapMaxLength) of the
// shared kernel slot and grows one region at a time. A region starts with a
// page of slab headers followed by the slabs; every slab is one page carved
// into equally sized slots of a single size class.
package kheap

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/mm"
	"github.com/zrho/Carbon/kernel/mm/vmm"
)

const (
	// classCount is the number of size classes. Class c holds slots of
	// 8<<c bytes, so the largest slot is one page.
	classCount = 10

	minSlotShift = 3

	regionSize     = uintptr(1 << 20)
	slabsPerRegion = regionSize/mm.PageSize - 1

	// headerShift converts a slab's page offset within its region into the
	// offset of its header within the region's header page.
	headerShift = 8

	pageFlags = vmm.FlagRW | vmm.FlagGlobal
)

var (
	// ErrAllocTooLarge is raised for requests of a page or more.
	ErrAllocTooLarge = &kernel.Error{Module: "kheap", Message: "allocation request exceeds the largest size class"}

	// ErrExhausted is raised when the heap's virtual range is used up.
	ErrExhausted = &kernel.Error{Module: "kheap", Message: "kernel heap exhausted"}

	// ErrCorrupted is raised when freeing an address that the heap never
	// handed out.
	ErrCorrupted = &kernel.Error{Module: "kheap", Message: "free of an address that does not belong to an allocated slot"}

	logger = &kfmt.PrefixWriter{Prefix: []byte("[kheap] ")}
)

// PageMapper maps heap pages into the kernel slot.
type PageMapper interface {
	Map(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error
	PtrTo(virtAddr uintptr) unsafe.Pointer
}

// slabHeader describes one slab. Headers of a region are packed into its
// first page, 16 bytes each.
type slabHeader struct {
	// next links free slabs while the slab is uncarved.
	next   uintptr
	used   uint32
	class  uint8
	carved bool
}

// Heap is the kernel slab allocator. Slots are never returned to the
// frame allocator; a slab keeps its size class once carved.
type Heap struct {
	vm     PageMapper
	frames mm.FrameAllocator

	// heads holds the first free slot of each class. Free slots link
	// through their first word.
	heads [classCount]uintptr

	// freeSlabs is the first uncarved slab.
	freeSlabs uintptr

	// end is the first address past the last region.
	end uintptr
}

// Init prepares an empty heap. No memory is mapped until the first Alloc.
func (h *Heap) Init(vm PageMapper, frames mm.FrameAllocator) {
	h.vm = vm
	h.frames = frames
	h.heads = [classCount]uintptr{}
	h.freeSlabs = 0
	h.end = mm.HeapVAddr
}

// Alloc returns the address of a zeroed slot of at least size bytes. Sizes
// of a page or more are not supported.
func (h *Heap) Alloc(size uintptr) uintptr {
	if size >= mm.PageSize {
		panic(ErrAllocTooLarge)
	}

	class := classFor(size)
	if h.heads[class] == 0 {
		h.carve(class)
	}

	// carve calls out to the frame allocator, which may free heap slots
	// of its own, so the list head is only read now.
	slot := h.heads[class]
	h.heads[class] = *(*uintptr)(h.vm.PtrTo(slot))
	h.header(slot).used++

	kernel.Memset(uintptr(h.vm.PtrTo(slot)), 0, slotSize(class))
	return slot
}

// Free returns a slot to its size class.
func (h *Heap) Free(addr uintptr) {
	hdr := h.slabOf(addr)
	if hdr == nil || !hdr.carved || hdr.used == 0 || (addr-mm.AlignDown(addr))%slotSize(hdr.class) != 0 {
		panic(ErrCorrupted)
	}

	hdr.used--
	*(*uintptr)(h.vm.PtrTo(addr)) = h.heads[hdr.class]
	h.heads[hdr.class] = addr
}

// PtrTo converts a heap address into a pointer.
func (h *Heap) PtrTo(addr uintptr) unsafe.Pointer {
	return h.vm.PtrTo(addr)
}

// SlotSize returns the size of the slot that contains addr.
func (h *Heap) SlotSize(addr uintptr) uintptr {
	hdr := h.slabOf(addr)
	if hdr == nil || !hdr.carved {
		panic(ErrCorrupted)
	}
	return slotSize(hdr.class)
}

// Size returns the number of bytes of virtual address space the heap spans.
func (h *Heap) Size() uintptr {
	return h.end - mm.HeapVAddr
}

// carve turns a free slab into slots of the given class.
func (h *Heap) carve(class uint8) {
	slab := h.takeSlab()
	if err := h.vm.Map(mm.PageFromAddress(slab), h.frames.AllocFrame(), pageFlags); err != nil {
		panic(err)
	}

	hdr := h.header(slab)
	hdr.class = class
	hdr.carved = true
	hdr.used = 0

	size := slotSize(class)
	for off := mm.PageSize - size; ; off -= size {
		*(*uintptr)(h.vm.PtrTo(slab + off)) = h.heads[class]
		h.heads[class] = slab + off
		if off == 0 {
			break
		}
	}
}

func (h *Heap) takeSlab() uintptr {
	if h.freeSlabs == 0 {
		h.grow()
	}

	slab := h.freeSlabs
	h.freeSlabs = h.header(slab).next
	return slab
}

// grow maps the header page of a new region and queues its slabs.
func (h *Heap) grow() {
	region := h.end
	if region+regionSize > mm.HeapVAddr+mm.HeapMaxLength {
		panic(ErrExhausted)
	}

	if err := h.vm.Map(mm.PageFromAddress(region), h.frames.AllocFrame(), pageFlags); err != nil {
		panic(err)
	}
	kernel.Memset(uintptr(h.vm.PtrTo(region)), 0, mm.PageSize)
	h.end += regionSize

	for i := slabsPerRegion; i > 0; i-- {
		slab := region + i*mm.PageSize
		h.header(slab).next = h.freeSlabs
		h.freeSlabs = slab
	}

	kfmt.Fprintf(logger, "grew to %d KiB\n", h.Size()>>10)
}

func (h *Heap) header(addr uintptr) *slabHeader {
	region := mm.HeapVAddr + (addr-mm.HeapVAddr)&^(regionSize-1)
	return (*slabHeader)(h.vm.PtrTo(region + ((addr-region)&^(mm.PageSize-1))>>headerShift))
}

// slabOf returns the header of the slab holding addr, or nil if addr is not
// inside a slab of the heap.
func (h *Heap) slabOf(addr uintptr) *slabHeader {
	if addr < mm.HeapVAddr || addr >= h.end || (addr-mm.HeapVAddr)&(regionSize-1) < mm.PageSize {
		return nil
	}
	return h.header(addr)
}

func classFor(size uintptr) uint8 {
	class := uint8(0)
	for slotSize(class) < size {
		class++
	}
	return class
}

func slotSize(class uint8) uintptr {
	return uintptr(1) << (minSlotShift + class)
}
