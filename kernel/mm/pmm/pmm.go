// Package pmm implements the physical frame allocator.
package pmm

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/mm"
)

// bootstrapNodes is the number of free-list nodes available before the
// kernel heap can provide node storage.
const bootstrapNodes = 256

var (
	errOutOfMemory   = &kernel.Error{Module: "pmm", Message: "out of physical memory"}
	errNoNodeStorage = &kernel.Error{Module: "pmm", Message: "free-list node storage exhausted before the heap was attached"}

	logger = &kfmt.PrefixWriter{Prefix: []byte("[pmm] ")}
)

// Range describes a region of physical memory reported by the boot loader.
type Range struct {
	Base      uintptr
	Length    uintptr
	Available bool
}

// NodeHeap provides storage for free-list nodes once the bootstrap pool is
// exhausted. It is implemented by the kernel heap.
type NodeHeap interface {
	Alloc(size uintptr) uintptr
	Free(addr uintptr)
	PtrTo(addr uintptr) unsafe.Pointer
}

// nodeRef links free-list nodes. Zero terminates a list, values up to
// bootstrapNodes select a slot of the bootstrap array (index+1) and anything
// else is the kernel heap address of the node.
type nodeRef uintptr

type freeNode struct {
	frame mm.Frame
	next  nodeRef
}

// Allocator tracks free physical frames in a singly linked free list.
// Frames are always exactly one page; there is no coalescing.
type Allocator struct {
	head  nodeRef
	spare nodeRef

	bootstrap     [bootstrapNodes]freeNode
	bootstrapUsed int

	heap      NodeHeap
	freeCount uint64
}

// Init releases every page-aligned frame of the available ranges that lies at
// or above freeBegin. Memory below freeBegin holds the kernel image and the
// boot structures and is never handed out.
func (a *Allocator) Init(freeBegin uintptr, ranges []Range) {
	freeBegin = mm.AlignUp(freeBegin)

	for _, r := range ranges {
		if !r.Available {
			continue
		}

		begin := mm.AlignUp(r.Base)
		if begin < freeBegin {
			begin = freeBegin
		}
		end := mm.AlignDown(r.Base + r.Length)

		for addr := begin; addr < end; addr += mm.PageSize {
			a.Free(mm.FrameFromAddress(addr))
		}
	}

	kfmt.Fprintf(logger, "%d free frames (%d KiB)\n", a.freeCount, a.freeCount*uint64(mm.PageSize>>10))
}

// SetNodeHeap attaches the heap used for free-list nodes once the bootstrap
// array is exhausted.
func (a *Allocator) SetNodeHeap(heap NodeHeap) {
	a.heap = heap
}

// FreeCount returns the number of frames currently on the free list.
func (a *Allocator) FreeCount() uint64 {
	return a.freeCount
}

// Alloc pops a frame off the free list. Running out of physical memory is
// unrecoverable and halts the kernel.
func (a *Allocator) Alloc() mm.Frame {
	if a.head == 0 {
		panic(errOutOfMemory)
	}

	ref := a.head
	node := a.node(ref)
	frame := node.frame
	a.head = node.next
	a.freeCount--

	a.releaseNode(ref, node)
	return frame
}

// Free pushes frame onto the free list.
func (a *Allocator) Free(frame mm.Frame) {
	ref, node := a.acquireNode()
	node.frame = frame
	node.next = a.head
	a.head = ref
	a.freeCount++
}

// AllocFrame implements mm.FrameAllocator.
func (a *Allocator) AllocFrame() mm.Frame { return a.Alloc() }

// FreeFrame implements mm.FrameAllocator.
func (a *Allocator) FreeFrame(frame mm.Frame) { a.Free(frame) }

// acquireNode returns storage for a new free-list node, preferring the
// bootstrap array over the heap. The heap may call back into Alloc while
// growing, so the free list must be consistent before the heap is used.
func (a *Allocator) acquireNode() (nodeRef, *freeNode) {
	switch {
	case a.spare != 0:
		ref := a.spare
		node := a.node(ref)
		a.spare = node.next
		return ref, node
	case a.bootstrapUsed < bootstrapNodes:
		a.bootstrapUsed++
		ref := nodeRef(a.bootstrapUsed)
		return ref, a.node(ref)
	case a.heap != nil:
		addr := a.heap.Alloc(unsafe.Sizeof(freeNode{}))
		return nodeRef(addr), (*freeNode)(a.heap.PtrTo(addr))
	}

	panic(errNoNodeStorage)
}

func (a *Allocator) releaseNode(ref nodeRef, node *freeNode) {
	if isBootstrap(ref) {
		node.next = a.spare
		a.spare = ref
		return
	}

	a.heap.Free(uintptr(ref))
}

func (a *Allocator) node(ref nodeRef) *freeNode {
	if isBootstrap(ref) {
		return &a.bootstrap[ref-1]
	}
	return (*freeNode)(a.heap.PtrTo(uintptr(ref)))
}

func isBootstrap(ref nodeRef) bool {
	return ref <= bootstrapNodes
}
