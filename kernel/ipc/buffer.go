package ipc

import (
	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/mm"
	"github.com/zrho/Carbon/kernel/mm/vmm"
	"github.com/zrho/Carbon/kernel/task"
)

// Buffer selects one of the two message buffers of a thread.
type Buffer int

const (
	// Send holds the message a thread is about to send or respond with.
	Send Buffer = iota

	// Recv holds the last message a thread received.
	Recv

	bufferCount
)

// BufferSize is the largest buffer. It matches the range covered by one
// page table, so a whole buffer moves by relinking a single table.
const BufferSize = uintptr(0x200000)

// ErrBufferTooLarge is raised when a buffer would exceed BufferSize.
var ErrBufferTooLarge = &kernel.Error{Module: "ipc", Message: "buffer exceeds the maximum size"}

var bufferBase = [bufferCount]uintptr{
	Send: mm.IPCSendVAddr,
	Recv: mm.IPCRecvVAddr,
}

// Valid returns true for Send and Recv.
func (b Buffer) Valid() bool {
	return b >= 0 && b < bufferCount
}

// Address returns the user address of a thread's buffer.
func Address(t *task.Thread, buf Buffer) uintptr {
	return bufferBase[buf] + uintptr(t.TID)*BufferSize
}

// Resize maps or unmaps pages so that the buffer spans size bytes rounded up
// to whole pages. New pages are zeroed.
func (s *Service) Resize(p *task.Process, t *task.Thread, buf Buffer, size uintptr) {
	if size > BufferSize {
		panic(ErrBufferTooLarge)
	}

	var (
		vm     = s.reg.VM()
		frames = s.reg.Frames()
		base   = Address(t, buf)
		cur    = t.BufferSize[buf]
	)
	size = mm.AlignUp(size)

	guard := vm.Switch(p.Space)
	for ; cur < size; cur += mm.PageSize {
		page := mm.PageFromAddress(base + cur)
		if err := vm.Map(page, frames.AllocFrame(), vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
			panic(err)
		}
		kernel.Memset(uintptr(vm.PtrTo(page.Address())), 0, mm.PageSize)
	}
	for ; cur > size; cur -= mm.PageSize {
		vm.UnmapFree(mm.PageFromAddress(base + cur - mm.PageSize))
	}
	guard.Restore()

	t.BufferSize[buf] = size
}

// Move hands the pages of a buffer to another thread, possibly in another
// process, without copying. Whatever the destination buffer held is
// released. The source buffer is left empty.
func (s *Service) Move(srcP *task.Process, srcT *task.Thread, srcBuf Buffer, dstP *task.Process, dstT *task.Thread, dstBuf Buffer) {
	vm := s.reg.VM()

	guard := vm.Switch(srcP.Space)
	table := vm.ExtractSubtree(Address(srcT, srcBuf), vmm.LevelPT)
	guard.Restore()

	guard = vm.Switch(dstP.Space)
	vm.InsertSubtree(Address(dstT, dstBuf), table)
	guard.Restore()

	dstT.BufferSize[dstBuf] = srcT.BufferSize[srcBuf]
	if table.Empty() {
		dstT.BufferSize[dstBuf] = 0
	}
	srcT.BufferSize[srcBuf] = 0
}

// ReleaseBuffers frees both buffers of a thread.
func (s *Service) ReleaseBuffers(p *task.Process, t *task.Thread) {
	vm := s.reg.VM()

	guard := vm.Switch(p.Space)
	for buf := Send; buf < bufferCount; buf++ {
		vm.InsertSubtree(Address(t, buf), vmm.Subtree{})
		t.BufferSize[buf] = 0
	}
	guard.Restore()
}
