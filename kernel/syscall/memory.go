package syscall

import (
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/mm"
	"github.com/zrho/Carbon/kernel/mm/vmm"
)

const (
	// MapWritable is the memory_map flag for writable pages.
	MapWritable = 1 << 0

	errReservedAddr = 3
)

// memoryAlloc: RBX = physical address of a new frame.
func (t *Table) memoryAlloc(regs *gate.Registers) {
	regs.RBX = uint64(t.reg.Frames().AllocFrame().Address())
}

// memoryFree returns the frame at physical address RBX.
func (t *Table) memoryFree(regs *gate.Registers) {
	t.reg.Frames().FreeFrame(mm.FrameFromAddress(uintptr(regs.RBX)))
}

// memoryMap maps the frame at RSI to the page at RDI in process RCX. Bit 0 of
// RBX makes the page writable.
func (t *Table) memoryMap(regs *gate.Registers) {
	virt := mm.AlignDown(uintptr(regs.RDI))
	p := t.reg.Process(int(uint32(regs.RCX)))
	switch {
	case p == nil:
		regs.RAX = errNoProcess
		return
	case reserved(virt):
		regs.RAX = errReservedAddr
		return
	}

	flags := vmm.FlagUserAccessible
	if regs.RBX&MapWritable != 0 {
		flags |= vmm.FlagRW
	}

	vm := t.reg.VM()
	guard := vm.Switch(p.Space)
	err := vm.Map(mm.PageFromAddress(virt), mm.FrameFromAddress(uintptr(regs.RSI)), flags)
	guard.Restore()

	if err != nil {
		regs.RAX = errReservedAddr
	}
}

// memoryUnmap removes the mapping of the page at RBX in process RCX. The
// frame is not released.
func (t *Table) memoryUnmap(regs *gate.Registers) {
	virt := mm.AlignDown(uintptr(regs.RBX))
	p := t.reg.Process(int(uint32(regs.RCX)))
	switch {
	case p == nil:
		regs.RAX = errNoProcess
		return
	case reserved(virt):
		regs.RAX = errReservedAddr
		return
	}

	vm := t.reg.VM()
	guard := vm.Switch(p.Space)
	err := vm.Unmap(mm.PageFromAddress(virt))
	guard.Restore()

	if err != nil {
		regs.RAX = errReservedAddr
	}
}

// reserved returns true for addresses in the PML4 slots shared with the
// kernel.
func reserved(virt uintptr) bool {
	return mm.PML4Index(virt) >= mm.KernelSlot
}
