package syscall

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/mm"
)

// debugMaxLength bounds the strings printed by the debug call.
const debugMaxLength = 4 * mm.PageSize

// debug prints the NUL-terminated string at RBX to the console. Printing
// stops at the first page the caller cannot access.
func (t *Table) debug(regs *gate.Registers) {
	vm := t.reg.VM()
	addr := uintptr(regs.RBX)

	for printed := uintptr(0); printed < debugMaxLength; {
		if !vm.RegionAccessible(addr, 1) {
			regs.RAX = errInaccessible
			return
		}

		chunk := unsafe.Slice((*byte)(vm.PtrTo(addr)), mm.PageSize-addr&(mm.PageSize-1))
		for i, ch := range chunk {
			if ch == 0 {
				kfmt.Fprintf(kfmt.Output, "%s", chunk[:i])
				return
			}
		}

		kfmt.Fprintf(kfmt.Output, "%s", chunk)
		addr += uintptr(len(chunk))
		printed += uintptr(len(chunk))
	}
}

// debugHex prints RBX in hex.
func (t *Table) debugHex(regs *gate.Registers) {
	kfmt.Fprintf(kfmt.Output, "0x%16x", regs.RBX)
}
