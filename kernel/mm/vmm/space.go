package vmm

import (
	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/mm"
)

// AddressSpace identifies a virtual address space by the frame of its PML4.
// Every address space maps itself through mm.RecursiveSlot and shares the
// kernel's mm.KernelSlot table.
type AddressSpace struct {
	pml4 mm.Frame
}

// Frame returns the physical frame of the address space's PML4.
func (as AddressSpace) Frame() mm.Frame {
	return as.pml4
}

// SpaceGuard restores a previously active address space.
type SpaceGuard struct {
	m    *Manager
	prev AddressSpace
}

// Restore switches back to the address space that was active when the guard
// was created. Calling it more than once has no further effect.
func (g SpaceGuard) Restore() {
	if g.m != nil && g.m.Active() != g.prev {
		g.m.Activate(g.prev)
	}
}

// Active returns the address space whose PML4 is loaded.
func (m *Manager) Active() AddressSpace {
	return AddressSpace{pml4: mm.FrameFromAddress(m.mmu.ActivePDT())}
}

// Activate loads the address space into CR3. The kernel slot is shared, so
// kernel code keeps running across the switch.
func (m *Manager) Activate(as AddressSpace) {
	m.mmu.SwitchPDT(as.pml4.Address())
}

// Switch activates as and returns a guard that switches back:
//
//	defer vm.Switch(as).Restore()
func (m *Manager) Switch(as AddressSpace) SpaceGuard {
	g := SpaceGuard{m: m, prev: m.Active()}
	if g.prev != as {
		m.Activate(as)
	}
	return g
}

// Kernel returns the address space that was active when the manager was
// initialised.
func (m *Manager) Kernel() AddressSpace {
	return m.kernel
}

// Create allocates an address space that shares the kernel slot with the
// active one. The new PML4 is initialised through the helper page since it
// is not reachable through the recursive mapping.
func (m *Manager) Create() (AddressSpace, *kernel.Error) {
	frame := m.frames.AllocFrame()
	helper := mm.PageFromAddress(mm.SpaceHelperVAddr)
	if err := m.Map(helper, frame, FlagRW); err != nil {
		m.frames.FreeFrame(frame)
		return AddressSpace{}, err
	}

	m.zeroPage(mm.SpaceHelperVAddr)
	pml4 := (*[512]pageTableEntry)(m.mmu.PtrTo(mm.SpaceHelperVAddr))
	active := (*[512]pageTableEntry)(m.mmu.PtrTo(mm.PML4VAddr))

	pml4[mm.KernelSlot] = active[mm.KernelSlot]
	pml4[mm.RecursiveSlot].SetFrame(frame)
	pml4[mm.RecursiveSlot].SetFlags(FlagPresent | FlagRW)

	_ = m.Unmap(helper)
	return AddressSpace{pml4: frame}, nil
}

// Dispose releases every table and mapped frame below the kernel slot of as
// and finally its PML4. Disposing the active address space panics.
func (m *Manager) Dispose(as AddressSpace) {
	if as == m.Active() {
		panic(ErrDisposeActive)
	}

	b := m.borrow(as)
	for i := uintptr(0); i < mm.KernelSlot; i++ {
		addr := mm.PML4VAddr + i<<mm.PointerShift
		pte := m.entryAt(addr)
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		m.disposeTable(addr<<9, LevelPDP)
		m.frames.FreeFrame(pte.Frame())
		*pte = 0
	}
	m.giveBack(b)

	m.frames.FreeFrame(as.pml4)
}

// borrowedSlot remembers the recursive entry of the active PML4 while it
// points at another address space.
type borrowedSlot struct {
	slot  *pageTableEntry
	owner mm.Frame
}

// borrow points the recursive slot of the active PML4 at the PML4 of as, so
// the recursive window shows the tables of as while the kernel keeps running
// in the active space. The active PML4 itself is reached through the helper
// page because PML4VAddr follows the borrowed slot. Borrows do not nest.
func (m *Manager) borrow(as AddressSpace) borrowedSlot {
	owner := m.Active().pml4
	if err := m.Map(mm.PageFromAddress(mm.SpaceHelperVAddr), owner, FlagRW); err != nil {
		panic(err)
	}

	b := borrowedSlot{
		slot:  (*pageTableEntry)(m.mmu.PtrTo(mm.SpaceHelperVAddr + mm.RecursiveSlot<<mm.PointerShift)),
		owner: owner,
	}
	b.slot.SetFrame(as.pml4)
	m.flushAll()
	return b
}

func (m *Manager) giveBack(b borrowedSlot) {
	b.slot.SetFrame(b.owner)
	m.flushAll()
	_ = m.Unmap(mm.PageFromAddress(mm.SpaceHelperVAddr))
}
