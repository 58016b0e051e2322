package vmm

import (
	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/mm"
)

// Map establishes a mapping between a virtual page and a physical memory frame
// using the currently active page directory table. Missing page tables are
// allocated from the frame allocator. An existing mapping for the page is
// silently replaced. FlagPresent is always added to flags.
func (m *Manager) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	addr := page.Address()
	if mm.PML4Index(addr) == mm.RecursiveSlot {
		return ErrReservedSlot
	}

	if !m.ensurePath(addr, LevelPT, true) {
		return errNoHugePageSupport
	}

	pte := m.entryAt(entryAddr(addr, LevelPT))
	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(FlagPresent | flags)
	m.mmu.FlushTLBEntry(addr)
	return nil
}

// Unmap removes a mapping previously installed via a call to Map. Unmapping
// a page that was never mapped is a no-op. The frame is not released.
func (m *Manager) Unmap(page mm.Page) *kernel.Error {
	_, err := m.unmap(page)
	return err
}

// UnmapFree removes the mapping for page and returns its frame to the frame
// allocator. It reports whether a mapping was removed.
func (m *Manager) UnmapFree(page mm.Page) bool {
	frame, _ := m.unmap(page)
	if !frame.Valid() {
		return false
	}

	m.frames.FreeFrame(frame)
	return true
}

func (m *Manager) unmap(page mm.Page) (mm.Frame, *kernel.Error) {
	addr := page.Address()
	if mm.PML4Index(addr) == mm.RecursiveSlot {
		return mm.InvalidFrame, ErrReservedSlot
	}

	if !m.ensurePath(addr, LevelPT, false) {
		return mm.InvalidFrame, nil
	}

	pte := m.entryAt(entryAddr(addr, LevelPT))
	if !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame, nil
	}

	pte.ClearFlags(FlagPresent)
	m.mmu.FlushTLBEntry(addr)
	return pte.Frame(), nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (m *Manager) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := m.pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	return pte.Frame().Address() + (virtAddr & (mm.PageSize - 1)), nil
}

// pteForAddress returns the final page table entry that corresponds to a
// particular virtual address, or ErrInvalidMapping if the page is not present.
func (m *Manager) pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	m.walk(virtAddr, func(level Level, _ uintptr, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		if level < LevelPT && pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}

// UserAccessible returns true if user code may access virtAddr in the active
// address space, which requires the present and user flags at every level.
func (m *Manager) UserAccessible(virtAddr uintptr) bool {
	if mm.PML4Index(virtAddr) >= mm.KernelSlot {
		return false
	}

	accessible := true
	m.walk(virtAddr, func(_ Level, _ uintptr, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent|FlagUserAccessible) || pte.HasFlags(FlagHugePage) {
			accessible = false
			return false
		}
		return true
	})

	return accessible
}

// RegionAccessible returns true if every page touched by the range
// [virtAddr, virtAddr+length) is user accessible. An empty range checks the
// page that contains virtAddr.
func (m *Manager) RegionAccessible(virtAddr, length uintptr) bool {
	last := virtAddr
	if length > 0 {
		last = virtAddr + length - 1
		if last < virtAddr {
			return false
		}
	}

	for page := mm.AlignDown(virtAddr); ; page += mm.PageSize {
		if !m.UserAccessible(page) {
			return false
		}
		if page == mm.AlignDown(last) {
			return true
		}
	}
}
