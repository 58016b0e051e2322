package vmm

import (
	"github.com/zrho/Carbon/kernel/mm"
)

// Subtree owns a page table that has been detached from an address space
// together with everything below it. The zero value is an empty subtree.
type Subtree struct {
	node  mm.Frame
	level Level
	valid bool
}

// Empty returns true if the subtree holds no table.
func (s Subtree) Empty() bool {
	return !s.valid
}

// Level returns the paging level of the subtree's root table.
func (s Subtree) Level() Level {
	return s.level
}

// ExtractSubtree detaches the table at the given level that covers virtAddr
// from the active address space. The parent entry is cleared and the TLB is
// flushed. If no table is present an empty subtree is returned.
func (m *Manager) ExtractSubtree(virtAddr uintptr, level Level) Subtree {
	m.checkMovable(virtAddr, level)

	if !m.ensurePath(virtAddr, level-1, false) {
		return Subtree{}
	}

	parent := m.entryAt(entryAddr(virtAddr, level-1))
	if !parent.HasFlags(FlagPresent) {
		return Subtree{}
	}

	s := Subtree{node: parent.Frame(), level: level, valid: true}
	*parent = 0
	m.flushAll()
	return s
}

// InsertSubtree installs s as the table at s.Level() covering virtAddr in the
// active address space. Missing parent tables are created. Whatever occupied
// the slot is released together with all its descendants, including the
// frames of mapped pages. Inserting an empty subtree releases the page table
// covering virtAddr and leaves the slot empty.
func (m *Manager) InsertSubtree(virtAddr uintptr, s Subtree) {
	level := s.level
	if s.Empty() {
		level = LevelPT
	}
	m.checkMovable(virtAddr, level)

	if !m.ensurePath(virtAddr, level-1, s.valid) {
		return
	}

	parentAddr := entryAddr(virtAddr, level-1)
	parent := m.entryAt(parentAddr)
	if parent.HasFlags(FlagPresent) {
		m.disposeTable(parentAddr<<9, level)
		m.frames.FreeFrame(parent.Frame())
		*parent = 0
	}

	if s.valid {
		parent.SetFrame(s.node)
		parent.SetFlags(tableFlags)
	}
	m.flushAll()
}

// checkMovable panics for subtrees that cannot be moved: the PML4 itself and
// anything under the kernel or recursive slots.
func (m *Manager) checkMovable(virtAddr uintptr, level Level) {
	if level == LevelPML4 || level >= pageLevels || mm.PML4Index(virtAddr) >= mm.KernelSlot {
		panic(ErrReservedSlot)
	}
}

// disposeTable releases every present entry of the table mapped at the
// recursive address tableAddr. Entries of tables above LevelPT are released
// recursively. The table's own frame is left to the caller.
func (m *Manager) disposeTable(tableAddr uintptr, level Level) {
	for i := uintptr(0); i < 512; i++ {
		entryAddr := tableAddr + i<<mm.PointerShift
		pte := m.entryAt(entryAddr)
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		if level < LevelPT && !pte.HasFlags(FlagHugePage) {
			m.disposeTable(entryAddr<<9, level+1)
		}
		m.frames.FreeFrame(pte.Frame())
		*pte = 0
	}
}

// flushAll drops every non-global TLB entry by reloading CR3.
func (m *Manager) flushAll() {
	m.mmu.SwitchPDT(m.mmu.ActivePDT())
}
