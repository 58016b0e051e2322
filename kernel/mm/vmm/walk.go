package vmm

import (
	"github.com/zrho/Carbon/kernel/mm"
)

// Level identifies a paging level. The table at LevelPML4 is the root; the
// entries of a LevelPT table point at data pages.
type Level uint8

const (
	LevelPML4 Level = iota
	LevelPDP
	LevelPD
	LevelPT

	pageLevels = 4
)

// pageLevelShifts defines the shift required to access each page table
// component of a virtual address.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

// pageTableWalker is invoked by walk for the entry that translates virtAddr
// at each paging level. Returning false aborts the walk.
type pageTableWalker func(level Level, entryAddr uintptr, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address through the
// recursive mapping of the active PML4, starting at the top level.
func (m *Manager) walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		tableAddr, entryAddr uintptr
		level                Level
	)

	// tableAddr starts at the recursively mapped PML4. Shifting an entry's
	// address left by 9 bits adds one more trip through the recursive slot
	// and lands on the table that the entry points to.
	for level, tableAddr = LevelPML4, mm.PML4VAddr; level < pageLevels; level, tableAddr = level+1, entryAddr<<9 {
		entryAddr = tableAddr + (entryIndex(virtAddr, level) << mm.PointerShift)

		if !walkFn(level, entryAddr, m.entryAt(entryAddr)) {
			return
		}
	}
}

// entryIndex extracts the table index for a paging level from a virtual
// address.
func entryIndex(virtAddr uintptr, level Level) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & 511
}

// entryAddr returns the recursive address of the entry that translates
// virtAddr at the given level.
func entryAddr(virtAddr uintptr, level Level) uintptr {
	tableAddr := mm.PML4VAddr
	for l := LevelPML4; l < level; l++ {
		tableAddr = (tableAddr + (entryIndex(virtAddr, l) << mm.PointerShift)) << 9
	}
	return tableAddr + (entryIndex(virtAddr, level) << mm.PointerShift)
}

func (m *Manager) entryAt(entryAddr uintptr) *pageTableEntry {
	return (*pageTableEntry)(m.mmu.PtrTo(entryAddr))
}

// ensurePath walks from the PML4 down to the table at level deepest and
// reports whether it exists. Missing tables are allocated when create is set.
// Huge pages are not supported and end the walk.
func (m *Manager) ensurePath(virtAddr uintptr, deepest Level, create bool) bool {
	ok := true

	m.walk(virtAddr, func(level Level, entryAddr uintptr, pte *pageTableEntry) bool {
		if level >= deepest {
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			ok = false
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			if !create {
				ok = false
				return false
			}

			*pte = 0
			pte.SetFrame(m.frames.AllocFrame())
			pte.SetFlags(tableFlags)

			// The new table is reachable through the recursive mapping
			// but any stale translation for its address must go first.
			tableAddr := entryAddr << 9
			m.mmu.FlushTLBEntry(tableAddr)
			m.zeroPage(tableAddr)
		}

		return true
	})

	return ok
}

func (m *Manager) zeroPage(virtAddr uintptr) {
	table := (*[512]pageTableEntry)(m.mmu.PtrTo(virtAddr))
	for i := range table {
		table[i] = 0
	}
}
