// Package mmtest emulates the parts of an x86-64 machine that the memory
// manager talks to: a block of physical memory, the CR3 register and the
// 4-level page-table walk performed by the MMU. Kernel packages use it in
// their tests in place of real hardware.
package mmtest

import (
	"fmt"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zrho/Carbon/kernel/mm"
)

const (
	entryPresent  = uint64(1 << 0)
	entryRW       = uint64(1 << 1)
	entryUser     = uint64(1 << 2)
	entryAddrMask = uint64(0x000ffffffffff000)
)

// Machine is an emulated MMU backed by anonymous host memory. Physical
// address p lives at byte offset p of the arena. Frame 0 is never handed out.
// The emulation has no TLB, so every PtrTo call observes the current tables.
type Machine struct {
	mem []byte
	cr3 uintptr

	free  []mm.Frame
	inUse map[mm.Frame]bool

	// Flushes counts FlushTLBEntry calls; Switches counts CR3 loads.
	Flushes  int
	Switches int
}

// New maps an arena of the requested number of frames and returns a machine
// whose CR3 points at a fresh PML4. The PML4 maps itself through
// mm.RecursiveSlot and carries an empty kernel PDP in mm.KernelSlot, which
// is the state the boot loader leaves behind.
func New(tb testing.TB, frames int) *Machine {
	tb.Helper()

	mem, err := unix.Mmap(-1, 0, frames*int(mm.PageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		tb.Fatalf("mmtest: unable to map %d frames: %v", frames, err)
	}
	tb.Cleanup(func() { _ = unix.Munmap(mem) })

	m := &Machine{
		mem:   mem,
		inUse: make(map[mm.Frame]bool),
	}
	for f := frames - 1; f > 0; f-- {
		m.free = append(m.free, mm.Frame(f))
	}

	pml4 := m.AllocFrame()
	kernelPDP := m.AllocFrame()
	m.setEntry(pml4.Address(), mm.RecursiveSlot, uint64(pml4.Address())|entryPresent|entryRW)
	m.setEntry(pml4.Address(), mm.KernelSlot, uint64(kernelPDP.Address())|entryPresent|entryRW)
	m.cr3 = pml4.Address()

	return m
}

// AllocFrame hands out a zeroed frame. It panics when the arena is exhausted.
func (m *Machine) AllocFrame() mm.Frame {
	if len(m.free) == 0 {
		panic("mmtest: out of physical memory")
	}

	f := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	m.inUse[f] = true

	page := m.mem[f.Address() : f.Address()+mm.PageSize]
	for i := range page {
		page[i] = 0
	}
	return f
}

// FreeFrame returns a frame to the arena. Releasing a frame that is not
// allocated panics, which catches double frees in the code under test.
func (m *Machine) FreeFrame(f mm.Frame) {
	if !m.inUse[f] {
		panic(fmt.Sprintf("mmtest: free of unallocated frame %#x", f.Address()))
	}

	delete(m.inUse, f)
	m.free = append(m.free, f)
}

// FramesInUse returns the number of frames currently allocated.
func (m *Machine) FramesInUse() int {
	return len(m.inUse)
}

// FramesFree returns the number of frames that can still be allocated.
func (m *Machine) FramesFree() int {
	return len(m.free)
}

// ActivePDT returns the physical address held in CR3.
func (m *Machine) ActivePDT() uintptr {
	return m.cr3
}

// SwitchPDT loads CR3.
func (m *Machine) SwitchPDT(pdtPhysAddr uintptr) {
	m.cr3 = pdtPhysAddr
	m.Switches++
}

// FlushTLBEntry records the flush.
func (m *Machine) FlushTLBEntry(_ uintptr) {
	m.Flushes++
}

// PtrTo translates virtAddr through the active page tables and returns a
// pointer into the arena. Unmapped addresses panic with a page fault.
func (m *Machine) PtrTo(virtAddr uintptr) unsafe.Pointer {
	phys, ok := m.translate(m.cr3, virtAddr, 0)
	if !ok {
		panic(fmt.Sprintf("mmtest: page fault at %#x", virtAddr))
	}

	return unsafe.Pointer(&m.mem[phys])
}

// Translate returns the physical address of virtAddr in the active address
// space.
func (m *Machine) Translate(virtAddr uintptr) (uintptr, bool) {
	return m.translate(m.cr3, virtAddr, 0)
}

// UserMapped returns true if user code could access virtAddr in the active
// address space.
func (m *Machine) UserMapped(virtAddr uintptr) bool {
	_, ok := m.translate(m.cr3, virtAddr, entryUser)
	return ok
}

// UserWritable returns true if user code could write to virtAddr in the
// active address space.
func (m *Machine) UserWritable(virtAddr uintptr) bool {
	_, ok := m.translate(m.cr3, virtAddr, entryUser|entryRW)
	return ok
}

// Write copies data to virtAddr in the active address space.
func (m *Machine) Write(virtAddr uintptr, data []byte) {
	for len(data) > 0 {
		n := int(mm.PageSize - virtAddr&(mm.PageSize-1))
		if n > len(data) {
			n = len(data)
		}
		copy(unsafe.Slice((*byte)(m.PtrTo(virtAddr)), n), data[:n])
		data, virtAddr = data[n:], virtAddr+uintptr(n)
	}
}

// Read copies length bytes starting at virtAddr out of the active address
// space.
func (m *Machine) Read(virtAddr uintptr, length int) []byte {
	out := make([]byte, 0, length)
	for length > 0 {
		n := int(mm.PageSize - virtAddr&(mm.PageSize-1))
		if n > length {
			n = length
		}
		out = append(out, unsafe.Slice((*byte)(m.PtrTo(virtAddr)), n)...)
		length, virtAddr = length-n, virtAddr+uintptr(n)
	}
	return out
}

// PhysEntry returns entry index of the table stored in the given frame. It
// lets tests inspect address spaces that are not active.
func (m *Machine) PhysEntry(table mm.Frame, index int) uint64 {
	return *(*uint64)(unsafe.Pointer(&m.mem[table.Address()+uintptr(index)*8]))
}

// SetPhysEntry overwrites entry index of the table stored in the given frame.
func (m *Machine) SetPhysEntry(table mm.Frame, index int, value uint64) {
	m.setEntry(table.Address(), index, value)
}

func (m *Machine) setEntry(tableAddr uintptr, index int, value uint64) {
	*(*uint64)(unsafe.Pointer(&m.mem[tableAddr+uintptr(index)*8])) = value
}

// translate walks the tables like the MMU does. Every entry on the path must
// carry the required flags.
func (m *Machine) translate(pml4 uintptr, virtAddr uintptr, required uint64) (uintptr, bool) {
	table := pml4
	for shift := uint(39); shift >= 12; shift -= 9 {
		index := (virtAddr >> shift) & 511
		entry := *(*uint64)(unsafe.Pointer(&m.mem[table+index*8]))
		if entry&entryPresent == 0 {
			return 0, false
		}
		if entry&required != required {
			return 0, false
		}

		table = uintptr(entry & entryAddrMask)
		if int(table) >= len(m.mem) {
			return 0, false
		}
	}

	return table + virtAddr&(mm.PageSize-1), true
}

// NopFPU satisfies the kernel's FPU state interface without touching the
// host FPU. It counts calls so tests can check when state is saved.
type NopFPU struct {
	Saves, Restores, Inits int
}

// Save records an FXSAVE.
func (f *NopFPU) Save(_ uintptr) { f.Saves++ }

// Restore records an FXRSTOR.
func (f *NopFPU) Restore(_ uintptr) { f.Restores++ }

// Init records an FNINIT.
func (f *NopFPU) Init() { f.Inits++ }
