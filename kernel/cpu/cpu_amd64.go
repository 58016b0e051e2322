package cpu

var (
	cpuidFn = ID
)

// FXSaveAreaSize is the size in bytes of the memory region written by FXSave.
// The region must be aligned to a 16-byte boundary.
const FXSaveAreaSize = 512

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution.
func Halt()

// WaitForInterrupt enables interrupts and halts until the next one arrives.
// It is the body of the kernel idle loop.
func WaitForInterrupt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT loads the physical address of a PML4 table into CR3. As a side
// effect, all non-global TLB entries are flushed.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active PML4 table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register. After a page fault,
// CR2 holds the faulting virtual address.
func ReadCR2() uint64

// FXSave stores the x87/SSE register state to the 512-byte area at addr.
func FXSave(addr uintptr)

// FXRstor loads the x87/SSE register state from the 512-byte area at addr.
func FXRstor(addr uintptr)

// FPUInit resets the x87 FPU to its default state.
func FPUInit()

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// HasFXSR returns true if the CPU supports the FXSAVE and FXRSTOR
// instructions (CPUID.01H:EDX bit 24).
func HasFXSR() bool {
	_, _, _, edx := cpuidFn(1)
	return edx&(1<<24) != 0
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
