package mm

// Virtual memory layout. Every address space shares PML4 slot KernelSlot
// (kernel image, heap and fixed helper pages) and maps its own page tables
// into RecursiveSlot. Slots below KernelSlot are private to a process.
const (
	// RecursiveSlot is the PML4 entry that points back at the PML4 itself.
	RecursiveSlot = 511

	// KernelSlot is the PML4 entry shared by all address spaces.
	KernelSlot = 510

	// RecursiveVAddr is the start of the window through which the active
	// address space's page tables are visible.
	RecursiveVAddr = uintptr(0xFFFFFF8000000000)

	// PML4VAddr is the address of the active PML4 table when accessed
	// through the recursive mapping.
	PML4VAddr = uintptr(0xFFFFFFFFFFFFF000)

	// ModulesVAddr is where boot modules are mapped.
	ModulesVAddr = uintptr(0xFFFFFF2000000000)

	// GoRuntimeVAddr is the start of the range backing the Go allocator.
	GoRuntimeVAddr = uintptr(0xFFFFFF4000000000)

	// GoRuntimeMaxLength bounds the Go allocator's virtual range.
	GoRuntimeMaxLength = uintptr(0x2000000000)

	// HeapVAddr is the start of the kernel heap.
	HeapVAddr = uintptr(0xFFFFFF6000000000)

	// HeapMaxLength bounds the kernel heap's virtual range.
	HeapMaxLength = uintptr(0x2000000000 - 0x8000)

	// BootInfoVAddr is where the multiboot info block is mapped.
	BootInfoVAddr = RecursiveVAddr - 0x1000

	// VideoVAddr is where the text-mode frame buffer is mapped.
	VideoVAddr = RecursiveVAddr - 0x2000

	// SpaceHelperVAddr is a scratch page used to initialise page tables of
	// address spaces that are not active.
	SpaceHelperVAddr = RecursiveVAddr - 0x5000

	// UserStackVAddr is the start of the per-process stack area.
	UserStackVAddr = uintptr(0xFFFFFE8000000000)

	// IPCSendVAddr is the start of the per-thread send buffers.
	IPCSendVAddr = uintptr(0xFFFFFE0000000000)

	// IPCRecvVAddr is the start of the per-thread receive buffers.
	IPCRecvVAddr = uintptr(0xFFFFFD8000000000)
)

// PML4Index returns the PML4 slot that translates virtAddr.
func PML4Index(virtAddr uintptr) int {
	return int((virtAddr >> 39) & 511)
}
