// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator. The runtime's OS memory hooks are redirected to
// this package and served from the range starting at mm.GoRuntimeVAddr.
package goruntime

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/irq"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/mm"
	"github.com/zrho/Carbon/kernel/mm/vmm"
)

// PageMapper maps kernel pages into the active address space.
type PageMapper interface {
	Map(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error
	PtrTo(virtAddr uintptr) unsafe.Pointer
}

var (
	errRangeExhausted = &kernel.Error{Module: "goruntime", Message: "runtime address range exhausted"}

	pageMapper PageMapper
	frames     mm.FrameAllocator

	reserveRegionFn = reserveRegion

	// nextRegion is the start of the part of the runtime range that has
	// not been reserved yet.
	nextRegion = mm.GoRuntimeVAddr

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de

	logger = &kfmt.PrefixWriter{Prefix: []byte("[goruntime] ")}
)

// reserveRegion hands out size bytes, rounded up to whole pages, of the
// runtime range.
func reserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = mm.AlignUp(size)
	if size > mm.GoRuntimeVAddr+mm.GoRuntimeMaxLength-nextRegion {
		return 0, errRangeExhausted
	}

	addr := nextRegion
	nextRegion += size
	return addr, nil
}

// mapRegion backs [addr, addr+size) with zeroed frames.
//
//go:nosplit
func mapRegion(addr, size uintptr) *kernel.Error {
	for end := addr + mm.AlignUp(size); addr < end; addr += mm.PageSize {
		if err := pageMapper.Map(mm.PageFromAddress(addr), frames.AllocFrame(), vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
		kernel.Memset(uintptr(pageMapper.PtrTo(addr)), 0, mm.PageSize)
	}
	return nil
}

// sysReserveOS reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserveOS and is required for
// initializing the Go allocator.
//
//go:redirect-from runtime.sysReserveOS
//go:nosplit
func sysReserveOS(_ unsafe.Pointer, size uintptr) unsafe.Pointer {
	regionStartAddr, err := reserveRegionFn(size)
	if err != nil {
		panic(err)
	}

	return unsafe.Pointer(regionStartAddr)
}

// sysMapOS backs a region that has been reserved previously via a call to
// sysReserveOS with zeroed memory.
//
// This function replaces runtime.sysMapOS.
//
//go:redirect-from runtime.sysMapOS
//go:nosplit
func sysMapOS(virtAddr unsafe.Pointer, size uintptr) {
	// We trust the allocator to call sysMapOS with an address inside a
	// reserved region.
	if err := mapRegion(mm.AlignDown(uintptr(virtAddr)), size); err != nil {
		panic(err)
	}
}

// sysAllocOS reserves enough physical frames to satisfy the allocation
// request and establishes a contiguous virtual page mapping for them
// returning back the pointer to the virtual region start.
//
// This function replaces runtime.sysAllocOS.
//
//go:redirect-from runtime.sysAllocOS
//go:nosplit
func sysAllocOS(size uintptr) unsafe.Pointer {
	regionStartAddr, err := reserveRegionFn(size)
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	if err = mapRegion(regionStartAddr, size); err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	return unsafe.Pointer(regionStartAddr)
}

// nanotime1 returns a monotonically increasing clock value derived from the
// scheduler tick.
//
// This function replaces runtime.nanotime1 and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime1
//go:nosplit
func nanotime1() int64 {
	return int64(irq.Ticks()) * (1e9 / irq.TimerFreq)
}

// getRandomData populates the given slice with random data. The
// implementation in the runtime package reads a random stream from
// /dev/urandom but since this is not available, we use a prng instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. After a call to init
// the following runtime features become available for use:
//   - heap memory allocation (new, make e.t.c)
//   - closures and method values that escape
//   - map primitives
//   - interfaces
func Init(vm PageMapper, frameAllocator mm.FrameAllocator) *kernel.Error {
	pageMapper, frames = vm, frameAllocator

	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	kfmt.Fprintf(logger, "allocator backed by 0x%16x\n", mm.GoRuntimeVAddr)
	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var zeroPtr = unsafe.Pointer(uintptr(0))

	sysReserveOS(zeroPtr, 0)
	sysMapOS(zeroPtr, 0)
	sysAllocOS(0)
	getRandomData(nil)
	_ = nanotime1()
}
