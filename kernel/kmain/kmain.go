package kmain

import (
	"io"
	"unsafe"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/binary"
	"github.com/zrho/Carbon/kernel/cpu"
	"github.com/zrho/Carbon/kernel/driver/video/console"
	"github.com/zrho/Carbon/kernel/fault"
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/goruntime"
	"github.com/zrho/Carbon/kernel/hal"
	"github.com/zrho/Carbon/kernel/hal/multiboot"
	"github.com/zrho/Carbon/kernel/ipc"
	"github.com/zrho/Carbon/kernel/irq"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/mm"
	"github.com/zrho/Carbon/kernel/mm/kheap"
	"github.com/zrho/Carbon/kernel/mm/pmm"
	"github.com/zrho/Carbon/kernel/mm/vmm"
	"github.com/zrho/Carbon/kernel/sync"
	"github.com/zrho/Carbon/kernel/syscall"
	"github.com/zrho/Carbon/kernel/task"
)

// RootModule is the boot module that holds the root server executable.
const RootModule = "/boot/root.bin"

// maxMemRanges bounds the number of memory map entries passed to the frame
// allocator.
const maxMemRanges = 64

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoRootModule  = &kernel.Error{Module: "kmain", Message: "root module " + RootModule + " not found"}

	frames     pmm.Allocator
	vm         vmm.Manager
	heap       kheap.Heap
	reg        task.Registry
	ipcService ipc.Service
	primitives sync.Primitives
	syscalls   syscall.Table
	faults     fault.Handler

	memRanges [maxMemRanges]pmm.Range

	logger = &kfmt.PrefixWriter{Prefix: []byte("[kmain] ")}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	printHeader(kernelStart, kernelEnd)

	rootMod, found := findRootModule()
	if !found {
		panic(errNoRootModule)
	}

	var err *kernel.Error
	if err = vm.Init(vmm.NativeMMU, &frames); err != nil {
		panic(err)
	}

	// The frame allocator has 256 bootstrap list nodes. The heap backs the
	// rest, so it is attached before any memory is handed over.
	heap.Init(&vm, &frames)
	frames.SetNodeHeap(&heap)
	initFrames(kernelEnd)

	if err = goruntime.Init(&vm, &frames); err != nil {
		panic(err)
	}

	reg.Init(&vm, &frames, &heap, task.NativeFPU{})
	kfmt.SetPanicContext(printCurrent)
	ipcService.Init(&reg)
	primitives.Init(&reg)

	if err = startRoot(rootMod); err != nil {
		panic(err)
	}

	faults.Install(&reg)
	syscalls.Install(&reg, &ipcService, &primitives)
	irq.Init()
	if err = irq.StartTimer(irq.TimerFreq, tick); err != nil {
		panic(err)
	}

	idle()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

func printHeader(kernelStart, kernelEnd uintptr) {
	hal.ActiveTerminal.SetColors(console.White, console.Black)
	kfmt.Printf("---------------------------------------\n")
	kfmt.Printf("Carbon AMD64 Microkernel\n")
	kfmt.Printf("---------------------------------------\n")
	hal.ActiveTerminal.SetColors(console.LightGrey, console.Black)
	kfmt.Fprintf(logger, "kernel image at 0x%x - 0x%x\n", kernelStart, kernelEnd)
}

// findRootModule returns the physical range of the root server image.
func findRootModule() (multiboot.ModuleEntry, bool) {
	var (
		mod   multiboot.ModuleEntry
		found bool
	)

	multiboot.VisitModules(func(entry *multiboot.ModuleEntry) bool {
		if entry.Name != RootModule {
			return true
		}
		mod, found = *entry, true
		return false
	})
	return mod, found
}

// initFrames hands every available frame above the kernel image and the boot
// modules to the frame allocator.
func initFrames(kernelEnd uintptr) {
	freeBegin := kernelEnd
	multiboot.VisitModules(func(entry *multiboot.ModuleEntry) bool {
		if entry.End > freeBegin {
			freeBegin = entry.End
		}
		return true
	})

	count := 0
	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		memRanges[count] = pmm.Range{
			Base:      uintptr(entry.PhysAddress),
			Length:    uintptr(entry.Length),
			Available: entry.Type == multiboot.MemAvailable,
		}
		count++
		return count < maxMemRanges
	})

	frames.Init(freeBegin, memRanges[:count])
}

// startRoot maps the root module into the kernel slot, creates the root
// process from it and thaws its main thread.
func startRoot(mod multiboot.ModuleEntry) *kernel.Error {
	base := mm.AlignDown(mod.Start)
	for addr := base; addr < mod.End; addr += mm.PageSize {
		page := mm.PageFromAddress(mm.ModulesVAddr + addr - base)
		if err := vm.Map(page, mm.FrameFromAddress(addr), vmm.FlagNoExecute); err != nil {
			return err
		}
	}
	image := unsafe.Slice((*byte)(vm.PtrTo(mm.ModulesVAddr+mod.Start-base)), mod.End-mod.Start)

	p, err := reg.SpawnProcess(nil)
	if err != nil {
		return err
	}

	vm.Activate(p.Space)
	entry, err := binary.Load(&vm, &frames, image)
	vm.Activate(vm.Kernel())
	if err != nil {
		return err
	}

	t, err := reg.SpawnThread(p, entry)
	if err != nil {
		return err
	}
	reg.Thaw(t)

	kfmt.Fprintf(logger, "root server pid %d entry 0x%x\n", p.PID, entry)
	return nil
}

// printCurrent reports the thread that was running when the kernel panicked.
func printCurrent(w io.Writer) {
	p, t := reg.Current()
	if t == nil {
		kfmt.Fprintf(w, "no thread running\n")
		return
	}
	kfmt.Fprintf(w, "running pid %d tid %d\n", p.PID, t.TID)
}

// idle enables interrupts and halts until the next one, forever. The
// scheduler returns here whenever no thread is ready.
func idle() {
	cpu.EnableInterrupts()
	for {
		cpu.WaitForInterrupt()
	}
}

// tick drives the scheduler. A tick that interrupts the kernel while no
// thread runs was taken in the idle loop above and its frame becomes the
// idle context.
func tick(regs *gate.Registers) {
	if _, cur := reg.Current(); cur == nil && !regs.UserMode() {
		reg.SetIdle(regs)
	}
	reg.Tick(regs)
}
