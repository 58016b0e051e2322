package task

import "github.com/zrho/Carbon/kernel/cpu"

// FPU saves and restores the x87/SSE state of threads. Threads get a fresh
// state on their first run.
type FPU interface {
	Save(addr uintptr)
	Restore(addr uintptr)
	Init()
}

// NativeFPU uses FXSAVE and FXRSTOR.
type NativeFPU struct{}

func (NativeFPU) Save(addr uintptr)    { cpu.FXSave(addr) }
func (NativeFPU) Restore(addr uintptr) { cpu.FXRstor(addr) }
func (NativeFPU) Init()                { cpu.FPUInit() }
