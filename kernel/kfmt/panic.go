package kfmt

import (
	"io"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/cpu"
)

const panicRule = "\n-----------------------------------\n"

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}

	// panicContextFn describes the state the kernel was in when it
	// panicked. It is skipped if it panics itself.
	panicContextFn func(io.Writer)
	inPanic        bool
)

// SetPanicContext installs fn to be called by Panic after the error has
// been printed.
func SetPanicContext(fn func(w io.Writer)) {
	panicContextFn = fn
}

// Panic prints e (if not nil) to the console and halts the CPU. It never
// returns. Fatal kernel invariant violations are raised with panic(err);
// tools/redirects patches runtime.gopanic so that those calls end up here.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf(panicRule)
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	if panicContextFn != nil && !inPanic {
		inPanic = true
		panicContextFn(Output)
	}
	Printf("*** kernel panic: system halted ***")
	Printf(panicRule)

	cpuHaltFn()
}

// panicString is the redirect target for runtime.throw.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
