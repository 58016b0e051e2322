// Package irq drives the legacy interrupt hardware: the two cascaded 8259
// PICs and channel 0 of the 8253/8254 PIT, which provides the scheduler tick.
package irq

import (
	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/cpu"
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/kfmt"
)

const (
	pic1Command = 0x20
	pic1Data    = 0x21
	pic2Command = 0xA0
	pic2Data    = 0xA1

	icw1Init   = 0x10
	icw1ICW4   = 0x01
	icw4Mode86 = 0x01
	cmdEOI     = 0x20

	// cascadeLine connects the second PIC to the first one.
	cascadeLine = 2

	pitCommand  = 0x43
	pitChannel0 = 0x40

	// pitSquareWave selects channel 0, lobyte/hibyte access and mode 3.
	pitSquareWave = 0x36

	// pitBaseFreq is the input clock of the PIT in Hz.
	pitBaseFreq = 1193180
)

const (
	// LineCount is the number of IRQ lines served by the two PICs.
	LineCount = 16

	// TimerLine is the IRQ line of PIT channel 0.
	TimerLine = 0

	// Timer is the vector the PIT raises after the PICs have been remapped.
	Timer = gate.IRQBase + TimerLine

	// TimerFreq is the tick rate of the scheduler in Hz.
	TimerFreq = 256
)

var (
	// ErrTimerFrequency is returned for a frequency the PIT cannot generate.
	ErrTimerFrequency = &kernel.Error{Module: "irq", Message: "timer frequency out of range"}

	// Port access is mocked by tests.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	ticks uint64

	logger = &kfmt.PrefixWriter{Prefix: []byte("[irq] ")}
)

// Init remaps IRQ 0 to 15 onto the vectors starting at gate.IRQBase so they
// no longer collide with CPU exceptions, and masks every line except the
// cascade.
func Init() {
	portWriteByteFn(pic1Command, icw1Init|icw1ICW4)
	portWriteByteFn(pic2Command, icw1Init|icw1ICW4)

	portWriteByteFn(pic1Data, uint8(gate.IRQBase))
	portWriteByteFn(pic2Data, uint8(gate.IRQBase)+8)

	portWriteByteFn(pic1Data, 1<<cascadeLine)
	portWriteByteFn(pic2Data, cascadeLine)

	portWriteByteFn(pic1Data, icw4Mode86)
	portWriteByteFn(pic2Data, icw4Mode86)

	portWriteByteFn(pic1Data, 0xFF&^(1<<cascadeLine))
	portWriteByteFn(pic2Data, 0xFF)

	kfmt.Fprintf(logger, "remapped IRQ lines to vectors %d-%d\n", uint8(gate.IRQBase), uint8(gate.IRQBase)+LineCount-1)
}

// Mask stops the PIC from raising the given line. The cascade line cannot be
// masked.
func Mask(line uint8) {
	if line == cascadeLine || line >= LineCount {
		return
	}

	port, bit := lineMaskPort(line)
	portWriteByteFn(port, portReadByteFn(port)|bit)
}

// Unmask lets the PIC raise the given line.
func Unmask(line uint8) {
	if line == cascadeLine || line >= LineCount {
		return
	}

	port, bit := lineMaskPort(line)
	portWriteByteFn(port, portReadByteFn(port)&^bit)
}

// Acknowledge signals the end of the interrupt raised by line. Lines of the
// second PIC need an EOI on both controllers.
func Acknowledge(line uint8) {
	if line >= 8 {
		portWriteByteFn(pic2Command, cmdEOI)
	}
	portWriteByteFn(pic1Command, cmdEOI)
}

// StartTimer programs PIT channel 0 to fire hz times per second and unmasks
// its line. Every tick is acknowledged and then passed to tick.
func StartTimer(hz uint32, tick gate.Handler) *kernel.Error {
	if hz == 0 {
		return ErrTimerFrequency
	}
	divider := pitBaseFreq / hz
	if divider == 0 || divider >= 1<<16 {
		return ErrTimerFrequency
	}

	gate.HandleInterrupt(Timer, func(regs *gate.Registers) {
		ticks++
		Acknowledge(TimerLine)
		tick(regs)
	})

	portWriteByteFn(pitCommand, pitSquareWave)
	portWriteByteFn(pitChannel0, uint8(divider))
	portWriteByteFn(pitChannel0, uint8(divider>>8))
	Unmask(TimerLine)

	kfmt.Fprintf(logger, "timer running at %d Hz\n", hz)
	return nil
}

// Ticks returns the number of timer interrupts since StartTimer.
func Ticks() uint64 {
	return ticks
}

func lineMaskPort(line uint8) (uint16, uint8) {
	if line >= 8 {
		return pic2Data, 1 << (line - 8)
	}
	return pic1Data, 1 << line
}
