// Package hal wires the boot console to the kernel's log output.
package hal

import (
	"github.com/zrho/Carbon/kernel/driver/tty"
	"github.com/zrho/Carbon/kernel/driver/video/console"
	"github.com/zrho/Carbon/kernel/hal/multiboot"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/mm"
)

const (
	defaultWidth  = 80
	defaultHeight = 25
)

var (
	vgaConsole = &console.Vga{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal attaches a terminal to the text-mode frame buffer that the
// boot stage mapped at mm.VideoVAddr and makes it the kfmt output sink.
func InitTerminal() {
	width, height := uint16(defaultWidth), uint16(defaultHeight)
	if fbInfo := multiboot.GetFramebufferInfo(); fbInfo != nil && fbInfo.Type == multiboot.FramebufferTypeEGA {
		width, height = uint16(fbInfo.Width), uint16(fbInfo.Height)
	}

	vgaConsole.Init(width, height, mm.VideoVAddr)
	vgaConsole.EnableCursor()
	ActiveTerminal.AttachTo(vgaConsole)
	ActiveTerminal.Clear()
	kfmt.SetOutputSink(ActiveTerminal)
}
