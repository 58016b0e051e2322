package console

import (
	"unsafe"

	"github.com/zrho/Carbon/kernel/cpu"
)

const (
	clearColor = Black
	clearChar  = byte(' ')

	// CRT controller ports and the cursor location registers.
	crtcIndex     = 0x3D4
	crtcData      = 0x3D5
	crtcCursorHi  = 14
	crtcCursorLow = 15
)

var (
	// portWriteByteFn is mocked by tests.
	portWriteByteFn = cpu.PortWriteByte
)

// Vga drives a text-mode frame buffer of width x height cells. Each cell is
// a 16-bit value holding the character in the low byte and its color
// attribute in the high byte.
type Vga struct {
	width  uint16
	height uint16

	fb []uint16

	cursor bool
}

// Init attaches the console to the frame buffer mapped at fbAddr.
func (cons *Vga) Init(width, height uint16, fbAddr uintptr) {
	cons.width = width
	cons.height = height
	cons.fb = unsafe.Slice((*uint16)(unsafe.Pointer(fbAddr)), int(width)*int(height))
}

// Clear clears the specified rectangular region.
func (cons *Vga) Clear(x, y, width, height uint16) {
	var (
		clr                  = uint16(clearColor<<4|clearColor)<<8 | uint16(clearChar)
		rowOffset, colOffset uint16
	)

	// clip rectangle
	if x >= cons.width {
		x = cons.width
	}
	if y >= cons.height {
		y = cons.height
	}

	if x+width > cons.width {
		width = cons.width - x
	}
	if y+height > cons.height {
		height = cons.height - y
	}

	rowOffset = (y * cons.width) + x
	for ; height > 0; height, rowOffset = height-1, rowOffset+cons.width {
		for colOffset = rowOffset; colOffset < rowOffset+width; colOffset++ {
			cons.fb[colOffset] = clr
		}
	}
}

// Dimensions returns the console width and height in characters.
func (cons *Vga) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// Scroll moves the contents of the console by the given number of lines.
func (cons *Vga) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	var i uint16
	offset := lines * cons.width

	switch dir {
	case Up:
		for ; i < (cons.height-lines)*cons.width; i++ {
			cons.fb[i] = cons.fb[i+offset]
		}
	case Down:
		for i = cons.height*cons.width - 1; i >= lines*cons.width; i-- {
			cons.fb[i] = cons.fb[i-offset]
		}
	}
}

// Write places a character at the specified location. Writes outside the
// console are ignored.
func (cons *Vga) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	cons.fb[(y*cons.width)+x] = (uint16(attr) << 8) | uint16(ch)
}

// EnableCursor makes SetCursor move the hardware cursor.
func (cons *Vga) EnableCursor() {
	cons.cursor = true
}

// SetCursor moves the hardware cursor to (x, y). It does nothing unless
// EnableCursor was called.
func (cons *Vga) SetCursor(x, y uint16) {
	if !cons.cursor || x >= cons.width || y >= cons.height {
		return
	}

	loc := y*cons.width + x
	portWriteByteFn(crtcIndex, crtcCursorHi)
	portWriteByteFn(crtcData, uint8(loc>>8))
	portWriteByteFn(crtcIndex, crtcCursorLow)
	portWriteByteFn(crtcData, uint8(loc))
}
