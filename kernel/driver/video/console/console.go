// Package console drives the VGA text-mode frame buffer used for kernel log
// output.
package console

// Attr is a VGA cell attribute: the foreground color in the low nibble and
// the background color in the high nibble.
type Attr uint16

// Colors of the standard VGA text-mode palette. Kernel output only needs a
// few of them.
const (
	Black     Attr = 0
	Red       Attr = 4
	LightGrey Attr = 7
	White     Attr = 15
)

// MakeAttr combines a foreground and a background color.
func MakeAttr(fg, bg Attr) Attr {
	return (bg&0xF)<<4 | fg&0xF
}

// ScrollDir is the direction of a Scroll call.
type ScrollDir uint8

// Scroll directions.
const (
	Up ScrollDir = iota
	Down
)
