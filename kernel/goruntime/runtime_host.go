//go:build !carbon

package goruntime

// The hosted runtime initializes itself before any package code runs.
var (
	mallocInitFn    = func() {}
	algInitFn       = func() {}
	modulesInitFn   = func() {}
	typeLinksInitFn = func() {}
	itabsInitFn     = func() {}
)
