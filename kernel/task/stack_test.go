package task

import (
	"testing"

	"github.com/zrho/Carbon/kernel/mm"
)

func TestStackFor(t *testing.T) {
	specs := []struct {
		tid    int
		expTop uintptr
	}{
		{0, mm.UserStackVAddr + 0x200000},
		{1, mm.UserStackVAddr + 0x400000},
		{ThreadMax - 1, mm.UserStackVAddr + ThreadMax*0x200000},
	}

	for specIndex, spec := range specs {
		s := StackFor(spec.tid)
		if s.Top != spec.expTop || s.Length != 0 {
			t.Errorf("[spec %d] expected empty stack at %#x; got %+v", specIndex, spec.expTop, s)
		}
		if s.Top-mm.UserStackVAddr > StackProcessMax {
			t.Errorf("[spec %d] expected stack to lie inside the stack area", specIndex)
		}
	}
}

func TestStackResize(t *testing.T) {
	f := newFixture(t)
	s := StackFor(3)

	s.Resize(f.vm, f.machine, 3*mm.PageSize-100)
	if exp, got := 3*mm.PageSize, s.Length; exp != got {
		t.Fatalf("expected length %d; got %d", exp, got)
	}
	inUse := f.machine.FramesInUse()

	for _, addr := range []uintptr{s.Top - 1, s.Top - 3*mm.PageSize} {
		if !f.machine.UserMapped(addr) {
			t.Errorf("expected %#x to be mapped", addr)
		}
	}
	if f.machine.UserMapped(s.Top - 3*mm.PageSize - 1) {
		t.Error("expected the page below the stack to stay unmapped")
	}
	for i, b := range f.machine.Read(s.Top-3*mm.PageSize, int(3*mm.PageSize)) {
		if b != 0 {
			t.Fatalf("expected stack to be zeroed; byte %d is %d", i, b)
		}
	}

	s.Resize(f.vm, f.machine, mm.PageSize)
	if exp, got := inUse-2, f.machine.FramesInUse(); exp != got {
		t.Errorf("expected shrinking to release 2 frames; %d in use, want %d", got, exp)
	}
	if f.machine.UserMapped(s.Top - 2*mm.PageSize) {
		t.Error("expected released pages to be unmapped")
	}

	expectPanic(t, ErrStackOverflow, func() { s.Resize(f.vm, f.machine, StackLengthMax+1) })
}

func TestStackGrowTo(t *testing.T) {
	f := newFixture(t)
	s := StackFor(0)
	s.Resize(f.vm, f.machine, mm.PageSize)

	specs := []struct {
		addr      uintptr
		expGrow   bool
		expLength uintptr
	}{
		{s.Top - 5*mm.PageSize + 8, true, 5 * mm.PageSize},
		{s.Top - 1, false, 5 * mm.PageSize},
		{s.Top, false, 5 * mm.PageSize},
		{s.Top - StackLengthMax - 1, false, 5 * mm.PageSize},
		{s.Top - StackLengthMax, true, StackLengthMax},
	}

	for specIndex, spec := range specs {
		if got := s.GrowTo(f.vm, f.machine, spec.addr); got != spec.expGrow {
			t.Errorf("[spec %d] expected GrowTo(%#x) to return %t; got %t", specIndex, spec.addr, spec.expGrow, got)
		}
		if s.Length != spec.expLength {
			t.Errorf("[spec %d] expected length %d; got %d", specIndex, spec.expLength, s.Length)
		}
	}
}
