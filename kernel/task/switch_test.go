package task

import (
	"testing"

	"github.com/zrho/Carbon/kernel/gate"
)

func TestSwitch(t *testing.T) {
	f := newFixture(t)
	p0, t0 := f.spawn(t, nil, 1)
	p1, t1 := f.spawn(t, p0, 1)

	idle := gate.Registers{RIP: 0xdead, CS: 0x08}
	f.reg.SetIdle(&idle)

	var regs gate.Registers
	f.reg.Switch(t0[0], &regs)
	if proc, th := f.reg.Current(); proc != p0 || th != t0[0] {
		t.Fatal("expected first thread to be current")
	}
	if regs.RIP != 0x400000 || f.vm.Active() != p0.Space {
		t.Errorf("expected context and space of the first thread; got rip %#x", regs.RIP)
	}
	if f.fpu.Inits != 1 {
		t.Errorf("expected a fresh FPU state; got %d inits", f.fpu.Inits)
	}

	regs.RAX = 7
	f.reg.Switch(t1[0], &regs)
	if t0[0].Regs.RAX != 7 || f.fpu.Saves != 1 {
		t.Error("expected outgoing context to be saved")
	}
	if f.vm.Active() != p1.Space || regs.RAX != 0 {
		t.Error("expected context and space of the second thread")
	}
	if exp, got := TTLGain, t1[0].ttl; exp != got {
		t.Errorf("expected ttl %d; got %d", exp, got)
	}

	f.reg.Switch(t0[0], &regs)
	if regs.RAX != 7 || f.fpu.Restores != 1 {
		t.Error("expected saved context and FPU state to be restored")
	}

	f.reg.Switch(nil, &regs)
	if regs != idle || f.vm.Active() != f.vm.Kernel() {
		t.Error("expected idle context in the kernel address space")
	}
	if proc, th := f.reg.Current(); proc != nil || th != nil {
		t.Error("expected nothing to be current while idle")
	}
}

func TestSwitchAfterTermination(t *testing.T) {
	f := newFixture(t)

	warm, _ := f.spawn(t, nil, 1)
	f.reg.TerminateProcess(warm.PID)
	baseline := f.machine.FramesInUse()

	p, threads := f.spawn(t, nil, 1)
	f.reg.Thaw(threads[0])

	var regs gate.Registers
	f.reg.SwitchNext(&regs)
	saves := f.fpu.Saves

	f.reg.TerminateProcess(p.PID)
	if f.vm.Active() != p.Space {
		t.Fatal("expected the active space to survive until the next switch")
	}
	if proc, th := f.reg.Current(); proc != nil || th != nil {
		t.Error("expected terminated process to stop being current")
	}

	f.reg.SwitchNext(&regs)
	if f.fpu.Saves != saves {
		t.Error("expected no state to be saved for a freed thread")
	}
	if f.vm.Active() != f.vm.Kernel() {
		t.Error("expected the kernel space to be active")
	}
	if exp, got := baseline, f.machine.FramesInUse(); exp != got {
		t.Errorf("expected %d frames in use after the switch; got %d", exp, got)
	}
}

func TestTick(t *testing.T) {
	f := newFixture(t)
	_, threads := f.spawn(t, nil, 2)
	a, b := threads[0], threads[1]

	var regs gate.Registers

	// Idle with nothing ready stays idle.
	f.reg.Tick(&regs)
	if _, th := f.reg.Current(); th != nil {
		t.Fatal("expected to stay idle")
	}

	f.reg.Thaw(a)
	f.reg.Thaw(b)

	expCurrent := []*Thread{a, a, b, b, a, a}
	for tick, exp := range expCurrent {
		f.reg.Tick(&regs)
		if _, th := f.reg.Current(); th != exp {
			t.Errorf("[tick %d] expected tid %d to run; got tid %d", tick, exp.TID, th.TID)
		}
	}

	// Freezing both threads drops back to idle on the next tick.
	f.reg.Freeze(a)
	f.reg.Freeze(b)
	f.reg.Tick(&regs)
	if _, th := f.reg.Current(); th != nil {
		t.Error("expected to idle once nothing is ready")
	}
}
