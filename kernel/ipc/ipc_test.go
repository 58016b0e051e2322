package ipc

import (
	"bytes"
	"testing"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/gate"
	"github.com/zrho/Carbon/kernel/mm"
	"github.com/zrho/Carbon/kernel/mm/kheap"
	"github.com/zrho/Carbon/kernel/mm/mmtest"
	"github.com/zrho/Carbon/kernel/mm/vmm"
	"github.com/zrho/Carbon/kernel/task"
)

const handlerEntry = 0x500000

type fixture struct {
	machine *mmtest.Machine
	vm      *vmm.Manager
	reg     *task.Registry
	ipc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		machine: mmtest.New(t, 1024),
		vm:      new(vmm.Manager),
		reg:     new(task.Registry),
		ipc:     new(Service),
	}
	if err := f.vm.Init(f.machine, f.machine); err != nil {
		t.Fatal(err)
	}

	heap := new(kheap.Heap)
	heap.Init(f.vm, f.machine)
	f.reg.Init(f.vm, f.machine, heap, new(mmtest.NopFPU))
	f.ipc.Init(f.reg)
	return f
}

func (f *fixture) spawn(t *testing.T) (*task.Process, *task.Thread) {
	t.Helper()

	p, err := f.reg.SpawnProcess(nil)
	if err != nil {
		t.Fatal(err)
	}
	th, err := f.reg.SpawnThread(p, 0x400000)
	if err != nil {
		t.Fatal(err)
	}
	return p, th
}

// run makes th the current thread.
func (f *fixture) run(th *task.Thread, regs *gate.Registers) {
	f.reg.Thaw(th)
	f.reg.Switch(th, regs)
}

func (f *fixture) write(p *task.Process, addr uintptr, data []byte) {
	defer f.vm.Switch(p.Space).Restore()
	f.machine.Write(addr, data)
}

func (f *fixture) read(p *task.Process, addr uintptr, length int) []byte {
	defer f.vm.Switch(p.Space).Restore()
	return f.machine.Read(addr, length)
}

func (f *fixture) userMapped(p *task.Process, addr uintptr) bool {
	defer f.vm.Switch(p.Space).Restore()
	return f.machine.UserMapped(addr)
}

func expectPanic(t *testing.T, expErr *kernel.Error, fn func()) {
	t.Helper()

	defer func() {
		if err := recover(); err != expErr {
			t.Errorf("expected panic with %v; got %v", expErr, err)
		}
	}()
	fn()
}

func TestBufferAddress(t *testing.T) {
	specs := []struct {
		tid     int
		buf     Buffer
		expAddr uintptr
	}{
		{0, Send, mm.IPCSendVAddr},
		{0, Recv, mm.IPCRecvVAddr},
		{3, Send, mm.IPCSendVAddr + 3*BufferSize},
		{task.ThreadMax - 1, Recv, mm.IPCRecvVAddr + (task.ThreadMax-1)*BufferSize},
	}

	for specIndex, spec := range specs {
		if got := Address(&task.Thread{TID: spec.tid}, spec.buf); got != spec.expAddr {
			t.Errorf("[spec %d] expected address %#x; got %#x", specIndex, spec.expAddr, got)
		}
	}

	// Every buffer of every thread must fit inside its own PML4 slot.
	last := Address(&task.Thread{TID: task.ThreadMax - 1}, Send) + BufferSize - 1
	if mm.PML4Index(last) != mm.PML4Index(mm.IPCSendVAddr) {
		t.Error("expected send buffers to stay inside a single PML4 slot")
	}

	for _, buf := range []Buffer{-1, bufferCount} {
		if buf.Valid() {
			t.Errorf("expected buffer %d to be invalid", buf)
		}
	}
}

func TestResize(t *testing.T) {
	f := newFixture(t)
	p, th := f.spawn(t)
	base := Address(th, Send)

	f.ipc.Resize(p, th, Send, 2*mm.PageSize+1)
	if exp, got := 3*mm.PageSize, th.BufferSize[Send]; exp != got {
		t.Fatalf("expected buffer size %d; got %d", exp, got)
	}
	if !f.userMapped(p, base+3*mm.PageSize-1) || f.userMapped(p, base+3*mm.PageSize) {
		t.Error("expected exactly three pages to be mapped")
	}
	if f.vm.Active() != f.vm.Kernel() {
		t.Error("expected Resize to restore the active address space")
	}
	inUse := f.machine.FramesInUse()

	f.ipc.Resize(p, th, Send, mm.PageSize)
	if exp, got := inUse-2, f.machine.FramesInUse(); exp != got {
		t.Errorf("expected shrinking to release 2 frames; %d in use, want %d", got, exp)
	}
	if f.userMapped(p, base+mm.PageSize) {
		t.Error("expected released pages to be unmapped")
	}

	expectPanic(t, ErrBufferTooLarge, func() { f.ipc.Resize(p, th, Send, BufferSize+1) })
}

func TestMove(t *testing.T) {
	f := newFixture(t)
	srcP, srcT := f.spawn(t)
	dstP, dstT := f.spawn(t)
	msg := []byte("zero-copy message")

	f.ipc.Resize(srcP, srcT, Send, 2*mm.PageSize)
	f.write(srcP, Address(srcT, Send)+mm.PageSize, msg)

	// The destination's previous contents are released on insertion.
	f.ipc.Resize(dstP, dstT, Recv, 4*mm.PageSize)
	inUse := f.machine.FramesInUse()

	f.ipc.Move(srcP, srcT, Send, dstP, dstT, Recv)

	if got := f.read(dstP, Address(dstT, Recv)+mm.PageSize, len(msg)); !bytes.Equal(got, msg) {
		t.Errorf("expected destination to read %q; got %q", msg, got)
	}
	if srcT.BufferSize[Send] != 0 || dstT.BufferSize[Recv] != 2*mm.PageSize {
		t.Errorf("expected sizes 0 and %d; got %d and %d", 2*mm.PageSize, srcT.BufferSize[Send], dstT.BufferSize[Recv])
	}
	if f.userMapped(srcP, Address(srcT, Send)) {
		t.Error("expected source buffer to be unmapped")
	}
	if f.userMapped(dstP, Address(dstT, Recv)+2*mm.PageSize) {
		t.Error("expected previous destination pages to be gone")
	}
	if exp, got := inUse-5, f.machine.FramesInUse(); exp != got {
		t.Errorf("expected the old destination table and pages to be freed; %d in use, want %d", got, exp)
	}

	// Moving an empty buffer empties the destination.
	f.ipc.Move(srcP, srcT, Send, dstP, dstT, Recv)
	if dstT.BufferSize[Recv] != 0 || f.userMapped(dstP, Address(dstT, Recv)) {
		t.Error("expected moving an empty buffer to clear the destination")
	}
}

func TestReleaseBuffers(t *testing.T) {
	f := newFixture(t)
	p, th := f.spawn(t)

	f.ipc.Resize(p, th, Send, mm.PageSize)
	f.ipc.Resize(p, th, Recv, mm.PageSize)
	f.reg.StopThread(p, th)

	if th.BufferSize[Send] != 0 || th.BufferSize[Recv] != 0 {
		t.Error("expected buffer sizes to be reset")
	}
	for _, buf := range []Buffer{Send, Recv} {
		if f.userMapped(p, Address(th, buf)) {
			t.Errorf("expected buffer %d to be unmapped", buf)
		}
	}
}

func TestSendErrors(t *testing.T) {
	f := newFixture(t)
	_, sender := f.spawn(t)
	plain, _ := f.spawn(t)
	target, _ := f.spawn(t)
	f.ipc.SetHandler(target, handlerEntry)

	var regs gate.Registers
	f.run(sender, &regs)

	specs := []struct {
		pid    int
		length uintptr
		expErr *kernel.Error
	}{
		{-1, 0, ErrNoProcess},
		{42, 0, ErrNoProcess},
		{plain.PID, 0, ErrNoHandler},
		{target.PID, 1, ErrLength},
	}

	for specIndex, spec := range specs {
		if err := f.ipc.Send(&regs, spec.pid, 0, spec.length); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
		if _, th := f.reg.Current(); th != sender || sender.Frozen() {
			t.Errorf("[spec %d] expected the sender to keep running", specIndex)
		}
	}
	if f.reg.Thread(target, 1) != nil {
		t.Error("expected no handler thread to be spawned")
	}
}

func TestSendRespond(t *testing.T) {
	f := newFixture(t)
	senderP, sender := f.spawn(t)
	targetP, _ := f.spawn(t)
	f.ipc.SetHandler(targetP, handlerEntry)

	var regs gate.Registers
	f.run(sender, &regs)

	request := []byte("ping")
	f.ipc.Resize(senderP, sender, Send, uintptr(len(request)))
	f.write(senderP, Address(sender, Send), request)

	regs.RAX = 99
	if err := f.ipc.Send(&regs, targetP.PID, 0x10, uintptr(len(request))); err != nil {
		t.Fatal(err)
	}

	p, handler := f.reg.Current()
	if p != targetP || handler.Regs.RIP != handlerEntry || !handler.Detached() {
		t.Fatal("expected a detached handler thread of the target to run")
	}
	expRegs := map[string][2]uint64{
		"rdi": {uint64(Address(handler, Recv)), regs.RDI},
		"rsi": {uint64(len(request)), regs.RSI},
		"rdx": {uint64(senderP.PID), regs.RDX},
		"rbx": {0x10, regs.RBX},
		"r8":  {uint64(handler.TID), regs.R8},
	}
	for reg, vals := range expRegs {
		if vals[0] != vals[1] {
			t.Errorf("expected handler %s to be %d; got %d", reg, vals[0], vals[1])
		}
	}
	if !sender.Frozen() || sender.Regs.RAX != 0 {
		t.Error("expected the sender to wait with a success status")
	}
	if got := f.read(targetP, Address(handler, Recv), len(request)); !bytes.Equal(got, request) {
		t.Errorf("expected handler to receive %q; got %q", request, got)
	}

	response := []byte("pong!")
	f.ipc.Resize(targetP, handler, Send, uintptr(len(response)))
	f.write(targetP, Address(handler, Send), response)

	handlerTID := handler.TID
	if err := f.ipc.Respond(&regs, FlagResponse, uintptr(len(response))); err != nil {
		t.Fatal(err)
	}

	if _, th := f.reg.Current(); th != sender {
		t.Fatal("expected the sender to run after the response")
	}
	if sender.Frozen() {
		t.Error("expected the sender to be woken")
	}
	if f.reg.Thread(targetP, handlerTID) != nil {
		t.Error("expected the handler thread to be gone")
	}
	if regs.RDI != uint64(Address(sender, Recv)) || regs.RSI != uint64(len(response)) ||
		regs.RDX != uint64(targetP.PID) || regs.RBX != FlagResponse || regs.RAX != 0 {
		t.Errorf("unexpected response header %+v", regs)
	}
	if got := f.read(senderP, Address(sender, Recv), len(response)); !bytes.Equal(got, response) {
		t.Errorf("expected sender to receive %q; got %q", response, got)
	}
}

// A process may message itself. The handler is a new thread of the same
// process and the buffer pages move between its threads.
func TestSendToSelf(t *testing.T) {
	f := newFixture(t)
	p, sender := f.spawn(t)
	f.ipc.SetHandler(p, handlerEntry)

	var regs gate.Registers
	f.run(sender, &regs)

	request := bytes.Repeat([]byte{0xa5}, 64)
	f.ipc.Resize(p, sender, Send, uintptr(len(request)))
	f.write(p, Address(sender, Send), request)

	if err := f.ipc.Send(&regs, p.PID, 0, uintptr(len(request))); err != nil {
		t.Fatal(err)
	}

	curP, handler := f.reg.Current()
	if curP != p || handler.TID != 1 || regs.RIP != handlerEntry {
		t.Fatalf("expected handler tid 1 of the sender's process to run at %#x; got tid %d at %#x", handlerEntry, handler.TID, regs.RIP)
	}
	if !sender.Frozen() {
		t.Error("expected the sender to wait for the response")
	}
	if sender.BufferSize[Send] != 0 {
		t.Errorf("expected the send buffer to be empty; got %d bytes", sender.BufferSize[Send])
	}

	// The buffer size tracks mapped pages while RSI carries the message
	// length.
	if exp, got := mm.PageSize, handler.BufferSize[Recv]; exp != got {
		t.Errorf("expected a receive buffer of %d bytes; got %d", exp, got)
	}
	if regs.RSI != uint64(len(request)) || regs.RDX != uint64(p.PID) {
		t.Errorf("expected length %d from pid %d; got %d from pid %d", len(request), p.PID, regs.RSI, regs.RDX)
	}
	if got := f.read(p, Address(handler, Recv), len(request)); !bytes.Equal(got, request) {
		t.Errorf("expected handler to receive the request; got %x", got)
	}

	if err := f.ipc.Respond(&regs, FlagResponse, 0); err != nil {
		t.Fatal(err)
	}
	if _, th := f.reg.Current(); th != sender || sender.Frozen() {
		t.Fatal("expected the sender to run after the response")
	}
	if f.reg.Thread(p, 1) != nil {
		t.Error("expected the handler thread to be gone")
	}
	if regs.RSI != 0 || regs.RBX != FlagResponse {
		t.Errorf("expected an empty response; got length %d flags %#x", regs.RSI, regs.RBX)
	}
}

func TestSendIgnoreResponse(t *testing.T) {
	f := newFixture(t)
	_, sender := f.spawn(t)
	targetP, _ := f.spawn(t)
	f.ipc.SetHandler(targetP, handlerEntry)

	var regs gate.Registers
	f.run(sender, &regs)

	if err := f.ipc.Send(&regs, targetP.PID, FlagIgnoreResponse, 0); err != nil {
		t.Fatal(err)
	}
	if sender.Frozen() {
		t.Fatal("expected the sender to stay ready")
	}
	_, handler := f.reg.Current()

	f.ipc.Resize(targetP, handler, Send, mm.PageSize)
	if err := f.ipc.Respond(&regs, FlagResponse, mm.PageSize); err != nil {
		t.Fatal(err)
	}
	if _, th := f.reg.Current(); th != sender {
		t.Error("expected the sender to run after the handler stops")
	}
	if sender.BufferSize[Recv] != 0 {
		t.Error("expected the response to be discarded")
	}
}

func TestRespondErrors(t *testing.T) {
	f := newFixture(t)
	_, th := f.spawn(t)

	var regs gate.Registers
	f.run(th, &regs)

	if err := f.ipc.Respond(&regs, 0, 0); err != ErrNotReceiver {
		t.Errorf("expected ErrNotReceiver; got %v", err)
	}

	th.Role.Kind = task.RoleIPCReceiver
	if err := f.ipc.Respond(&regs, 0, 1); err != ErrLength {
		t.Errorf("expected ErrLength; got %v", err)
	}
}

func TestRespondToTerminatedSender(t *testing.T) {
	f := newFixture(t)
	senderP, sender := f.spawn(t)
	targetP, _ := f.spawn(t)
	f.ipc.SetHandler(targetP, handlerEntry)

	var regs gate.Registers
	f.run(sender, &regs)
	if err := f.ipc.Send(&regs, targetP.PID, 0, 0); err != nil {
		t.Fatal(err)
	}
	_, handler := f.reg.Current()
	handlerTID := handler.TID

	f.reg.TerminateProcess(senderP.PID)
	if err := f.ipc.Respond(&regs, FlagResponse, 0); err != nil {
		t.Fatal(err)
	}

	if p, th := f.reg.Current(); p != nil || th != nil {
		t.Error("expected the CPU to idle")
	}
	if f.reg.Thread(targetP, handlerTID) != nil {
		t.Error("expected the handler thread to be gone")
	}
}
