// Package binary loads statically linked ELF64 executables into the active
// address space.
package binary

import (
	"debug/elf"
	"unsafe"

	"github.com/zrho/Carbon/kernel"
	"github.com/zrho/Carbon/kernel/kfmt"
	"github.com/zrho/Carbon/kernel/mm"
	"github.com/zrho/Carbon/kernel/mm/vmm"
)

var (
	// ErrInvalidImage is returned for images that are not x86-64 ELF64
	// executables.
	ErrInvalidImage = &kernel.Error{Module: "binary", Message: "not an x86-64 ELF64 executable"}

	// ErrTruncated is returned when a header or segment lies outside the
	// image.
	ErrTruncated = &kernel.Error{Module: "binary", Message: "image is truncated"}

	// ErrSegmentRange is returned for segments outside the user range.
	ErrSegmentRange = &kernel.Error{Module: "binary", Message: "segment outside the user address range"}

	logger = &kfmt.PrefixWriter{Prefix: []byte("[binary] ")}
)

// UserLimit is the end of the range executables may occupy. Everything above
// it is managed by the kernel.
const UserLimit = mm.IPCRecvVAddr

// PageMapper maps pages into the active address space.
type PageMapper interface {
	Map(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error
	Translate(virtAddr uintptr) (uintptr, *kernel.Error)
	PtrTo(virtAddr uintptr) unsafe.Pointer
}

// Load maps every PT_LOAD segment of image user-accessible into the active
// address space, copies the file contents and zeroes the remainder. Segments
// are writable only if their PF_W flag is set. It returns the entry point.
func Load(vm PageMapper, frames mm.FrameAllocator, image []byte) (uintptr, *kernel.Error) {
	hdr, err := header(image)
	if err != nil {
		return 0, err
	}

	for i := uint16(0); i < hdr.Phnum; i++ {
		off := hdr.Phoff + uint64(i)*uint64(hdr.Phentsize)
		prog := (*elf.Prog64)(unsafe.Pointer(&image[off]))
		if elf.ProgType(prog.Type) != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}

		if err := loadSegment(vm, frames, image, prog); err != nil {
			return 0, err
		}
	}

	kfmt.Fprintf(logger, "loaded %d program headers, entry at 0x%x\n", hdr.Phnum, hdr.Entry)
	return uintptr(hdr.Entry), nil
}

func header(image []byte) (*elf.Header64, *kernel.Error) {
	if uintptr(len(image)) < unsafe.Sizeof(elf.Header64{}) {
		return nil, ErrTruncated
	}

	hdr := (*elf.Header64)(unsafe.Pointer(&image[0]))
	switch {
	case string(hdr.Ident[:elf.EI_CLASS]) != elf.ELFMAG,
		elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS64,
		elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB,
		elf.Version(hdr.Ident[elf.EI_VERSION]) != elf.EV_CURRENT,
		elf.Machine(hdr.Machine) != elf.EM_X86_64,
		elf.Type(hdr.Type) != elf.ET_EXEC,
		uintptr(hdr.Phentsize) < unsafe.Sizeof(elf.Prog64{}):
		return nil, ErrInvalidImage
	}

	if hdr.Phoff > uint64(len(image)) || uint64(hdr.Phnum)*uint64(hdr.Phentsize) > uint64(len(image))-hdr.Phoff {
		return nil, ErrTruncated
	}
	return hdr, nil
}

func loadSegment(vm PageMapper, frames mm.FrameAllocator, image []byte, prog *elf.Prog64) *kernel.Error {
	if prog.Filesz > prog.Memsz || prog.Off > uint64(len(image)) || prog.Filesz > uint64(len(image))-prog.Off {
		return ErrTruncated
	}
	if prog.Vaddr >= uint64(UserLimit) || prog.Memsz > uint64(UserLimit)-prog.Vaddr {
		return ErrSegmentRange
	}

	var (
		start = uintptr(prog.Vaddr)
		end   = start + uintptr(prog.Memsz)
		flags = vmm.FlagUserAccessible
	)
	if elf.ProgFlag(prog.Flags)&elf.PF_W != 0 {
		flags |= vmm.FlagRW
	}

	// Pages are populated through a writable mapping first and get their
	// final flags afterwards. Pages shared with a previous segment keep
	// their frame.
	for addr := mm.AlignDown(start); addr < end; addr += mm.PageSize {
		page := mm.PageFromAddress(addr)
		if phys, err := vm.Translate(addr); err == nil {
			if err = vm.Map(page, mm.FrameFromAddress(phys), flags|vmm.FlagRW); err != nil {
				return err
			}
			continue
		}

		if err := vm.Map(page, frames.AllocFrame(), flags|vmm.FlagRW); err != nil {
			return err
		}
		kernel.Memset(uintptr(vm.PtrTo(addr)), 0, mm.PageSize)
	}

	data := image[prog.Off : prog.Off+prog.Filesz]
	for addr := start; len(data) > 0; {
		n := mm.PageSize - addr&(mm.PageSize-1)
		if n > uintptr(len(data)) {
			n = uintptr(len(data))
		}
		kernel.Memcopy(uintptr(unsafe.Pointer(&data[0])), uintptr(vm.PtrTo(addr)), n)
		data, addr = data[n:], addr+n
	}

	for addr := start + uintptr(prog.Filesz); addr < end; {
		n := mm.PageSize - addr&(mm.PageSize-1)
		if n > end-addr {
			n = end - addr
		}
		kernel.Memset(uintptr(vm.PtrTo(addr)), 0, n)
		addr += n
	}

	if flags&vmm.FlagRW == 0 {
		for addr := mm.AlignDown(start); addr < end; addr += mm.PageSize {
			phys, _ := vm.Translate(addr)
			if err := vm.Map(mm.PageFromAddress(addr), mm.FrameFromAddress(phys), flags); err != nil {
				return err
			}
		}
	}
	return nil
}
