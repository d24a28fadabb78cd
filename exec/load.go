package exec

import (
	"encoding/binary"

	"kiwios/cpu"
	"kiwios/kernel"
	"kiwios/mem"
)

// maxArgs caps argument seeding.
const maxArgs = 32

type segmentAlloc struct {
	phys  uint64
	pages int
}

// Load builds a usermode process from img: kernel stack, fresh address
// space, loaded segments, user stack and heap floor, plus the initial trap
// frame that first dispatch restores. The process is linked into the
// registry only on success; any failure rolls back every page taken.
func Load(k *kernel.Kernel, name string, img *Image) (*kernel.Process, error) {
	if img == nil || len(img.Segments) == 0 && img.Entry == 0 {
		return nil, ErrBadImage
	}
	if img.Interp || img.Dynamic {
		return nil, ErrNotStatic
	}

	cfg := k.Config()
	phys := k.Phys()

	proc := k.NewUserProcess(name)

	stackPhys := phys.AllocPages(cfg.KernelStackPages)
	if stackPhys == 0 {
		return nil, ErrNoMemory
	}
	proc.StackTop = phys.VirtOf(stackPhys) + uint64(cfg.KernelStackPages)*mem.PageSize

	var (
		space         *mem.Space
		userStackPhys uint64
		allocs        []segmentAlloc
	)
	fail := func(err error) (*kernel.Process, error) {
		for _, a := range allocs {
			phys.FreePages(a.phys, a.pages)
		}
		if userStackPhys != 0 {
			phys.FreePages(userStackPhys, cfg.UserStackPages)
		}
		if space != nil {
			space.Destroy()
		}
		phys.FreePages(stackPhys, cfg.KernelStackPages)
		return nil, err
	}

	space, err := mem.NewSpace(phys)
	if err != nil {
		return fail(ErrNoMemory)
	}

	userStackPhys = phys.AllocPages(cfg.UserStackPages)
	if userStackPhys == 0 {
		return fail(ErrNoMemory)
	}

	for _, seg := range img.Segments {
		if seg.MemSize < seg.FileSize {
			return fail(ErrBadImage)
		}
		if seg.Offset > uint64(len(img.Data)) || seg.FileSize > uint64(len(img.Data))-seg.Offset {
			return fail(ErrBadImage)
		}
		if seg.Align != 0 && seg.Vaddr%seg.Align != seg.Offset%seg.Align {
			return fail(ErrBadImage)
		}

		vaddrAligned := mem.AlignDown(seg.Vaddr)
		span := mem.AlignUp(seg.Vaddr+seg.MemSize) - vaddrAligned
		pages := int(span / mem.PageSize)
		if pages == 0 {
			continue
		}

		segPhys := phys.AllocPages(pages)
		if segPhys == 0 {
			return fail(ErrNoMemory)
		}
		allocs = append(allocs, segmentAlloc{phys: segPhys, pages: pages})

		flags := mem.FlagPresent | mem.FlagUser
		if seg.Flags&SegWrite != 0 {
			flags |= mem.FlagWrite
		}
		for j := 0; j < pages; j++ {
			va := vaddrAligned + uint64(j)*mem.PageSize
			pa := segPhys + uint64(j)*mem.PageSize
			if !space.Map(va, pa, flags) {
				return fail(ErrBadImage)
			}
		}

		// Zero the whole span, then overlay the file bytes at the
		// segment's offset within its first page.
		dst := phys.Bytes(segPhys, pages*mem.PageSize)
		if dst == nil {
			return fail(ErrBadImage)
		}
		for i := range dst {
			dst[i] = 0
		}
		skew := seg.Vaddr - vaddrAligned
		copy(dst[skew:], img.Data[seg.Offset:seg.Offset+seg.FileSize])
	}

	stackFlags := mem.FlagPresent | mem.FlagUser
	if img.stackWritable() {
		stackFlags |= mem.FlagWrite
	}
	userStackBase := cfg.UserStackTop - uint64(cfg.UserStackPages)*mem.PageSize
	for i := 0; i < cfg.UserStackPages; i++ {
		va := userStackBase + uint64(i)*mem.PageSize
		pa := userStackPhys + uint64(i)*mem.PageSize
		if !space.Map(va, pa, stackFlags) {
			return fail(ErrBadImage)
		}
	}
	proc.UserStackTop = cfg.UserStackTop

	if highest := img.highestAddr(); highest > 0 {
		proc.HeapStart = mem.AlignUp(highest)
	} else {
		proc.HeapStart = cfg.HeapFallback
	}
	proc.HeapEnd = proc.HeapStart

	proc.Space = space

	proc.Ctx = cpu.Context{
		RSP:    proc.StackTop - 8,
		R12:    img.Entry,
		RFlags: cpu.FlagsDefault,
	}
	proc.Frame = cpu.TrapFrame{
		RIP:    img.Entry,
		CS:     cpu.SelUserCode,
		RFlags: cpu.FlagsDefault,
		RSP:    cfg.UserStackTop,
		SS:     cpu.SelUserData,
	}

	k.Link(proc)
	return proc, nil
}

// LoadWithArgs loads img and seeds the user stack with the program
// arguments: string bytes first from the top, then the pointer vector with
// its nil terminator, then argc, each push re-aligned to 16 bytes. The
// initial frame gets the adjusted stack pointer and argc/argv in the
// argument registers.
func LoadWithArgs(k *kernel.Kernel, name string, img *Image, args []string) (*kernel.Process, error) {
	proc, err := Load(k, name, img)
	if err != nil {
		return nil, err
	}
	if len(args) > maxArgs {
		args = args[:maxArgs]
	}

	phys := k.Phys()
	sp := proc.UserStackTop

	writeByte := func(va uint64, b byte) {
		pa := proc.Space.Translate(va)
		phys.Bytes(pa, 1)[0] = b
	}
	writeWord := func(va, v uint64) {
		pa := proc.Space.Translate(va)
		binary.LittleEndian.PutUint64(phys.Bytes(pa, 8), v)
	}

	ptrs := make([]uint64, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		s := args[i]
		sp -= uint64(len(s) + 1)
		sp &^= 0xF
		for off := 0; off <= len(s); off++ {
			if off < len(s) {
				writeByte(sp+uint64(off), s[off])
			} else {
				writeByte(sp+uint64(off), 0)
			}
		}
		ptrs[i] = sp
	}

	sp -= uint64((len(args) + 1) * 8)
	sp &^= 0xF
	argvVA := sp
	for i, p := range ptrs {
		writeWord(sp+uint64(i*8), p)
	}
	writeWord(sp+uint64(len(args)*8), 0)

	sp -= 8
	sp &^= 0xF
	writeWord(sp, uint64(len(args)))

	proc.Frame.RSP = sp
	proc.Frame.RDI = uint64(len(args))
	proc.Frame.RSI = argvVA
	return proc, nil
}
