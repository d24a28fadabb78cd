package sys

import (
	"kiwios/kernel"
	"kiwios/mem"
)

// fbInfoSize is the user-visible info struct: address, width, height and
// pitch as 64-bit words, then a 16-bit depth.
const fbInfoSize = 4*8 + 2

func (d *Dispatcher) fbInfo(ptr uint64) uint64 {
	if !d.userRange(ptr, fbInfoSize) {
		return Failed
	}
	info, ok := d.dev.Display().Info()
	if !ok {
		return Failed
	}
	cur := d.k.Current()
	ok = d.writeUser64(cur, ptr, d.k.Phys().VirtOf(info.PhysBase)) &&
		d.writeUser64(cur, ptr+8, info.Width) &&
		d.writeUser64(cur, ptr+16, info.Height) &&
		d.writeUser64(cur, ptr+24, info.Pitch) &&
		d.writeUser16(cur, ptr+32, info.BPP)
	if !ok {
		return Failed
	}
	return 0
}

// fbMap maps the framebuffer's physical pages into the current process at
// the fixed window base. Idempotent: a second call returns the existing
// mapping.
func (d *Dispatcher) fbMap() uint64 {
	info, ok := d.dev.Display().Info()
	if !ok {
		return Failed
	}
	proc := d.k.Current()
	if proc == nil || proc.Space == nil {
		return Failed
	}
	if proc.FBSize != 0 {
		return proc.FBVirtBase
	}

	fbSize := info.Pitch * info.Height
	pages := (fbSize + mem.PageSize - 1) / mem.PageSize
	virtBase := d.k.Config().FBMapBase

	for i := uint64(0); i < pages; i++ {
		va := virtBase + i*mem.PageSize
		pa := info.PhysBase + i*mem.PageSize
		if !proc.Space.Map(va, pa, mem.FlagPresent|mem.FlagWrite|mem.FlagUser) {
			for j := uint64(0); j < i; j++ {
				proc.Space.Unmap(virtBase + j*mem.PageSize)
			}
			return Failed
		}
	}

	proc.FBPhysBase = info.PhysBase
	proc.FBSize = pages * mem.PageSize
	proc.FBVirtBase = virtBase
	return virtBase
}

// brk queries (arg 0) or moves the heap end, mapping or releasing whole
// pages as the end crosses page boundaries. Growth is all-or-nothing.
func (d *Dispatcher) brk(newEnd uint64) uint64 {
	proc := d.k.Current()
	if proc == nil || proc.Space == nil {
		return Failed
	}
	if newEnd == 0 {
		return proc.HeapEnd
	}

	if newEnd >= d.k.Config().DirectMapBase || newEnd < proc.HeapStart {
		setErrno(proc, EINVAL)
		return Failed
	}
	if newEnd > d.k.Config().HeapMax {
		setErrno(proc, ENOMEM)
		return Failed
	}

	phys := d.k.Phys()
	oldEndPage := mem.AlignUp(proc.HeapEnd)
	newEndPage := mem.AlignUp(newEnd)

	switch {
	case newEndPage > oldEndPage:
		needed := (newEndPage - oldEndPage) / mem.PageSize
		var allocated uint64
		ok := true
		for i := uint64(0); i < needed; i++ {
			va := oldEndPage + i*mem.PageSize
			pa := phys.Alloc()
			if pa == 0 {
				ok = false
				break
			}
			if !proc.Space.Map(va, pa, mem.FlagPresent|mem.FlagWrite|mem.FlagUser) {
				phys.Free(pa)
				ok = false
				break
			}
			b := phys.Bytes(pa, mem.PageSize)
			for j := range b {
				b[j] = 0
			}
			allocated++
		}
		if !ok {
			for j := uint64(0); j < allocated; j++ {
				va := oldEndPage + j*mem.PageSize
				if pa := proc.Space.Translate(va); pa != 0 {
					proc.Space.Unmap(va)
					phys.Free(pa)
				}
			}
			setErrno(proc, ENOMEM)
			return Failed
		}
		proc.HeapEnd = newEnd
		return 0

	case newEndPage < oldEndPage:
		toFree := (oldEndPage - newEndPage) / mem.PageSize
		for i := uint64(0); i < toFree; i++ {
			va := newEndPage + i*mem.PageSize
			if pa := proc.Space.Translate(va); pa != 0 {
				proc.Space.Unmap(va)
				phys.Free(pa)
			}
		}
		proc.HeapEnd = newEnd
		return 0

	default:
		proc.HeapEnd = newEnd
		return 0
	}
}

func (d *Dispatcher) rangeIsFree(proc *kernel.Process, base, pages uint64) bool {
	if proc == nil || proc.Space == nil {
		return false
	}
	for i := uint64(0); i < pages; i++ {
		if proc.Space.Translate(base+i*mem.PageSize) != 0 {
			return false
		}
	}
	return true
}

// findFreeRange scans upward from start one page at a time for a hole big
// enough for pages. Returns 0 when the user range is exhausted.
func (d *Dispatcher) findFreeRange(proc *kernel.Process, start, pages uint64) uint64 {
	limit := d.k.Config().MaxUserAddr
	length := pages * mem.PageSize
	if length == 0 || start >= limit {
		return 0
	}
	for cursor := start; cursor+length <= limit; cursor += mem.PageSize {
		if d.rangeIsFree(proc, cursor, pages) {
			return cursor
		}
	}
	return 0
}

func (d *Dispatcher) mmap(addr, length, prot, flags uint64, fd int, offset uint64) uint64 {
	proc := d.k.Current()
	if proc == nil || proc.Space == nil || length == 0 {
		setErrno(proc, EINVAL)
		return Failed
	}

	wantShared := flags&MapShared != 0
	wantPrivate := flags&MapPrivate != 0
	fixed := flags&MapFixed != 0
	anonymous := flags&MapAnonymous != 0

	if wantShared == wantPrivate {
		setErrno(proc, EINVAL)
		return Failed
	}

	pages := (length + mem.PageSize - 1) / mem.PageSize
	alignedLength := pages * mem.PageSize

	if fixed && (addr == 0 || addr%mem.PageSize != 0) {
		setErrno(proc, EINVAL)
		return Failed
	}
	if addr != 0 {
		addr = mem.AlignDown(addr)
	}

	searchBase := mem.AlignUp(proc.HeapEnd)
	if searchBase < d.k.Config().MMapBase {
		searchBase = d.k.Config().MMapBase
	}

	if !fixed {
		// A busy hint is not binding: fall forward from it, then from
		// the default search base.
		if addr != 0 && !d.rangeIsFree(proc, addr, pages) {
			addr = d.findFreeRange(proc, addr+mem.PageSize, pages)
		}
		if addr == 0 || !d.rangeIsFree(proc, addr, pages) {
			addr = d.findFreeRange(proc, searchBase, pages)
		}
		if addr == 0 {
			setErrno(proc, ENOMEM)
			return Failed
		}
	} else if !d.rangeIsFree(proc, addr, pages) {
		setErrno(proc, EINVAL)
		return Failed
	}

	if !d.userRange(addr, alignedLength) {
		setErrno(proc, EFAULT)
		return Failed
	}

	var fileBytes []byte
	if !anonymous {
		if fd < 0 || fd >= kernel.MaxFDs || !proc.FDs[fd].InUse {
			setErrno(proc, EBADF)
			return Failed
		}
		entry := &proc.FDs[fd]
		if offset > entry.Size {
			setErrno(proc, EINVAL)
			return Failed
		}
		fileBytes = entry.Data
		if entry.Size < uint64(len(fileBytes)) {
			fileBytes = fileBytes[:entry.Size]
		}
	}

	pageFlags := mem.FlagPresent | mem.FlagUser
	if prot&ProtWrite != 0 {
		pageFlags |= mem.FlagWrite
	}

	phys := d.k.Phys()
	var mapped uint64
	ok := true
	for i := uint64(0); i < pages; i++ {
		va := addr + i*mem.PageSize
		pa := phys.Alloc()
		if pa == 0 {
			setErrno(proc, ENOMEM)
			ok = false
			break
		}
		if !proc.Space.Map(va, pa, pageFlags) {
			phys.Free(pa)
			setErrno(proc, ENOMEM)
			ok = false
			break
		}

		b := phys.Bytes(pa, mem.PageSize)
		copied := 0
		if !anonymous {
			pageOff := offset + i*mem.PageSize
			if pageOff < uint64(len(fileBytes)) {
				copied = copy(b, fileBytes[pageOff:])
			}
		}
		for j := copied; j < mem.PageSize; j++ {
			b[j] = 0
		}
		mapped++
	}

	if !ok {
		for i := uint64(0); i < mapped; i++ {
			va := addr + i*mem.PageSize
			if pa := proc.Space.Translate(va); pa != 0 {
				proc.Space.Unmap(va)
				phys.Free(pa)
			}
		}
		return Failed
	}
	return addr
}

// munmap unmaps whole pages covering [addr, addr+length). Frames behind the
// process's framebuffer window are unmapped but never returned to the
// allocator.
func (d *Dispatcher) munmap(addr, length uint64) uint64 {
	proc := d.k.Current()
	if proc == nil || proc.Space == nil || length == 0 {
		return Failed
	}
	if !d.userRange(addr, length) {
		return Failed
	}

	base := mem.AlignDown(addr)
	pages := (length + mem.PageSize - 1) / mem.PageSize
	phys := d.k.Phys()

	for i := uint64(0); i < pages; i++ {
		va := base + i*mem.PageSize
		pa := proc.Space.Translate(va)
		if pa == 0 {
			continue
		}
		proc.Space.Unmap(va)
		if !proc.FBReserved(pa) {
			phys.Free(pa)
		}
	}
	return 0
}
