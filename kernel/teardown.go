package kernel

import "kiwios/mem"

// destroy releases every resource a terminated process still holds: its file
// descriptors, its kernel stack, the frames backing its user stack, heap and
// remaining mappings, and finally its address-space tables. Framebuffer
// frames are device memory and never return to the allocator.
func (k *Kernel) destroy(p *Process) {
	p.ReleaseFDs()

	if p.StackTop != 0 {
		base := p.StackTop - uint64(k.cfg.KernelStackPages)*mem.PageSize
		k.phys.FreePages(k.phys.PhysOf(base), k.cfg.KernelStackPages)
	}

	if p.Space != nil {
		stackLo := p.UserStackTop - uint64(k.cfg.UserStackPages)*mem.PageSize
		for va := stackLo; va < p.UserStackTop; va += mem.PageSize {
			if phys := p.Space.Translate(va); phys != 0 {
				k.phys.Free(phys)
			}
		}
		for va := mem.AlignDown(p.HeapStart); va < mem.AlignUp(p.HeapEnd); va += mem.PageSize {
			if phys := p.Space.Translate(va); phys != 0 {
				k.phys.Free(phys)
			}
		}

		// Sweep whatever else the process mapped: program segments and
		// anonymous mappings, skipping the ranges freed above and any
		// framebuffer window.
		p.Space.VisitLeaves(0, k.cfg.MaxUserAddr, func(va, phys uint64, _ mem.Flags) bool {
			switch {
			case va >= stackLo && va < p.UserStackTop:
			case va >= mem.AlignDown(p.HeapStart) && va < mem.AlignUp(p.HeapEnd):
			case p.FBReserved(phys):
			default:
				k.phys.Free(phys)
			}
			return true
		})

		p.Space.Destroy()
		p.Space = nil
	}
}

// CleanupTerminated collects every terminated process except the current
// one, which cannot free the stack it is still running on.
func (k *Kernel) CleanupTerminated() {
	p := k.head
	for p != nil {
		next := p.next
		if p.State == Terminated && p != k.current {
			if k.log != nil {
				k.log.WriteLineString("kernel: reaping " + p.Name)
			}
			k.unlink(p)
			k.destroy(p)
		}
		p = next
	}
}
