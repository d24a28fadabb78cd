// Package mem simulates the machine's memory substrate: a physical page
// allocator over a byte arena with a direct (higher-half style) kernel
// mapping, and per-process address-space tables.
package mem

// PageSize is 4KB (4096 bytes).
const PageSize = 4096

// AlignUp rounds addr up to the next page boundary.
func AlignUp(addr uint64) uint64 {
	return (addr + PageSize - 1) &^ uint64(PageSize-1)
}

// AlignDown rounds addr down to a page boundary.
func AlignDown(addr uint64) uint64 {
	return addr &^ uint64(PageSize-1)
}

// Physical owns the simulated RAM arena and hands out pages by physical
// address. Address 0 is never valid; the first page starts at PageSize.
type Physical struct {
	directBase uint64
	arena      []byte
	used       []bool
	reserved   []bool
	free       int
}

// NewPhysical creates an arena of the given number of pages. directBase is
// the virtual base of the kernel's direct mapping of all physical memory.
func NewPhysical(pages int, directBase uint64) *Physical {
	if pages <= 0 {
		return nil
	}
	return &Physical{
		directBase: directBase,
		arena:      make([]byte, pages*PageSize),
		used:       make([]bool, pages),
		reserved:   make([]bool, pages),
		free:       pages,
	}
}

func (m *Physical) index(addr uint64) int {
	if addr == 0 || addr%PageSize != 0 {
		return -1
	}
	i := int(addr/PageSize) - 1
	if i < 0 || i >= len(m.used) {
		return -1
	}
	return i
}

func (m *Physical) addr(index int) uint64 {
	return uint64(index+1) * PageSize
}

// Alloc returns the physical address of one free page, or 0 if none remain.
func (m *Physical) Alloc() uint64 {
	return m.AllocPages(1)
}

// AllocPages returns the physical address of count contiguous free pages, or
// 0 if no contiguous run exists.
func (m *Physical) AllocPages(count int) uint64 {
	if count <= 0 || count > m.free {
		return 0
	}
	run := 0
	for i := 0; i < len(m.used); i++ {
		if m.used[i] || m.reserved[i] {
			run = 0
			continue
		}
		run++
		if run == count {
			start := i - count + 1
			for j := start; j <= i; j++ {
				m.used[j] = true
			}
			m.free -= count
			return m.addr(start)
		}
	}
	return 0
}

// Free returns one page to the allocator. Freeing an unallocated or reserved
// page is a no-op.
func (m *Physical) Free(addr uint64) {
	m.FreePages(addr, 1)
}

// FreePages returns count contiguous pages starting at addr.
func (m *Physical) FreePages(addr uint64, count int) {
	i := m.index(addr)
	if i < 0 {
		return
	}
	for j := i; j < i+count && j < len(m.used); j++ {
		if m.reserved[j] || !m.used[j] {
			continue
		}
		m.used[j] = false
		m.free++
	}
}

// Reserve carves out a contiguous device-backed range. Reserved pages are
// owned by the device forever: they never come back through Alloc and Free
// refuses them.
func (m *Physical) Reserve(count int) uint64 {
	addr := m.AllocPages(count)
	if addr == 0 {
		return 0
	}
	i := m.index(addr)
	for j := i; j < i+count; j++ {
		m.reserved[j] = true
	}
	return addr
}

// Stats reports total, used and free page counts. Reserved pages count as
// used.
func (m *Physical) Stats() (total, used, free int) {
	return len(m.used), len(m.used) - m.free, m.free
}

// VirtOf translates a physical address into the kernel's direct mapping.
func (m *Physical) VirtOf(phys uint64) uint64 {
	return m.directBase + phys
}

// PhysOf translates a direct-mapped virtual address back to physical.
func (m *Physical) PhysOf(virt uint64) uint64 {
	if virt < m.directBase {
		return 0
	}
	return virt - m.directBase
}

// Bytes exposes n bytes of physical memory starting at phys. It is the
// simulation's equivalent of writing through the direct mapping. Returns nil
// if the range falls outside the arena.
func (m *Physical) Bytes(phys uint64, n int) []byte {
	if phys < PageSize || n < 0 {
		return nil
	}
	off := int(phys - PageSize)
	if off+n > len(m.arena) {
		return nil
	}
	return m.arena[off : off+n]
}
