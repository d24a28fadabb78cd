package mem

import (
	"errors"
	"sort"
)

// Mapping permission flags for leaf pages.
type Flags uint64

const (
	FlagPresent Flags = 1 << 0
	FlagWrite   Flags = 1 << 1
	FlagUser    Flags = 1 << 2
)

var ErrNoMemory = errors.New("mem: out of physical pages")

type leaf struct {
	phys  uint64
	flags Flags
}

// Space is an address-space table: the virtual-to-physical mapping owned by
// one process (or, for the shared kernel table, by the kernel itself).
//
// The table root occupies one physical page so that table creation can fail
// under memory pressure and teardown returns it, like a real paging
// structure would.
type Space struct {
	mem       *Physical
	root      uint64
	leaves    map[uint64]leaf
	destroyed bool
}

// NewSpace creates an empty address-space table, taking one page from the
// allocator for the root.
func NewSpace(m *Physical) (*Space, error) {
	root := m.Alloc()
	if root == 0 {
		return nil, ErrNoMemory
	}
	return &Space{
		mem:    m,
		root:   root,
		leaves: make(map[uint64]leaf),
	}, nil
}

// Map installs a leaf mapping from the page containing virt to phys. It fails
// if the page is already mapped or either address is unusable.
func (s *Space) Map(virt, phys uint64, flags Flags) bool {
	if s.destroyed || phys == 0 || flags&FlagPresent == 0 {
		return false
	}
	vp := AlignDown(virt)
	if _, ok := s.leaves[vp]; ok {
		return false
	}
	s.leaves[vp] = leaf{phys: AlignDown(phys), flags: flags}
	return true
}

// Unmap removes the leaf mapping covering virt, if any.
func (s *Space) Unmap(virt uint64) {
	delete(s.leaves, AlignDown(virt))
}

// Translate returns the physical address backing virt, or 0 if unmapped.
func (s *Space) Translate(virt uint64) uint64 {
	l, ok := s.leaves[AlignDown(virt)]
	if !ok {
		return 0
	}
	return l.phys + (virt - AlignDown(virt))
}

// VisitLeaves calls visit for every present leaf mapping with a virtual page
// in [lo, hi), in ascending virtual order. Iteration stops early if visit
// returns false.
func (s *Space) VisitLeaves(lo, hi uint64, visit func(virt, phys uint64, flags Flags) bool) {
	pages := make([]uint64, 0, len(s.leaves))
	for vp := range s.leaves {
		if vp >= lo && vp < hi {
			pages = append(pages, vp)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	for _, vp := range pages {
		l := s.leaves[vp]
		if !visit(vp, l.phys, l.flags) {
			return
		}
	}
}

// Destroy releases the table structure itself. Leaf target pages are the
// owner's responsibility and must be freed before calling Destroy.
func (s *Space) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.leaves = nil
	s.mem.Free(s.root)
	s.root = 0
}
