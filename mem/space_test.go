package mem

import "testing"

func newTestSpace(t *testing.T, pages int) (*Physical, *Space) {
	t.Helper()
	m := NewPhysical(pages, 0xFFFF_8000_0000_0000)
	s, err := NewSpace(m)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return m, s
}

func TestSpaceMapTranslate(t *testing.T) {
	m, s := newTestSpace(t, 8)

	pa := m.Alloc()
	if !s.Map(0x400000, pa, FlagPresent|FlagWrite|FlagUser) {
		t.Fatal("expected map to succeed")
	}
	if got := s.Translate(0x400000); got != pa {
		t.Fatalf("Translate = %#x; want %#x", got, pa)
	}
	if got := s.Translate(0x400123); got != pa+0x123 {
		t.Fatalf("Translate preserves offset: got %#x; want %#x", got, pa+0x123)
	}
	if got := s.Translate(0x401000); got != 0 {
		t.Fatalf("Translate of unmapped page = %#x; want 0", got)
	}
}

func TestSpaceMapRejects(t *testing.T) {
	m, s := newTestSpace(t, 8)
	pa := m.Alloc()

	if s.Map(0x400000, 0, FlagPresent) {
		t.Fatal("expected map of physical 0 to fail")
	}
	if s.Map(0x400000, pa, FlagWrite) {
		t.Fatal("expected map without present flag to fail")
	}
	if !s.Map(0x400000, pa, FlagPresent) {
		t.Fatal("expected first map to succeed")
	}
	if s.Map(0x400008, pa, FlagPresent) {
		t.Fatal("expected remap of same page to fail")
	}
}

func TestSpaceUnmap(t *testing.T) {
	m, s := newTestSpace(t, 8)
	pa := m.Alloc()
	s.Map(0x400000, pa, FlagPresent)
	s.Unmap(0x400000)
	if got := s.Translate(0x400000); got != 0 {
		t.Fatalf("Translate after unmap = %#x; want 0", got)
	}
	if !s.Map(0x400000, pa, FlagPresent) {
		t.Fatal("expected remap after unmap to succeed")
	}
}

func TestVisitLeavesOrdered(t *testing.T) {
	m, s := newTestSpace(t, 8)
	vas := []uint64{0x404000, 0x400000, 0x402000}
	for _, va := range vas {
		s.Map(va, m.Alloc(), FlagPresent|FlagUser)
	}

	var seen []uint64
	s.VisitLeaves(0, 0x0000_8000_0000_0000, func(va, pa uint64, _ Flags) bool {
		seen = append(seen, va)
		return true
	})
	if len(seen) != 3 {
		t.Fatalf("visited %d leaves; want 3", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("leaves out of order: %#x before %#x", seen[i-1], seen[i])
		}
	}

	seen = nil
	s.VisitLeaves(0x401000, 0x403000, func(va, pa uint64, _ Flags) bool {
		seen = append(seen, va)
		return true
	})
	if len(seen) != 1 || seen[0] != 0x402000 {
		t.Fatalf("windowed visit = %#x; want [0x402000]", seen)
	}
}

func TestSpaceDestroyReturnsRoot(t *testing.T) {
	m, s := newTestSpace(t, 4)
	_, used, _ := m.Stats()
	if used != 1 {
		t.Fatalf("expected root page allocated, used=%d", used)
	}
	s.Destroy()
	s.Destroy()
	_, used, _ = m.Stats()
	if used != 0 {
		t.Fatalf("expected root freed, used=%d", used)
	}
	if s.Map(0x400000, PageSize, FlagPresent) {
		t.Fatal("expected map on destroyed space to fail")
	}
}

func TestNewSpaceUnderPressure(t *testing.T) {
	m := NewPhysical(1, 0xFFFF_8000_0000_0000)
	if m.Alloc() == 0 {
		t.Fatal("expected the only page to allocate")
	}
	if _, err := NewSpace(m); err == nil {
		t.Fatal("expected NewSpace to fail with no pages left")
	}
}
