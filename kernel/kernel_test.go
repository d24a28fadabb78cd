package kernel

import (
	"testing"

	"kiwios/config"
	"kiwios/cpu"
	"kiwios/mem"
	"kiwios/timer"
)

func bootKernel(t *testing.T) *Kernel {
	t.Helper()
	cfg := config.Default()
	cfg.PhysPages = 64
	phys := mem.NewPhysical(cfg.PhysPages, cfg.DirectMapBase)
	kspace, err := mem.NewSpace(phys)
	if err != nil {
		t.Fatalf("kernel space: %v", err)
	}
	k := New(cfg, phys, kspace, timer.New(cfg.TimerHz), nil)
	k.Boot()
	return k
}

// makeUser fabricates a ready usermode process the way the loader would
// leave it, with an address space and a pre-seeded frame.
func makeUser(t *testing.T, k *Kernel, name string, entry uint64) *Process {
	t.Helper()
	p := k.NewUserProcess(name)

	stackPhys := k.phys.AllocPages(k.cfg.KernelStackPages)
	if stackPhys == 0 {
		t.Fatal("kernel stack allocation failed")
	}
	p.StackTop = k.phys.VirtOf(stackPhys) + uint64(k.cfg.KernelStackPages)*mem.PageSize

	space, err := mem.NewSpace(k.phys)
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	p.Space = space
	p.UserStackTop = k.cfg.UserStackTop
	p.HeapStart = k.cfg.HeapFallback
	p.HeapEnd = p.HeapStart

	p.Frame = cpu.TrapFrame{
		RIP:    entry,
		CS:     cpu.SelUserCode,
		RFlags: cpu.FlagsDefault,
		RSP:    k.cfg.UserStackTop,
		SS:     cpu.SelUserData,
	}
	k.Link(p)
	return p
}

func TestBootIdle(t *testing.T) {
	k := bootKernel(t)
	idle := k.Current()
	if idle == nil || idle.PID != 0 {
		t.Fatal("expected idle as current after boot")
	}
	if idle.State != Running {
		t.Fatalf("idle state = %s; want running", idle.State)
	}
	if got := k.FindByPID(0); got != idle {
		t.Fatal("expected idle in the registry")
	}
	if k.ActiveSpace() != k.KernelSpace() {
		t.Fatal("expected the kernel space active at boot")
	}
}

func TestCreateThreadPIDs(t *testing.T) {
	k := bootKernel(t)
	a := k.CreateThread("a", func() {})
	b := k.CreateThread("b", func() {})
	if a == nil || b == nil {
		t.Fatal("expected threads to be created")
	}
	if a.PID != 1 || b.PID != 2 {
		t.Fatalf("pids = %d, %d; want 1, 2", a.PID, b.PID)
	}
	if a.State != Ready || b.State != Ready {
		t.Fatal("expected new threads ready")
	}
	if a.StackTop == 0 {
		t.Fatal("expected a kernel stack")
	}
	if a.Ctx.RSP != a.StackTop-8 {
		t.Fatalf("seeded rsp = %#x; want %#x", a.Ctx.RSP, a.StackTop-8)
	}
	if a.Ctx.RFlags != cpu.FlagsDefault {
		t.Fatalf("seeded rflags = %#x; want %#x", a.Ctx.RFlags, uint64(cpu.FlagsDefault))
	}
}

func TestUserPIDsStartHigh(t *testing.T) {
	k := bootKernel(t)
	k.CreateThread("a", func() {})
	u1 := k.NewUserProcess("u1")
	u2 := k.NewUserProcess("u2")
	if u1.PID != 100 || u2.PID != 101 {
		t.Fatalf("user pids = %d, %d; want 100, 101", u1.PID, u2.PID)
	}
	if !u1.Usermode {
		t.Fatal("expected usermode flag")
	}
}

func TestNameTruncated(t *testing.T) {
	k := bootKernel(t)
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	p := k.CreateThread(string(long), func() {})
	if len(p.Name) != maxNameLen {
		t.Fatalf("name length %d; want %d", len(p.Name), maxNameLen)
	}
}

func TestFindByPID(t *testing.T) {
	k := bootKernel(t)
	a := k.CreateThread("a", func() {})
	if got := k.FindByPID(a.PID); got != a {
		t.Fatal("expected to find thread by pid")
	}
	if got := k.FindByPID(999); got != nil {
		t.Fatal("expected nil for unknown pid")
	}
}

func TestKillRules(t *testing.T) {
	k := bootKernel(t)
	a := k.CreateThread("a", func() {})

	if k.Kill(0) {
		t.Fatal("expected kill of idle to be rejected")
	}
	if k.Kill(999) {
		t.Fatal("expected kill of unknown pid to fail")
	}

	_, usedBefore, _ := k.phys.Stats()
	if !k.Kill(a.PID) {
		t.Fatal("expected kill to succeed")
	}
	if k.FindByPID(a.PID) != nil {
		t.Fatal("expected non-current victim collected immediately")
	}
	_, usedAfter, _ := k.phys.Stats()
	if usedAfter != usedBefore-k.cfg.KernelStackPages {
		t.Fatalf("used pages %d after kill; want %d", usedAfter, usedBefore-k.cfg.KernelStackPages)
	}
}

func TestKillCurrentDefersTeardown(t *testing.T) {
	k := bootKernel(t)
	u := makeUser(t, k, "u", 0x401000)
	u.State = Running
	k.SetCurrent(u)

	if !k.Kill(u.PID) {
		t.Fatal("expected kill of current to succeed")
	}
	if u.State != Terminated {
		t.Fatalf("state = %s; want terminated", u.State)
	}
	if k.FindByPID(u.PID) == nil {
		t.Fatal("expected current to stay linked until it stops running")
	}

	k.SetCurrent(k.FindByPID(0))
	k.CleanupTerminated()
	if k.FindByPID(u.PID) != nil {
		t.Fatal("expected deferred teardown after current moved on")
	}
}

func TestDestroyRestoresAllocator(t *testing.T) {
	k := bootKernel(t)
	_, usedBase, _ := k.phys.Stats()

	u := makeUser(t, k, "u", 0x401000)

	// Heap pages, an anonymous mapping, and a device window.
	heapPage := k.phys.Alloc()
	u.Space.Map(u.HeapStart, heapPage, mem.FlagPresent|mem.FlagWrite|mem.FlagUser)
	u.HeapEnd = u.HeapStart + 100

	anonPage := k.phys.Alloc()
	u.Space.Map(k.cfg.MMapBase, anonPage, mem.FlagPresent|mem.FlagUser)

	stackPage := k.phys.Alloc()
	u.Space.Map(k.cfg.UserStackBase(), stackPage, mem.FlagPresent|mem.FlagWrite|mem.FlagUser)

	fbPhys := k.phys.Reserve(2)
	u.Space.Map(k.cfg.FBMapBase, fbPhys, mem.FlagPresent|mem.FlagWrite|mem.FlagUser)
	u.FBPhysBase = fbPhys
	u.FBSize = 2 * mem.PageSize
	u.FBVirtBase = k.cfg.FBMapBase

	u.State = Terminated
	k.CleanupTerminated()

	if k.FindByPID(u.PID) != nil {
		t.Fatal("expected process unlinked")
	}
	_, usedAfter, _ := k.phys.Stats()
	// Only the reserved device pages may remain beyond the baseline.
	if usedAfter != usedBase+2 {
		t.Fatalf("used pages %d after teardown; want %d", usedAfter, usedBase+2)
	}
}

func TestProcessesSnapshot(t *testing.T) {
	k := bootKernel(t)
	k.CreateThread("a", func() {})
	k.CreateThread("b", func() {})
	procs := k.Processes()
	if len(procs) != 3 {
		t.Fatalf("registry size %d; want 3", len(procs))
	}
	if procs[0].Name != "b" || procs[2].PID != 0 {
		t.Fatal("expected newest-first order ending at idle")
	}
}

func TestStateString(t *testing.T) {
	if Ready.String() != "ready" || Terminated.String() != "terminated" {
		t.Fatal("unexpected state names")
	}
	if State(42).String() != "unknown" {
		t.Fatal("expected unknown for out-of-range state")
	}
}

func TestOpenFD(t *testing.T) {
	k := bootKernel(t)
	p := k.NewUserProcess("u")
	fd := p.OpenFD("motd", []byte("hi"))
	if fd != 0 {
		t.Fatalf("first fd = %d; want 0", fd)
	}
	if !p.FDs[0].InUse || p.FDs[0].Size != 2 {
		t.Fatal("expected slot 0 populated")
	}
	if second := p.OpenFD("other", nil); second != 1 {
		t.Fatalf("second fd = %d; want 1", second)
	}
	p.ReleaseFDs()
	if p.FDs[0].InUse {
		t.Fatal("expected descriptors released")
	}
}
