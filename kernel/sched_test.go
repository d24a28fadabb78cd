package kernel

import (
	"testing"

	"kiwios/cpu"
)

// startUser makes p the running process and returns a live frame for it,
// the way first dispatch into usermode leaves the machine.
func startUser(k *Kernel, p *Process) cpu.TrapFrame {
	if cur := k.Current(); cur != nil && cur.State == Running {
		cur.State = Ready
	}
	p.State = Running
	p.Interrupted = true
	k.Activate(p)
	k.SetCurrent(p)
	return p.Frame
}

func TestPreemptRoundRobin(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	a := makeUser(t, k, "a", 0x401000)
	b := makeUser(t, k, "b", 0x402000)

	frame := startUser(k, a)
	frame.RBX = 7 // in-flight register state to be preserved

	k.Timer().Advance(1, &frame)

	if k.Current() != b {
		t.Fatalf("current = %s; want b", k.Current().Name)
	}
	if frame.RIP != 0x402000 {
		t.Fatalf("frame rip = %#x; want b's entry", frame.RIP)
	}
	if a.State != Ready || b.State != Running {
		t.Fatalf("states = %s/%s; want ready/running", a.State, b.State)
	}
	if !a.Interrupted {
		t.Fatal("expected a marked interrupted")
	}
	if a.Frame.RBX != 7 || a.Frame.RIP != 0x401000 {
		t.Fatal("expected a's in-flight frame saved verbatim")
	}
	if k.ActiveSpace() != b.Space {
		t.Fatal("expected b's space activated")
	}

	// The next tick brings a back.
	k.Timer().Advance(1, &frame)
	if k.Current() != a {
		t.Fatalf("current = %s; want a again", k.Current().Name)
	}
	if frame.RBX != 7 {
		t.Fatalf("restored rbx = %d; want 7", frame.RBX)
	}
	if !a.Interrupted {
		t.Fatal("expected a still marked interrupted after redispatch")
	}
}

func TestNoPreemptFromKernelMode(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	a := makeUser(t, k, "a", 0x401000)
	makeUser(t, k, "b", 0x402000)

	frame := startUser(k, a)
	frame.CS = cpu.SelKernelCode // tick lands inside the kernel

	k.Timer().Advance(1, &frame)

	if k.Current() != a {
		t.Fatal("expected no switch when the tick interrupted ring 0")
	}
	if frame.RIP != a.Frame.RIP {
		t.Fatal("expected the frame untouched")
	}
}

func TestNoPreemptWithNilFrame(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	a := makeUser(t, k, "a", 0x401000)
	startUser(k, a)

	k.Timer().Advance(1, nil)
	if k.Current() != a {
		t.Fatal("expected current unchanged on a frameless tick")
	}
}

func TestSoleUserKeepsRunning(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	a := makeUser(t, k, "a", 0x401000)
	frame := startUser(k, a)

	k.Timer().Advance(3, &frame)
	if k.Current() != a || a.State != Running {
		t.Fatal("expected the only user process to keep running")
	}
}

func TestWakeSleepers(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	a := makeUser(t, k, "a", 0x401000)
	a.State = Sleeping
	a.SleepUntil = 3

	k.Timer().Advance(2, nil)
	if a.State != Sleeping {
		t.Fatalf("state = %s at tick 2; want still sleeping", a.State)
	}
	k.Timer().Advance(1, nil)
	if a.State != Ready {
		t.Fatalf("state = %s at tick 3; want ready", a.State)
	}
}

func TestWakeHappensEvenInKernelMode(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	a := makeUser(t, k, "a", 0x401000)
	a.State = Sleeping
	a.SleepUntil = 1

	frame := cpu.TrapFrame{CS: cpu.SelKernelCode}
	k.Timer().Advance(1, &frame)
	if a.State != Ready {
		t.Fatalf("state = %s; want ready after deadline", a.State)
	}
}

func TestSleepingProcessNotScheduled(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	a := makeUser(t, k, "a", 0x401000)
	b := makeUser(t, k, "b", 0x402000)
	b.State = Sleeping
	b.SleepUntil = 100

	frame := startUser(k, a)
	k.Timer().Advance(1, &frame)
	if k.Current() != a {
		t.Fatal("expected sleeper skipped by the scan")
	}
}

func TestKernelThreadsNotPreempted(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	a := makeUser(t, k, "a", 0x401000)
	k.CreateThread("worker", func() {})

	frame := startUser(k, a)
	k.Timer().Advance(1, &frame)
	if k.Current() != a {
		t.Fatal("expected ready kernel thread ignored by the usermode scan")
	}
}

func TestTickCollectsTerminated(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	a := makeUser(t, k, "a", 0x401000)
	b := makeUser(t, k, "b", 0x402000)
	frame := startUser(k, a)

	if !k.Kill(a.PID) {
		t.Fatal("expected kill of current to flag it")
	}
	if k.FindByPID(a.PID) == nil {
		t.Fatal("expected current to stay linked while running")
	}

	k.Timer().Advance(1, &frame)
	if k.Current() != b {
		t.Fatal("expected switch away from the terminated process")
	}
	k.Timer().Advance(1, &frame)
	if k.FindByPID(a.PID) != nil {
		t.Fatal("expected terminated process collected once off-processor")
	}
}

func TestCircularScanOrder(t *testing.T) {
	k := bootKernel(t)
	k.InstallScheduler()

	// Registry order newest first: c, b, a, idle.
	a := makeUser(t, k, "a", 0x401000)
	b := makeUser(t, k, "b", 0x402000)
	c := makeUser(t, k, "c", 0x403000)

	frame := startUser(k, b)
	k.Timer().Advance(1, &frame)
	if k.Current() != a {
		t.Fatalf("current = %s; want a (next after b in list order)", k.Current().Name)
	}

	k.Timer().Advance(1, &frame)
	if k.Current() != c {
		t.Fatalf("current = %s; want c (wrapped to list head)", k.Current().Name)
	}
}
