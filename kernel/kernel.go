// Package kernel implements the process core: the registry of control
// blocks, the voluntary context switch engine, the preemptive scheduler and
// process teardown.
//
// All registry and current-process state lives on the Kernel object built
// once at boot. It is deliberately unsynchronized: every mutation happens
// either during single-threaded startup or inside the non-reentrant
// interrupt/trap path, and control transfer between kernel threads is a
// baton handoff, never parallel execution.
package kernel

import (
	"kiwios/config"
	"kiwios/cpu"
	"kiwios/hal"
	"kiwios/mem"
	"kiwios/timer"
)

// Kernel owns the process registry, the current-process reference and the
// processor model (active address space, kernel stack register).
type Kernel struct {
	cfg    config.Config
	phys   *mem.Physical
	kspace *mem.Space
	tm     *timer.Timer
	log    hal.Logger

	head    *Process
	current *Process

	nextPID     uint32
	nextUserPID uint32

	// Processor state: the active address-space table and the privileged
	// kernel-stack-pointer register.
	active *mem.Space
	kstack uint64

	// bootStack stands in for the untracked boot stack idle runs on.
	bootStack uint64

	inScheduler bool
}

// New assembles a kernel around its collaborators. Call Boot before use.
func New(cfg config.Config, phys *mem.Physical, kspace *mem.Space, tm *timer.Timer, log hal.Logger) *Kernel {
	return &Kernel{
		cfg:         cfg,
		phys:        phys,
		kspace:      kspace,
		tm:          tm,
		log:         log,
		nextPID:     1,
		nextUserPID: 100,
		bootStack:   cfg.DirectMapBase,
	}
}

// Boot creates the idle process (pid 0) as the running current process. The
// calling goroutine becomes idle's execution context.
func (k *Kernel) Boot() *Process {
	idle := &Process{
		PID:        0,
		Name:       "idle",
		State:      Running,
		StartTicks: k.tm.Ticks(),
		started:    true,
		baton:      make(chan struct{}, 1),
	}
	idle.resetFDs()
	idle.resetCWD()

	k.head = idle
	k.current = idle
	k.active = k.kspace
	if k.log != nil {
		k.log.WriteLineString("kernel: boot, idle is pid 0")
	}
	return idle
}

// CreateThread allocates a kernel thread that will run entry on its first
// dispatch. Returns nil if the kernel stack cannot be allocated.
func (k *Kernel) CreateThread(name string, entry func()) *Process {
	p := &Process{
		PID:        k.nextPID,
		Name:       truncateName(name),
		State:      Ready,
		StartTicks: k.tm.Ticks(),
		entry:      entry,
		baton:      make(chan struct{}, 1),
	}
	k.nextPID++
	p.resetFDs()
	p.resetCWD()

	stackPhys := k.phys.AllocPages(k.cfg.KernelStackPages)
	if stackPhys == 0 {
		return nil
	}
	p.StackTop = k.phys.VirtOf(stackPhys) + uint64(k.cfg.KernelStackPages)*mem.PageSize

	// Seed the synthetic return slot the first dispatch resumes through.
	p.Ctx.RSP = p.StackTop - 8
	p.Ctx.RFlags = cpu.FlagsDefault

	k.Link(p)
	return p
}

// NewUserProcess allocates an unlinked usermode control block with the next
// user pid. The loader fills in its address space and links it on success.
func (k *Kernel) NewUserProcess(name string) *Process {
	p := &Process{
		PID:        k.nextUserPID,
		Name:       truncateName(name),
		State:      Ready,
		Usermode:   true,
		StartTicks: k.tm.Ticks(),
		started:    true,
	}
	k.nextUserPID++
	p.resetFDs()
	p.resetCWD()
	return p
}

// Link prepends a process to the registry.
func (k *Kernel) Link(p *Process) {
	p.next = k.head
	k.head = p
}

func (k *Kernel) unlink(p *Process) {
	if k.head == p {
		k.head = p.next
		p.next = nil
		return
	}
	for q := k.head; q != nil; q = q.next {
		if q.next == p {
			q.next = p.next
			p.next = nil
			return
		}
	}
}

// Current returns the currently executing process.
func (k *Kernel) Current() *Process {
	return k.current
}

// SetCurrent updates the current-process reference.
func (k *Kernel) SetCurrent(p *Process) {
	k.current = p
}

// Processes returns a registry snapshot, newest first.
func (k *Kernel) Processes() []*Process {
	var out []*Process
	for p := k.head; p != nil; p = p.next {
		out = append(out, p)
	}
	return out
}

// FindByPID scans the registry for pid.
func (k *Kernel) FindByPID(pid uint32) *Process {
	for p := k.head; p != nil; p = p.next {
		if p.PID == pid {
			return p
		}
	}
	return nil
}

// Kill flags pid for termination. Pid 0 is rejected. Killing the current
// process only flags it; teardown is deferred to the next scheduling point
// because a process cannot free the stack it runs on. Any other target is
// collected immediately.
func (k *Kernel) Kill(pid uint32) bool {
	if pid == 0 {
		return false
	}
	target := k.FindByPID(pid)
	if target == nil {
		return false
	}
	if target == k.current {
		target.State = Terminated
		return true
	}
	target.State = Terminated
	k.CleanupTerminated()
	return true
}

// Activate installs p's address space (or the shared kernel space) and
// programs the kernel-stack register for p.
func (k *Kernel) Activate(p *Process) {
	if p.Space != nil {
		k.active = p.Space
	} else {
		k.active = k.kspace
	}
	k.kstack = p.StackTop
}

// ActiveSpace returns the currently installed address-space table.
func (k *Kernel) ActiveSpace() *mem.Space {
	return k.active
}

// KernelStack returns the value of the kernel-stack register.
func (k *Kernel) KernelStack() uint64 {
	return k.kstack
}

// Phys returns the physical page allocator.
func (k *Kernel) Phys() *mem.Physical {
	return k.phys
}

// KernelSpace returns the shared kernel address-space table.
func (k *Kernel) KernelSpace() *mem.Space {
	return k.kspace
}

// Timer returns the tick source.
func (k *Kernel) Timer() *timer.Timer {
	return k.tm
}

// Config returns the machine layout.
func (k *Kernel) Config() config.Config {
	return k.cfg
}

// Logger returns the boot console logger.
func (k *Kernel) Logger() hal.Logger {
	return k.log
}
