package kernel

import (
	"kiwios/cpu"
	"kiwios/mem"
)

// State is the process lifecycle state.
type State uint8

const (
	Ready State = iota
	Running
	Sleeping
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MaxFDs is the size of the per-process descriptor table.
const MaxFDs = 32

const maxNameLen = 63

// FD is one open-descriptor slot.
type FD struct {
	InUse  bool
	Name   string
	Data   []byte
	Size   uint64
	Offset uint64
	Flags  int
}

// Process is the control block for one unit of execution.
//
// The two saved register shapes are deliberately distinct: Ctx is only read
// and written by the voluntary switch engine, Frame only by the preemptive
// scheduler and the trap path.
type Process struct {
	PID   uint32
	Name  string
	State State

	Ctx   cpu.Context
	Frame cpu.TrapFrame

	// StackTop is the direct-mapped top of the kernel stack; UserStackTop
	// is the virtual top of the user stack for usermode processes.
	StackTop     uint64
	UserStackTop uint64

	HeapStart uint64
	HeapEnd   uint64

	// Space is the exclusively owned address-space table; nil means the
	// process runs in the shared kernel space.
	Space    *mem.Space
	Usermode bool

	// Interrupted distinguishes a never-scheduled process from one
	// resuming after preemption.
	Interrupted bool

	// Device memory mapped into this process; never returned to the page
	// allocator.
	FBPhysBase uint64
	FBSize     uint64
	FBVirtBase uint64

	StartTicks uint64

	SleepUntil       uint64
	SleepInterrupted bool

	Errno int

	FDs     [MaxFDs]FD
	fdsInit bool

	CWD     string
	cwdInit bool

	// Pending entry point for a kernel thread that has not run yet; the
	// first dispatch into the thread calls it.
	entry   func()
	started bool
	baton   chan struct{}

	next *Process
}

func truncateName(name string) string {
	if len(name) > maxNameLen {
		return name[:maxNameLen]
	}
	return name
}

func (p *Process) resetFDs() {
	for i := range p.FDs {
		p.FDs[i] = FD{}
	}
	p.fdsInit = true
}

func (p *Process) resetCWD() {
	p.CWD = "/"
	p.cwdInit = true
}

// OpenFD installs data under name in the first free descriptor slot and
// returns its index, or -1 when the table is full.
func (p *Process) OpenFD(name string, data []byte) int {
	if !p.fdsInit {
		p.resetFDs()
	}
	for i := range p.FDs {
		if p.FDs[i].InUse {
			continue
		}
		p.FDs[i] = FD{
			InUse: true,
			Name:  truncateName(name),
			Data:  data,
			Size:  uint64(len(data)),
		}
		return i
	}
	return -1
}

// ReleaseFDs marks every descriptor unused, dropping any buffered data.
func (p *Process) ReleaseFDs() {
	if !p.fdsInit {
		return
	}
	for i := range p.FDs {
		p.FDs[i] = FD{}
	}
}

// FBReserved reports whether phys falls inside this process's device
// mapping.
func (p *Process) FBReserved(phys uint64) bool {
	if p.FBSize == 0 {
		return false
	}
	end := p.FBPhysBase + p.FBSize
	if end < p.FBPhysBase {
		return false
	}
	return phys >= p.FBPhysBase && phys < end
}
