package app

import (
	"kiwios/cpu"
	"kiwios/kernel"
	"kiwios/sys"
	"kiwios/timer"
)

// step is one instruction quantum of a scripted user program. It receives
// the machine so it can trap (issue a system call against the live frame) or
// touch the program's mapped memory; returning false replays the same step
// on the next quantum.
type step func(m *machine, p *kernel.Process) bool

type program struct {
	pc    int
	steps []step
}

// machine stands in for the processor: it owns the one in-flight trap frame,
// advances the timer, and executes the current usermode process's scripted
// program one step per tick.
type machine struct {
	k     *kernel.Kernel
	d     *sys.Dispatcher
	tm    *timer.Timer
	frame cpu.TrapFrame

	programs map[uint32]*program
}

func newMachine(k *kernel.Kernel, d *sys.Dispatcher, tm *timer.Timer) *machine {
	return &machine{k: k, d: d, tm: tm, programs: make(map[uint32]*program)}
}

func (m *machine) attach(p *kernel.Process, steps []step) {
	m.programs[p.PID] = &program{steps: steps}
}

// Step delivers one timer tick into the live frame and then runs one quantum
// of whichever usermode process the scheduler left current.
func (m *machine) Step() error {
	m.tm.Advance(1, &m.frame)

	cur := m.k.Current()
	if cur == nil {
		return nil
	}

	// Ring 0 with a ready user process waiting: drop into usermode from
	// the process's saved frame, the way first dispatch does.
	if !cur.Usermode || cur.State != kernel.Running {
		m.enterUser()
		cur = m.k.Current()
	}
	if cur == nil || !cur.Usermode || cur.State != kernel.Running {
		return nil
	}

	prog, ok := m.programs[cur.PID]
	if !ok || prog.pc >= len(prog.steps) {
		return nil
	}
	if prog.steps[prog.pc](m, cur) {
		prog.pc++
	}
	return nil
}

func (m *machine) enterUser() {
	for _, p := range m.k.Processes() {
		if p.State == kernel.Ready && p.Usermode && p.PID != 0 {
			if cur := m.k.Current(); cur != nil && cur.State == kernel.Running {
				cur.State = kernel.Ready
			}
			p.State = kernel.Running
			p.Interrupted = true
			m.k.Activate(p)
			m.k.SetCurrent(p)
			m.frame = p.Frame
			return
		}
	}
}

// trap issues a system call: argument registers into the live frame, then
// the dispatcher. Returns the result register.
func (m *machine) trap(num, a1, a2, a3 uint64) uint64 {
	m.frame.RAX = num
	m.frame.RBX = a1
	m.frame.RCX = a2
	m.frame.RDX = a3
	m.d.Handle(&m.frame)
	return m.frame.RAX
}

// trapMMap issues the six-argument mapping call.
func (m *machine) trapMMap(addr, length, prot, flags uint64, fd int, offset uint64) uint64 {
	m.frame.RSI = flags
	m.frame.RDI = uint64(fd)
	m.frame.R8 = offset
	return m.trap(sys.CallMMap, addr, length, prot)
}

// poke writes one byte of the current process's memory, standing in for a
// user-mode store.
func (m *machine) poke(p *kernel.Process, va uint64, v byte) {
	if p.Space == nil {
		return
	}
	pa := p.Space.Translate(va)
	if pa == 0 {
		return
	}
	if b := m.k.Phys().Bytes(pa, 1); b != nil {
		b[0] = v
	}
}
