package sys

import (
	"encoding/binary"

	"kiwios/cpu"
	"kiwios/kernel"
)

// switchToNextUser retargets the in-flight frame at another ready usermode
// process, or failing that at the idle context. Returns false when neither
// exists and the caller must keep running.
func (d *Dispatcher) switchToNextUser(frame *cpu.TrapFrame) bool {
	d.k.CleanupTerminated()
	current := d.k.Current()

	for _, next := range d.k.Processes() {
		if next == current || next.State != kernel.Ready || next.PID == 0 || !next.Usermode {
			continue
		}
		// The saved frame is always complete: the loader pre-seeds it
		// for processes that have never run.
		*frame = next.Frame
		next.Interrupted = true
		next.State = kernel.Running
		d.k.Activate(next)
		d.k.SetCurrent(next)
		return true
	}

	// No ready user process. Resume the idle kernel context if it has a
	// saved stack to return into.
	idle := d.k.FindByPID(0)
	if idle == nil || idle.Ctx.RSP == 0 {
		return false
	}

	*frame = cpu.TrapFrame{
		RIP:    d.savedReturnAddr(idle.Ctx.RSP),
		CS:     cpu.SelKernelCode,
		SS:     cpu.SelKernelData,
		RFlags: idle.Ctx.RFlags,
		RSP:    idle.Ctx.RSP + 8,
		RBP:    idle.Ctx.RBP,
		RBX:    idle.Ctx.RBX,
		R12:    idle.Ctx.R12,
		R13:    idle.Ctx.R13,
		R14:    idle.Ctx.R14,
		R15:    idle.Ctx.R15,
	}

	idle.State = kernel.Running
	d.k.Activate(idle)
	d.k.SetCurrent(idle)
	return true
}

// savedReturnAddr reads the return slot at the top of a saved kernel stack.
// Zero when the stack address is not direct-map backed.
func (d *Dispatcher) savedReturnAddr(rsp uint64) uint64 {
	phys := d.k.Phys()
	b := phys.Bytes(phys.PhysOf(rsp), 8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// requestSleepUntil parks the current process until target and hands the
// frame to someone else. False means nothing else was runnable and the
// caller resumes immediately.
func (d *Dispatcher) requestSleepUntil(frame *cpu.TrapFrame, target uint64) bool {
	current := d.k.Current()
	if current == nil {
		return false
	}

	current.SleepUntil = target
	current.State = kernel.Sleeping
	current.SleepInterrupted = false

	current.Frame = *frame
	current.Frame.RAX = 0
	current.Interrupted = true

	if d.switchToNextUser(frame) {
		return true
	}
	current.State = kernel.Running
	return false
}

// exit terminates the current process and switches away. Returns false only
// when no other context could take over.
func (d *Dispatcher) exit(frame *cpu.TrapFrame, code uint64) bool {
	current := d.k.Current()
	if current != nil {
		current.ReleaseFDs()
		current.State = kernel.Terminated
		d.dev.Logger().WriteLineString("process " + current.Name + " exited with code " + hex(code))
	}

	d.k.CleanupTerminated()

	if d.switchToNextUser(frame) {
		return true
	}

	d.dev.Logger().WriteLineString("all processes finished")
	return false
}
