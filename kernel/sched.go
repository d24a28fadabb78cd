package kernel

import "kiwios/cpu"

// InstallScheduler hooks the preemption path onto the timer so every tick
// drives sleep wakeups, deferred teardown and usermode round-robin.
func (k *Kernel) InstallScheduler() {
	k.tm.OnTick(k.schedulerTick)
}

func (k *Kernel) schedulerTick(frame *cpu.TrapFrame) {
	if k.inScheduler {
		return
	}
	k.inScheduler = true
	defer func() { k.inScheduler = false }()

	k.wakeSleepers()
	k.CleanupTerminated()

	// Preemption only applies when the tick interrupted ring 3. A tick
	// landing in kernel code (frame nil or CS ring 0) must not swap the
	// saved usermode frame out from under it.
	if frame == nil || !frame.UserMode() {
		return
	}

	next := k.nextReadyUser()
	if next == nil {
		return
	}

	cur := k.current
	cur.Frame = *frame
	cur.Interrupted = true
	if cur.State == Running {
		cur.State = Ready
	}

	*frame = next.Frame
	next.State = Running
	next.Interrupted = true
	k.Activate(next)
	k.current = next
}

// wakeSleepers promotes every sleeping process whose deadline has passed.
func (k *Kernel) wakeSleepers() {
	now := k.tm.Ticks()
	for p := k.head; p != nil; p = p.next {
		if p.State == Sleeping && now >= p.SleepUntil {
			p.State = Ready
		}
	}
}

// nextReadyUser scans the registry circularly starting after the current
// process for the next ready usermode process. Returns nil when current is
// the only candidate.
func (k *Kernel) nextReadyUser() *Process {
	start := k.current
	p := start.next
	for {
		if p == nil {
			p = k.head
		}
		if p == start {
			return nil
		}
		if p.State == Ready && p.PID != 0 && p.Usermode {
			return p
		}
		p = p.next
	}
}
