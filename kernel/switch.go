package kernel

// SwitchTo performs a voluntary transfer of control from the current process
// to next. Kernel threads each run on their own goroutine and exchange a
// baton so that exactly one executes at a time; usermode processes have no
// goroutine of their own, switching to one only updates processor and
// registry state and returns to the driver loop.
//
// No-op when next is nil, already current, or not in a runnable state.
func (k *Kernel) SwitchTo(next *Process) {
	if next == nil || next == k.current || (next.State != Ready && next.State != Running) {
		return
	}

	old := k.current
	if old.State == Running {
		old.State = Ready
	}
	next.State = Running

	// The target's address space must be installed before any teardown
	// below frees the old one.
	k.Activate(next)
	k.current = next

	// Save a resumable stack pointer for the outgoing process. Idle runs
	// on the untracked boot stack and has no StackTop of its own.
	if old.StackTop != 0 {
		old.Ctx.RSP = old.StackTop - 8
	} else {
		old.Ctx.RSP = k.bootStack
	}

	if next.baton == nil {
		// Usermode target: no goroutine to hand off to. The driver loop
		// resumes it from the saved frame; the caller keeps executing.
		return
	}
	if !next.started {
		next.started = true
		go k.threadMain(next)
	}
	next.baton <- struct{}{}

	if old.State == Terminated {
		// The dying thread's goroutine unwinds here; its stack and
		// control block are collected by whoever runs next.
		return
	}
	if old.baton != nil {
		<-old.baton
		// Resumed. Collect anything that died while we were parked.
		k.CleanupTerminated()
	}
}

// threadMain is the first-dispatch trampoline for a kernel thread: it waits
// for the baton, runs the entry function, then marks the thread terminated
// and hands control to the next runnable process.
func (k *Kernel) threadMain(p *Process) {
	<-p.baton
	p.entry()
	p.State = Terminated

	// Idle is always linked and runnable, so this always finds a target.
	for q := k.head; q != nil; q = q.next {
		if q != p && (q.State == Ready || q.State == Running) && q.baton != nil {
			k.SwitchTo(q)
			return
		}
	}
}
