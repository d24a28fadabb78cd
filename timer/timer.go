// Package timer models the periodic hardware timer: a monotonic tick count,
// a configured frequency, and a single registered per-tick callback.
package timer

import "kiwios/cpu"

// Handler is invoked once per tick with the in-flight interrupt frame.
type Handler func(frame *cpu.TrapFrame)

// Timer is the tick source. The host loop and tests drive it synchronously
// through Advance; there is no background goroutine, matching the
// run-to-completion interrupt model.
type Timer struct {
	ticks   uint64
	freq    uint32
	handler Handler
}

// New creates a timer with the given frequency in Hz.
func New(freq uint32) *Timer {
	return &Timer{freq: freq}
}

// Ticks returns the tick count since boot.
func (t *Timer) Ticks() uint64 {
	return t.ticks
}

// Frequency returns the configured tick rate in Hz.
func (t *Timer) Frequency() uint32 {
	return t.freq
}

// OnTick registers the per-tick callback. Only one handler is supported; a
// second registration replaces the first.
func (t *Timer) OnTick(h Handler) {
	t.handler = h
}

// Advance delivers n ticks, invoking the handler after each increment with
// the supplied in-flight frame.
func (t *Timer) Advance(n uint64, frame *cpu.TrapFrame) {
	for i := uint64(0); i < n; i++ {
		t.ticks++
		if t.handler != nil {
			t.handler(frame)
		}
	}
}
