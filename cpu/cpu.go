// Package cpu models the register state of the single logical processor.
//
// Two snapshot shapes exist and are never unified: Context is the minimal
// callee-saved set used by voluntary switches between known call sites, and
// TrapFrame is the full set captured by an interrupt or trap. They have
// different restore semantics.
package cpu

// Segment selectors.
const (
	SelKernelCode = 0x08
	SelKernelData = 0x10
	SelUserCode   = 0x1B
	SelUserData   = 0x23
)

// FlagsDefault is the RFLAGS value seeded into fresh contexts: interrupts
// enabled, reserved bit 1 set.
const FlagsDefault = 0x202

// Context is the voluntary switch snapshot: stack and frame pointer, the
// preserved general registers, and the flags word. Only the voluntary switch
// engine reads or writes it.
type Context struct {
	RSP    uint64
	RBP    uint64
	RBX    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	RFlags uint64
}

// TrapFrame is the full interrupt snapshot, in push order of the trap entry
// shim followed by the hardware-pushed tail.
type TrapFrame struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64

	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// UserMode reports whether the frame was captured while the processor ran in
// ring 3. A frame captured in ring 0 has no valid user stack pointer/segment
// pair and must not be rewritten.
func (f *TrapFrame) UserMode() bool {
	return f.CS&0x3 == 0x3
}
