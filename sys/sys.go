// Package sys implements the system-call layer: the dispatcher that decodes
// a trapped register frame, every call handler, and the user-memory
// validation they share.
package sys

// Call numbers. The caller places the number in RAX and up to three
// arguments in RBX, RCX and RDX; mmap takes extra arguments in RSI, RDI and
// R8. The result comes back in RAX.
const (
	CallExit          = 0
	CallPrint         = 1
	CallGetPID        = 2
	CallGetTime       = 3
	CallSleep         = 4
	CallYield         = 5
	CallMMap          = 20
	CallMUnmap        = 21
	CallBrk           = 22
	CallGetChar       = 30
	CallPoll          = 31
	CallGetCharNB     = 32
	CallFBInfo        = 40
	CallFBMap         = 41
	CallFBFlip        = 42
	CallGetTicks      = 50
	CallSleepMS       = 51
	CallSleepTicks    = 52
	CallGetTicksDelta = 53
	CallRand          = 60
	CallReboot        = 61
	CallShutdown      = 62
	CallHDAWritePCM   = 70
)

// Errno values stored in the per-process last-error slot.
const (
	EBADF  = 9
	ENOMEM = 12
	EFAULT = 14
	EINVAL = 22
)

// mmap protection bits.
const (
	ProtRead  = 0x1
	ProtWrite = 0x2
	ProtExec  = 0x4
)

// mmap flags.
const (
	MapShared    = 0x01
	MapPrivate   = 0x02
	MapFixed     = 0x10
	MapAnonymous = 0x20
)

// Failed is the all-ones failure result; handlers pair it with an errno.
const Failed = ^uint64(0)
