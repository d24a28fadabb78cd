package sys

import (
	"encoding/binary"
	"strconv"

	"kiwios/cpu"
	"kiwios/hal"
	"kiwios/kernel"
)

// Dispatcher decodes and executes system calls against one kernel and its
// devices.
type Dispatcher struct {
	k   *kernel.Kernel
	dev hal.Devices

	// xorshift state for the rand call.
	lfsr uint32
}

// New builds a dispatcher.
func New(k *kernel.Kernel, dev hal.Devices) *Dispatcher {
	return &Dispatcher{k: k, dev: dev, lfsr: 0xACE1}
}

func setErrno(p *kernel.Process, err int) {
	if p != nil {
		p.Errno = err
	}
}

// Handle executes the call encoded in frame: number in RAX, arguments in
// RBX, RCX, RDX. The result lands in frame RAX, except on paths that switch
// the frame to another process.
func (d *Dispatcher) Handle(frame *cpu.TrapFrame) {
	num := frame.RAX
	arg1 := frame.RBX
	arg2 := frame.RCX
	arg3 := frame.RDX

	var retval uint64

	switch num {
	case CallPrint:
		cur := d.k.Current()
		if s, ok := d.userString(cur, arg1); arg1 != 0 && ok {
			d.dev.Logger().WriteLineString(s)
			retval = uint64(len(s))
		} else {
			d.dev.Logger().WriteLineString("[invalid string pointer]")
			retval = Failed
		}

	case CallGetPID:
		if cur := d.k.Current(); cur != nil {
			retval = uint64(cur.PID)
		}

	case CallGetTime, CallGetTicks:
		retval = d.k.Timer().Ticks()

	case CallSleep, CallSleepMS:
		cur := d.k.Current()
		ticks, ok := msToTicks(arg1, uint64(d.k.Timer().Frequency()))
		if cur == nil || !ok {
			setErrno(cur, EINVAL)
			retval = Failed
			break
		}
		if d.requestSleepUntil(frame, d.k.Timer().Ticks()+ticks) {
			return
		}

	case CallSleepTicks:
		if d.k.Current() == nil {
			retval = Failed
			break
		}
		if d.requestSleepUntil(frame, d.k.Timer().Ticks()+arg1) {
			return
		}

	case CallYield:
		// The timer will reschedule us; nothing to do here.

	case CallGetChar:
		retval = uint64(d.dev.Keyboard().GetChar())

	case CallGetCharNB:
		if c, ok := d.dev.Keyboard().TryGetChar(); ok {
			retval = uint64(c)
		} else {
			retval = Failed
		}

	case CallPoll:
		if d.dev.Keyboard().Poll() {
			retval = 1
		}

	case CallHDAWritePCM:
		retval = d.hdaWritePCM(arg1, arg2)

	case CallFBInfo:
		retval = d.fbInfo(arg1)

	case CallFBMap:
		retval = d.fbMap()

	case CallFBFlip:
		// Single-buffered; succeed so callers don't bail.

	case CallBrk:
		retval = d.brk(arg1)

	case CallMMap:
		retval = d.mmap(arg1, arg2, arg3, frame.RSI, int(frame.RDI), frame.R8)

	case CallMUnmap:
		retval = d.munmap(arg1, arg2)

	case CallExit:
		if d.exit(frame, arg1) {
			return
		}

	case CallGetTicksDelta:
		if cur := d.k.Current(); cur != nil {
			retval = d.k.Timer().Ticks() - cur.StartTicks
		}

	case CallRand:
		d.lfsr ^= d.lfsr << 13
		d.lfsr ^= d.lfsr >> 17
		d.lfsr ^= d.lfsr << 5
		retval = uint64(d.lfsr)

	case CallReboot:
		d.dev.Power().Reboot()

	case CallShutdown:
		d.dev.Power().Shutdown()

	default:
		d.dev.Logger().WriteLineString("[invalid syscall number]")
		retval = Failed
	}

	frame.RAX = retval
}

// msToTicks converts milliseconds to timer ticks, refusing overflow.
func msToTicks(ms, freq uint64) (uint64, bool) {
	if freq == 0 {
		return 0, false
	}
	if ms != 0 && ms > ^uint64(0)/freq {
		return 0, false
	}
	return ms * freq / 1000, true
}

func (d *Dispatcher) hdaWritePCM(ptr, frames uint64) uint64 {
	channels := d.dev.Audio().Channels()
	frameBytes := uint64(channels) * 2
	totalBytes := frames * frameBytes

	if frames == 0 || totalBytes == 0 {
		return 0
	}
	if !d.userRange(ptr, totalBytes) {
		return Failed
	}

	raw := d.readUser(d.k.Current(), ptr, totalBytes)
	if raw == nil {
		return Failed
	}
	samples := make([]int16, totalBytes/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return uint64(d.dev.Audio().EnqueuePCM(samples, int(frames)))
}

func hex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
