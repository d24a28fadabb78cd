// Package hal defines the device collaborators the syscall layer passes
// through to: console logging, the framebuffer, keyboard input, PCM audio,
// and machine power control.
package hal

import "errors"

var ErrNotImplemented = errors.New("not implemented")

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// FramebufferInfo describes the framebuffer device. PhysBase is the physical
// base of its pixel memory; the kernel maps it into user address spaces and
// must never hand those pages to the page allocator.
type FramebufferInfo struct {
	PhysBase uint64
	Width    uint64
	Height   uint64
	Pitch    uint64
	BPP      uint16
}

// Display provides access to the framebuffer, if one exists.
type Display interface {
	Info() (FramebufferInfo, bool)
}

// Keyboard provides byte-oriented key input.
type Keyboard interface {
	// GetChar blocks until a byte is available.
	GetChar() byte
	// TryGetChar returns the next byte without blocking.
	TryGetChar() (byte, bool)
	// Poll reports whether input is waiting.
	Poll() bool
}

// Audio accepts interleaved signed 16-bit PCM frames.
type Audio interface {
	// Channels returns the output channel count.
	Channels() int
	// EnqueuePCM buffers up to frames interleaved frames from samples and
	// returns how many were accepted.
	EnqueuePCM(samples []int16, frames int) int
}

// PowerState is the machine power request, if any.
type PowerState uint8

const (
	PowerOn PowerState = iota
	PowerReboot
	PowerOff
)

func (s PowerState) String() string {
	switch s {
	case PowerOn:
		return "on"
	case PowerReboot:
		return "reboot"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// Power controls machine reset and shutdown.
type Power interface {
	Reboot()
	Shutdown()
	Requested() PowerState
}

// Devices is the full set of collaborators handed to the syscall dispatcher.
type Devices interface {
	Logger() Logger
	Display() Display
	Keyboard() Keyboard
	Audio() Audio
	Power() Power
}
