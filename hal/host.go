package hal

import (
	"fmt"
	"os"
	"sync"

	"kiwios/mem"
)

type hostDevices struct {
	logger *hostLogger
	fb     *hostFramebuffer
	kbd    *hostKeyboard
	aud    *hostAudio
	pwr    *hostPower
}

// New returns the host device set. The framebuffer's pixel memory is reserved
// from the physical arena so the kernel can map it like real device memory;
// pass zero dimensions to run without a display.
func New(phys *mem.Physical, width, height int) Devices {
	d := &hostDevices{
		logger: &hostLogger{w: os.Stdout},
		kbd:    newHostKeyboard(),
		aud:    newHostAudio(),
		pwr:    &hostPower{},
	}
	if width > 0 && height > 0 {
		d.fb = newHostFramebuffer(phys, width, height)
	}
	return d
}

func (d *hostDevices) Logger() Logger     { return d.logger }
func (d *hostDevices) Display() Display   { return d.fb }
func (d *hostDevices) Keyboard() Keyboard { return d.kbd }
func (d *hostDevices) Audio() Audio       { return d.aud }
func (d *hostDevices) Power() Power       { return d.pwr }

type hostLogger struct {
	mu sync.Mutex
	w  *os.File
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

// hostFramebuffer backs its pixels with reserved pages in the simulated
// physical arena, 32bpp XRGB.
type hostFramebuffer struct {
	phys *mem.Physical
	info FramebufferInfo
}

func newHostFramebuffer(phys *mem.Physical, width, height int) *hostFramebuffer {
	if phys == nil {
		return nil
	}
	pitch := uint64(width) * 4
	size := pitch * uint64(height)
	pages := int(mem.AlignUp(size) / mem.PageSize)
	base := phys.Reserve(pages)
	if base == 0 {
		return nil
	}
	return &hostFramebuffer{
		phys: phys,
		info: FramebufferInfo{
			PhysBase: base,
			Width:    uint64(width),
			Height:   uint64(height),
			Pitch:    pitch,
			BPP:      32,
		},
	}
}

func (f *hostFramebuffer) Info() (FramebufferInfo, bool) {
	if f == nil {
		return FramebufferInfo{}, false
	}
	return f.info, true
}

// pixels returns the live pixel memory through the direct mapping.
func (f *hostFramebuffer) pixels() []byte {
	return f.phys.Bytes(f.info.PhysBase, int(f.info.Pitch*f.info.Height))
}

type hostKeyboard struct {
	ch chan byte
}

func newHostKeyboard() *hostKeyboard {
	return &hostKeyboard{ch: make(chan byte, 256)}
}

func (k *hostKeyboard) GetChar() byte {
	return <-k.ch
}

func (k *hostKeyboard) TryGetChar() (byte, bool) {
	select {
	case b := <-k.ch:
		return b, true
	default:
		return 0, false
	}
}

func (k *hostKeyboard) Poll() bool {
	return len(k.ch) > 0
}

// Push feeds input bytes, dropping on overflow.
func (k *hostKeyboard) Push(b byte) {
	select {
	case k.ch <- b:
	default:
	}
}

// PushInput feeds keyboard bytes into the host device set.
func PushInput(d Devices, s string) {
	h, ok := d.(*hostDevices)
	if !ok {
		return
	}
	for i := 0; i < len(s); i++ {
		h.kbd.Push(s[i])
	}
}

// hostAudio buffers interleaved stereo PCM in a ring. The window backend
// drains it into a real audio player; headless runs just let it wrap.
type hostAudio struct {
	mu  sync.Mutex
	buf []int16
	r   int
	w   int
	n   int
}

const hostAudioChannels = 2

func newHostAudio() *hostAudio {
	return &hostAudio{buf: make([]int16, 16384)}
}

func (a *hostAudio) Channels() int { return hostAudioChannels }

func (a *hostAudio) EnqueuePCM(samples []int16, frames int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := frames * hostAudioChannels
	if want > len(samples) {
		want = len(samples) - len(samples)%hostAudioChannels
	}
	accepted := 0
	for accepted < want && a.n < len(a.buf) {
		a.buf[a.w] = samples[accepted]
		a.w = (a.w + 1) % len(a.buf)
		a.n++
		accepted++
	}
	return accepted / hostAudioChannels
}

// drain pops up to len(dst) buffered samples and returns how many it wrote.
func (a *hostAudio) drain(dst []int16) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	got := 0
	for got < len(dst) && a.n > 0 {
		dst[got] = a.buf[a.r]
		a.r = (a.r + 1) % len(a.buf)
		a.n--
		got++
	}
	return got
}

type hostPower struct {
	mu    sync.Mutex
	state PowerState
}

func (p *hostPower) Reboot() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = PowerReboot
}

func (p *hostPower) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = PowerOff
}

func (p *hostPower) Requested() PowerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
