package app

import (
	"encoding/binary"
	"strconv"

	"kiwios/exec"
	"kiwios/kernel"
	"kiwios/mem"
	"kiwios/sys"
)

// Demo image layout: one read-only data segment holding the program's
// strings, with the entry point on the following page.
const (
	demoDataBase  = 0x400000
	demoEntryBase = 0x401000
)

func demoImage(strings ...string) *exec.Image {
	var data []byte
	for _, s := range strings {
		data = append(data, s...)
		data = append(data, 0)
	}
	return &exec.Image{
		Entry: demoEntryBase,
		Data:  data,
		Segments: []exec.Segment{{
			Vaddr:    demoDataBase,
			MemSize:  uint64(len(data)),
			FileSize: uint64(len(data)),
			Flags:    exec.SegRead,
		}},
	}
}

// stringVA returns the virtual address of the i-th string baked into a demo
// image.
func stringVA(i int, strings ...string) uint64 {
	va := uint64(demoDataBase)
	for j := 0; j < i; j++ {
		va += uint64(len(strings[j]) + 1)
	}
	return va
}

// startDemo loads the demo workload: a boot-report kernel thread run once
// via the voluntary switch path, and three scripted user processes
// exercising the framebuffer, the memory calls and the sleep path.
func (s *System) startDemo() error {
	k := s.Kernel
	log := s.Devices.Logger()

	report := k.CreateThread("bootreport", func() {
		total, used, free := k.Phys().Stats()
		log.WriteLineString("bootreport: pages total=" + strconv.Itoa(total) +
			" used=" + strconv.Itoa(used) + " free=" + strconv.Itoa(free))
	})
	if report == nil {
		return exec.ErrNoMemory
	}
	k.SwitchTo(report)

	if err := s.loadPainter(); err != nil {
		return err
	}
	if err := s.loadGreeter(); err != nil {
		return err
	}
	if err := s.loadMapper(); err != nil {
		return err
	}
	return nil
}

// loadPainter maps the framebuffer and sweeps a color gradient across it,
// one row per quantum.
func (s *System) loadPainter() error {
	strs := []string{"painter: framebuffer mapped"}
	img := demoImage(strs...)
	proc, err := exec.Load(s.Kernel, "painter", img)
	if err != nil {
		return err
	}

	var (
		fbVA   uint64
		pitch  uint64
		height uint64
		row    uint64
		shade  uint64
	)
	s.machine.attach(proc, []step{
		func(m *machine, p *kernel.Process) bool {
			fbVA = m.trap(sys.CallFBMap, 0, 0, 0)
			return true
		},
		func(m *machine, p *kernel.Process) bool {
			// Scratch for the info struct goes on the heap.
			scratch := m.trap(sys.CallBrk, 0, 0, 0)
			if m.trap(sys.CallBrk, scratch+64, 0, 0) == sys.Failed {
				return true
			}
			if m.trap(sys.CallFBInfo, scratch, 0, 0) == sys.Failed {
				return true
			}
			height = m.peek64(p, scratch+16)
			pitch = m.peek64(p, scratch+24)
			m.trap(sys.CallPrint, stringVA(0, strs...), 0, 0)
			return true
		},
		func(m *machine, p *kernel.Process) bool {
			if fbVA == sys.Failed || pitch == 0 || height == 0 {
				m.trap(sys.CallExit, 1, 0, 0)
				return true
			}
			shade = m.trap(sys.CallRand, 0, 0, 0)
			base := fbVA + row*pitch
			for x := uint64(0); x+4 <= pitch; x += 4 {
				m.poke(p, base+x, byte(x>>2))
				m.poke(p, base+x+1, byte(row))
				m.poke(p, base+x+2, byte(shade))
				m.poke(p, base+x+3, 0)
			}
			row++
			if row >= height {
				row = 0
			}
			// Paint forever.
			return false
		},
	})
	return nil
}

// loadGreeter prints, sleeps and exits, exercising the sleep switch path.
func (s *System) loadGreeter() error {
	strs := []string{"hello from pid ", "greeter: done"}
	img := demoImage(strs...)
	proc, err := exec.LoadWithArgs(s.Kernel, "greeter", img, []string{"greeter"})
	if err != nil {
		return err
	}

	rounds := 0
	s.machine.attach(proc, []step{
		func(m *machine, p *kernel.Process) bool {
			m.trap(sys.CallPrint, stringVA(0, strs...), 0, 0)
			m.trap(sys.CallSleepMS, 50, 0, 0)
			rounds++
			return rounds >= 5
		},
		func(m *machine, p *kernel.Process) bool {
			m.trap(sys.CallPrint, stringVA(1, strs...), 0, 0)
			m.trap(sys.CallExit, 0, 0, 0)
			return true
		},
	})
	return nil
}

// loadMapper exercises brk, anonymous and file-backed mmap, and munmap.
func (s *System) loadMapper() error {
	motd := "kiwi operating system"
	strs := []string{"mapper: done"}
	img := demoImage(strs...)
	proc, err := exec.Load(s.Kernel, "mapper", img)
	if err != nil {
		return err
	}
	fd := proc.OpenFD("motd", append([]byte(motd), 0))

	s.machine.attach(proc, []step{
		func(m *machine, p *kernel.Process) bool {
			end := m.trap(sys.CallBrk, 0, 0, 0)
			m.trap(sys.CallBrk, end+2*mem.PageSize, 0, 0)
			return true
		},
		func(m *machine, p *kernel.Process) bool {
			va := m.trapMMap(0, mem.PageSize, sys.ProtRead|sys.ProtWrite,
				sys.MapPrivate|sys.MapAnonymous, -1, 0)
			if va != sys.Failed {
				m.poke(p, va, 'k')
				m.trap(sys.CallMUnmap, va, mem.PageSize, 0)
			}
			return true
		},
		func(m *machine, p *kernel.Process) bool {
			va := m.trapMMap(0, mem.PageSize, sys.ProtRead, sys.MapPrivate, fd, 0)
			if va != sys.Failed {
				m.trap(sys.CallPrint, va, 0, 0)
				m.trap(sys.CallMUnmap, va, mem.PageSize, 0)
			}
			return true
		},
		func(m *machine, p *kernel.Process) bool {
			m.trap(sys.CallPrint, stringVA(0, strs...), 0, 0)
			m.trap(sys.CallExit, 0, 0, 0)
			return true
		},
	})
	return nil
}

// peek64 reads a 64-bit word of the current process's memory.
func (m *machine) peek64(p *kernel.Process, va uint64) uint64 {
	if p.Space == nil {
		return 0
	}
	var buf [8]byte
	for i := range buf {
		pa := p.Space.Translate(va + uint64(i))
		if pa == 0 {
			return 0
		}
		b := m.k.Phys().Bytes(pa, 1)
		if b == nil {
			return 0
		}
		buf[i] = b[0]
	}
	return binary.LittleEndian.Uint64(buf[:])
}
