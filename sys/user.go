package sys

import (
	"encoding/binary"

	"kiwios/kernel"
)

// userRange reports whether [ptr, ptr+n) lies entirely inside the user
// address range: below the direct mapping, below the user ceiling, and not
// wrapping.
func (d *Dispatcher) userRange(ptr, n uint64) bool {
	if ptr >= d.k.Config().DirectMapBase {
		return false
	}
	if ptr+n < ptr {
		return false
	}
	return ptr+n <= d.k.Config().MaxUserAddr
}

// readUserByte reads one byte of p's memory through its address space and
// the physical arena. False means the address does not resolve.
func (d *Dispatcher) readUserByte(p *kernel.Process, va uint64) (byte, bool) {
	if p.Space == nil {
		return 0, false
	}
	pa := p.Space.Translate(va)
	if pa == 0 {
		return 0, false
	}
	b := d.k.Phys().Bytes(pa, 1)
	if b == nil {
		return 0, false
	}
	return b[0], true
}

func (d *Dispatcher) writeUserByte(p *kernel.Process, va uint64, v byte) bool {
	if p.Space == nil {
		return false
	}
	pa := p.Space.Translate(va)
	if pa == 0 {
		return false
	}
	b := d.k.Phys().Bytes(pa, 1)
	if b == nil {
		return false
	}
	b[0] = v
	return true
}

// readUser copies n bytes starting at va, one byte at a time so that page
// boundaries need no special casing. Nil means part of the range does not
// resolve.
func (d *Dispatcher) readUser(p *kernel.Process, va, n uint64) []byte {
	out := make([]byte, n)
	for i := uint64(0); i < n; i++ {
		b, ok := d.readUserByte(p, va+i)
		if !ok {
			return nil
		}
		out[i] = b
	}
	return out
}

func (d *Dispatcher) writeUser64(p *kernel.Process, va, v uint64) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	for i, b := range buf {
		if !d.writeUserByte(p, va+uint64(i), b) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) writeUser16(p *kernel.Process, va uint64, v uint16) bool {
	return d.writeUserByte(p, va, byte(v)) && d.writeUserByte(p, va+1, byte(v>>8))
}

// userString scans a NUL-terminated string at va, capped at the configured
// maximum. False means the pointer is bad or no terminator was found within
// the cap.
func (d *Dispatcher) userString(p *kernel.Process, va uint64) (string, bool) {
	if !d.userRange(va, 1) {
		return "", false
	}
	max := uint64(d.k.Config().MaxStringLen)
	buf := make([]byte, 0, 64)
	for i := uint64(0); i < max; i++ {
		if !d.userRange(va+i, 1) {
			return "", false
		}
		b, ok := d.readUserByte(p, va+i)
		if !ok {
			return "", false
		}
		if b == 0 {
			return string(buf), true
		}
		buf = append(buf, b)
	}
	return "", false
}
