// Package exec turns a validated executable image into a runnable usermode
// process: address space, loaded segments, user stack, heap floor and the
// initial trap frame.
package exec

import "errors"

var (
	// ErrBadImage means the descriptor is inconsistent with its bytes.
	ErrBadImage = errors.New("exec: malformed image")
	// ErrNotStatic means the image needs an interpreter or dynamic linking.
	ErrNotStatic = errors.New("exec: image is not statically linked")
	// ErrNoMemory means an allocation failed; everything taken so far has
	// been rolled back.
	ErrNoMemory = errors.New("exec: out of memory")
)

// Segment permission flags, matching ELF p_flags bit positions.
type SegFlags uint32

const (
	SegExec  SegFlags = 1 << 0
	SegWrite SegFlags = 1 << 1
	SegRead  SegFlags = 1 << 2
)

// Segment is one loadable region of an image.
type Segment struct {
	Vaddr    uint64
	MemSize  uint64
	FileSize uint64
	// Offset locates the segment's bytes inside Image.Data.
	Offset uint64
	Align  uint64
	Flags  SegFlags
}

// Image is the descriptor a format validator produces from an executable
// file: the raw bytes plus the parsed load view of them.
type Image struct {
	Entry    uint64
	Segments []Segment
	Data     []byte

	// Interp and Dynamic flag images that need a runtime loader.
	Interp  bool
	Dynamic bool

	// HasStackNote and StackWritable carry the image's stack-permission
	// note; without a note the stack defaults to writable.
	HasStackNote  bool
	StackWritable bool
}

func (img *Image) stackWritable() bool {
	if !img.HasStackNote {
		return true
	}
	return img.StackWritable
}

// highestAddr returns the end address of the highest loadable segment, or 0
// when the image has none.
func (img *Image) highestAddr() uint64 {
	var highest uint64
	for _, seg := range img.Segments {
		if end := seg.Vaddr + seg.MemSize; end > highest {
			highest = end
		}
	}
	return highest
}
