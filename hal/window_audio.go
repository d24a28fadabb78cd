//go:build !headless

package hal

import (
	"io"

	"github.com/hajimehoshi/ebiten/v2/audio"
)

const hostAudioSampleRate = 44100

// StartAudio attaches a real audio player to the host PCM ring. Safe to skip;
// without it enqueued PCM simply accumulates and wraps.
func StartAudio(dev Devices) error {
	h, ok := dev.(*hostDevices)
	if !ok {
		return ErrNotImplemented
	}

	ctx := audio.NewContext(hostAudioSampleRate)
	p, err := ctx.NewPlayer(&hostAudioReader{a: h.aud})
	if err != nil {
		return err
	}
	p.Play()
	return nil
}

// hostAudioReader adapts the PCM ring to the player's pull model, padding
// with silence when the ring runs dry.
type hostAudioReader struct {
	a       *hostAudio
	scratch []int16
}

func (r *hostAudioReader) Read(p []byte) (int, error) {
	if len(p) < 4 {
		return 0, io.ErrShortBuffer
	}
	want := len(p) / 2
	if cap(r.scratch) < want {
		r.scratch = make([]int16, want)
	}
	buf := r.scratch[:want]
	got := r.a.drain(buf)
	for i := got; i < want; i++ {
		buf[i] = 0
	}
	for i, s := range buf {
		p[2*i] = byte(s)
		p[2*i+1] = byte(s >> 8)
	}
	return want * 2, nil
}
