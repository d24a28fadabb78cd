//go:build !headless

package hal

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// RunWindow opens a desktop window that presents the framebuffer device and
// forwards typed input to the keyboard device. step runs once per display
// tick. Blocks until the window closes or step fails.
func RunWindow(title string, dev Devices, step func() error) error {
	h, ok := dev.(*hostDevices)
	if !ok || h.fb == nil {
		return ErrNotImplemented
	}

	g := &hostGame{h: h, step: step}
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(int(h.fb.info.Width), int(h.fb.info.Height))
	ebiten.SetTPS(60)
	return ebiten.RunGame(g)
}

type hostGame struct {
	h     *hostDevices
	img   *image.RGBA
	fbImg *ebiten.Image
	step  func() error
}

func (g *hostGame) Update() error {
	g.pollKeys()
	if g.step != nil {
		if err := g.step(); err != nil {
			return err
		}
	}
	if g.h.pwr.Requested() != PowerOn {
		return ebiten.Termination
	}
	return nil
}

func (g *hostGame) pollKeys() {
	for _, r := range ebiten.AppendInputChars(nil) {
		if r < 0x80 {
			g.h.kbd.Push(byte(r))
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		g.h.kbd.Push('\n')
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		g.h.kbd.Push('\b')
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyTab) {
		g.h.kbd.Push('\t')
	}
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	fb := g.h.fb
	w, hgt := int(fb.info.Width), int(fb.info.Height)
	if g.img == nil {
		g.img = image.NewRGBA(image.Rect(0, 0, w, hgt))
		g.fbImg = ebiten.NewImage(w, hgt)
	}

	// Device memory is 32bpp XRGB little endian.
	src := fb.pixels()
	dst := g.img.Pix
	for i := 0; i+3 < len(src) && i+3 < len(dst); i += 4 {
		dst[i+0] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i+0]
		dst[i+3] = 0xFF
	}

	g.fbImg.WritePixels(g.img.Pix)
	screen.DrawImage(g.fbImg, nil)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return int(g.h.fb.info.Width), int(g.h.fb.info.Height)
}
