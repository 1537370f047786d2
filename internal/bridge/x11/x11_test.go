package x11

import (
	"image"
	"image/color"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
)

func TestConvertImageData(t *testing.T) {
	b := &Bridge{screen: &xproto.ScreenInfo{RootDepth: 24}}

	// Two pixels in X11 BGRA order: pure red, then pure blue.
	data := []byte{
		0x00, 0x00, 0xff, 0x00,
		0xff, 0x00, 0x00, 0x00,
	}
	img := b.convertImageData(data, image.Rect(0, 0, 2, 1))

	if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 255, A: 255}) {
		t.Errorf("pixel 0 = %+v, want red", got)
	}
	if got := img.RGBAAt(1, 0); got != (color.RGBA{B: 255, A: 255}) {
		t.Errorf("pixel 1 = %+v, want blue", got)
	}
}

func TestConvertImageDataOffsetBounds(t *testing.T) {
	b := &Bridge{screen: &xproto.ScreenInfo{RootDepth: 32}}

	r := image.Rect(10, 20, 12, 21)
	data := make([]byte, r.Dx()*r.Dy()*4)
	img := b.convertImageData(data, r)

	if img.Bounds() != r {
		t.Errorf("bounds = %v, want %v", img.Bounds(), r)
	}
	if got := img.RGBAAt(10, 20).A; got != 255 {
		t.Errorf("alpha = %d, want opaque", got)
	}
}
