package graphics

import (
	"bytes"
	"image/color"
	"testing"
)

func TestBitmapCopyIsIndependent(t *testing.T) {
	b := NewBitmap(4, 4)
	b.Image().Set(0, 0, color.RGBA{R: 255, A: 255})

	c := b.Copy()
	c.Image().Set(0, 0, color.RGBA{B: 255, A: 255})

	if got := b.Image().RGBAAt(0, 0); got.R != 255 || got.B != 0 {
		t.Errorf("original was modified through copy: %v", got)
	}
}

func TestBitmapRefCounting(t *testing.T) {
	b := NewBitmap(2, 2)
	b.Retain()
	b.Release()
	if b.Image() == nil {
		t.Fatal("bitmap freed while still referenced")
	}
	b.Release()
	if b.Image() != nil {
		t.Fatal("bitmap not freed after last release")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on double release")
		}
	}()
	b.Release()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBitmap(3, 2)
	b.Image().Set(1, 1, color.RGBA{G: 200, A: 255})

	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeBytes(ImageDecoder{}, buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Width() != 3 || decoded.Height() != 2 {
		t.Errorf("unexpected size %dx%d", decoded.Width(), decoded.Height())
	}
	if got := decoded.Image().RGBAAt(1, 1); got.G != 200 {
		t.Errorf("pixel mismatch: %v", got)
	}
}

func TestDecodeBytesEmpty(t *testing.T) {
	if _, err := DecodeBytes(ImageDecoder{}, nil); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestCanvasPaints(t *testing.T) {
	c := NewCanvas(16, 16)
	c.FillColor(color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	c.FillPolygon([][]Point{{{0, 0}, {16, 0}, {16, 16}, {0, 16}}}, color.NRGBA{R: 10, A: 255})
	c.StrokePath([]Point{{0, 8}, {16, 8}}, Stroke{Color: color.NRGBA{B: 255, A: 255}, Width: 2})

	img := c.Bitmap().Image()
	if got := img.RGBAAt(2, 2); got.R != 10 {
		t.Errorf("expected polygon fill, got %v", got)
	}
	if got := img.RGBAAt(8, 8); got.B == 0 {
		t.Errorf("expected stroke pixel, got %v", got)
	}
}
