// Package graphics holds the bitmap handle and painting surface used by the
// cache and the renderer.
package graphics

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"sync"
)

// Bitmap is a reference-counted decoded tile image. A new bitmap carries one
// reference owned by its creator. Retain adds a reference, Release drops one and
// frees the pixels when the count reaches zero.
type Bitmap interface {
	Image() *image.RGBA
	Width() int
	Height() int
	Copy() Bitmap
	Retain()
	Release()
	Encode(w io.Writer) error
}

// Decoder turns raw tile bytes into a Bitmap
type Decoder interface {
	Decode(r io.Reader) (Bitmap, error)
}

// ImageBitmap is the in-process Bitmap implementation backed by image.RGBA
type ImageBitmap struct {
	mu   sync.Mutex
	img  *image.RGBA
	refs int
}

// NewBitmap allocates a transparent bitmap of the given size
func NewBitmap(width, height int) *ImageBitmap {
	return &ImageBitmap{img: image.NewRGBA(image.Rect(0, 0, width, height)), refs: 1}
}

// FromImage copies any image into a new bitmap
func FromImage(src image.Image) *ImageBitmap {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return &ImageBitmap{img: dst, refs: 1}
}

// Image returns the backing pixels; nil once the bitmap is freed
func (b *ImageBitmap) Image() *image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.img
}

// Width returns the pixel width
func (b *ImageBitmap) Width() int {
	if img := b.Image(); img != nil {
		return img.Bounds().Dx()
	}
	return 0
}

// Height returns the pixel height
func (b *ImageBitmap) Height() int {
	if img := b.Image(); img != nil {
		return img.Bounds().Dy()
	}
	return 0
}

// Copy returns an independent bitmap with its own pixel buffer
func (b *ImageBitmap) Copy() Bitmap {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img == nil {
		panic("graphics: copy of released bitmap")
	}
	dst := image.NewRGBA(b.img.Bounds())
	copy(dst.Pix, b.img.Pix)
	return &ImageBitmap{img: dst, refs: 1}
}

// Retain adds a reference
func (b *ImageBitmap) Retain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs <= 0 {
		panic("graphics: retain of released bitmap")
	}
	b.refs++
}

// Release drops a reference. Releasing a freed bitmap is a double free and panics.
func (b *ImageBitmap) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs <= 0 {
		panic("graphics: bitmap released more often than retained")
	}
	b.refs--
	if b.refs == 0 {
		b.img = nil
	}
}

// RefCount returns the number of outstanding references
func (b *ImageBitmap) RefCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}

// Encode writes the bitmap as PNG
func (b *ImageBitmap) Encode(w io.Writer) error {
	img := b.Image()
	if img == nil {
		return fmt.Errorf("encode of released bitmap")
	}
	return png.Encode(w, img)
}

// ImageDecoder decodes any registered image format (PNG, JPEG) into bitmaps
type ImageDecoder struct{}

// Decode implements Decoder
func (ImageDecoder) Decode(r io.Reader) (Bitmap, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile image: %w", err)
	}
	return FromImage(img), nil
}

// DecodeBytes is a convenience wrapper around Decoder.Decode
func DecodeBytes(d Decoder, data []byte) (Bitmap, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty tile data")
	}
	return d.Decode(bytes.NewReader(data))
}
