// Package view keeps the offscreen frame buffer in step with the viewport models
// and turns model changes into redraw and repaint requests.
package view

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/valpere/tilerender/internal/model"
)

// FrameBuffer is a double-buffered offscreen image. Layers paint into the
// drawing image; FrameFinished swaps it to the front, which Draw shows through
// the current adjustment matrix until the next frame completes.
type FrameBuffer struct {
	mu         sync.Mutex
	front      *image.RGBA
	back       *image.RGBA
	dimension  model.Dimension
	matrix     f64.Aff3
	background color.NRGBA
}

// NewFrameBuffer creates an unallocated frame buffer
func NewFrameBuffer(background color.NRGBA) *FrameBuffer {
	return &FrameBuffer{matrix: identity, background: background}
}

// WithLock runs fn while holding the buffer lock. When the map position lock is
// also needed it must be acquired first.
func (f *FrameBuffer) WithLock(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

// Dimension returns the allocated size
func (f *FrameBuffer) Dimension() model.Dimension {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dimension
}

// SetDimension reallocates both buffers when the size changes
func (f *FrameBuffer) SetDimension(d model.Dimension) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dimension == d {
		return
	}
	f.dimension = d
	if d.IsEmpty() {
		f.front, f.back = nil, nil
		return
	}
	rect := image.Rect(0, 0, d.Width, d.Height)
	f.front = image.NewRGBA(rect)
	f.back = image.NewRGBA(rect)
	f.fill(f.front)
	f.fill(f.back)
}

func (f *FrameBuffer) fill(img *image.RGBA) {
	draw.Draw(img, img.Bounds(), image.NewUniform(f.background), image.Point{}, draw.Src)
}

// DrawingImage returns the back buffer cleared to the background, or nil when
// no buffer is allocated. Only the layer manager's redraw loop paints into it.
func (f *FrameBuffer) DrawingImage() *image.RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.back != nil {
		f.fill(f.back)
	}
	return f.back
}

// FrameFinished makes the drawing image visible and resets the adjustment
func (f *FrameBuffer) FrameFinished() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.front, f.back = f.back, f.front
	f.matrix = identity
}

// Matrix returns the current buffer-to-view transform
func (f *FrameBuffer) Matrix() f64.Aff3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matrix
}

// Adjustment describes how the view moved since the buffer was rendered. Diff is
// the pixel offset of the rendered center relative to the current center, Scale
// the zoom ratio, Pivot the anchor offset from the rendered center, Rotation
// the change in degrees.
type Adjustment struct {
	DiffX, DiffY   float64
	Scale          float64
	PivotX, PivotY float64
	Rotation       float64
}

// AdjustMatrix recomputes the buffer-to-view transform. Callers hold the buffer
// lock through WithLock.
func (f *FrameBuffer) AdjustMatrix(adj Adjustment, view model.Dimension) {
	cx := float64(f.dimension.Width) / 2
	cy := float64(f.dimension.Height) / 2

	m := identity
	if adj.PivotX == 0 && adj.PivotY == 0 {
		m = multiply(translation(adj.DiffX, adj.DiffY), m)
	}
	if adj.Scale != 1 && adj.Scale > 0 {
		m = multiply(scaleAbout(adj.Scale, cx+adj.PivotX, cy+adj.PivotY), m)
	}
	if adj.Rotation != 0 {
		m = multiply(rotateAbout(adj.Rotation, cx, cy), m)
	}
	// center the oversized buffer on the view
	m = multiply(translation(
		float64(view.Width-f.dimension.Width)/2,
		float64(view.Height-f.dimension.Height)/2,
	), m)
	f.matrix = m
}

// Draw paints the front buffer onto dst through the adjustment matrix
func (f *FrameBuffer) Draw(dst draw.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.front == nil {
		return
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(f.background), image.Point{}, draw.Src)
	xdraw.BiLinear.Transform(dst, f.matrix, f.front, f.front.Bounds(), xdraw.Over, nil)
}

// Destroy drops the buffers
func (f *FrameBuffer) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.front, f.back = nil, nil
	f.dimension = model.Dimension{}
}
