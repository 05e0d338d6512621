// internal/view/controller.go - Observers reacting to model changes
package view

import (
	"math"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/model"
)

// FrameBufferController resizes the frame buffer and keeps its adjustment
// matrix current so the last frame can be shown while a new one renders
type FrameBufferController struct {
	model       *model.Model
	frameBuffer *FrameBuffer
	square      bool
}

// NewFrameBufferController subscribes to the display, position, dimension and
// frame buffer models. With square set the buffer is allocated as a square covering the
// view's diagonal so rotation never forces a reallocation.
func NewFrameBufferController(m *model.Model, fb *FrameBuffer, square bool) *FrameBufferController {
	c := &FrameBufferController{model: m, frameBuffer: fb, square: square}
	m.Display.AddObserver(c)
	m.Position.AddObserver(c)
	m.Dimension.AddObserver(c)
	m.FrameBuffer.AddObserver(c)
	return c
}

// OnChange implements model.Observer
func (c *FrameBufferController) OnChange() {
	view := c.model.Dimension.Dimension()
	if view.IsEmpty() {
		return
	}

	overdraw := c.model.Display.OverdrawFactor()
	if want := c.bufferDimension(view, overdraw); want != c.frameBuffer.Dimension() {
		c.frameBuffer.SetDimension(want)
		c.model.FrameBuffer.SetOverdrawFactor(overdraw)
		c.model.FrameBuffer.SetDimension(want)
		internal.Logger().Debug("frame buffer reallocated", "width", want.Width, "height", want.Height)
	}

	c.adjustMatrix(view)
}

func (c *FrameBufferController) bufferDimension(view model.Dimension, overdraw float64) model.Dimension {
	d := view.Scale(overdraw)
	if c.square {
		side := int(math.Ceil(math.Hypot(float64(d.Width), float64(d.Height))))
		d = model.Dimension{Width: side, Height: side}
	}
	return d
}

// adjustMatrix takes the position lock and then the frame buffer lock; every
// path that needs both must use this order
func (c *FrameBufferController) adjustMatrix(view model.Dimension) {
	tileSize := c.model.Display.TileSize()
	pivot, hasPivot := c.model.Position.Pivot()

	c.model.Position.WithLock(func(current model.MapPosition) {
		c.frameBuffer.WithLock(func() {
			rendered, ok := c.model.FrameBuffer.MapPosition()
			if !ok {
				return
			}
			adj := ComputeAdjustment(rendered, current, tileSize, pivot, hasPivot)
			c.frameBuffer.AdjustMatrix(adj, view)
		})
	})
}

// ComputeAdjustment derives the buffer transform from the rendered and the
// current position. Offsets are measured at the rendered zoom level.
func ComputeAdjustment(rendered, current model.MapPosition, tileSize uint32, pivot model.LatLong, hasPivot bool) Adjustment {
	zoom := rendered.ZoomLevel
	bufferX, bufferY := rendered.Center.ToPixel(zoom, tileSize)
	currentX, currentY := current.Center.ToPixel(zoom, tileSize)

	adj := Adjustment{
		DiffX:    bufferX - currentX,
		DiffY:    bufferY - currentY,
		Scale:    math.Exp2(float64(int(current.ZoomLevel) - int(rendered.ZoomLevel))),
		Rotation: float64(current.Rotation - rendered.Rotation),
	}
	if hasPivot {
		pivotX, pivotY := pivot.ToPixel(zoom, tileSize)
		adj.PivotX = pivotX - bufferX
		adj.PivotY = pivotY - bufferY
	}
	return adj
}

// Destroy unsubscribes the controller
func (c *FrameBufferController) Destroy() {
	c.model.RemoveObserver(c)
}

// Redrawer is notified when layers have to be painted again
type Redrawer interface {
	RedrawLayers()
}

// LayerManagerController requests a layer redraw on position or dimension change
type LayerManagerController struct {
	model    *model.Model
	redrawer Redrawer
}

// NewLayerManagerController subscribes redrawer to position and dimension changes
func NewLayerManagerController(m *model.Model, redrawer Redrawer) *LayerManagerController {
	c := &LayerManagerController{model: m, redrawer: redrawer}
	m.Position.AddObserver(c)
	m.Dimension.AddObserver(c)
	return c
}

// OnChange implements model.Observer
func (c *LayerManagerController) OnChange() {
	c.redrawer.RedrawLayers()
}

// Destroy unsubscribes the controller
func (c *LayerManagerController) Destroy() {
	c.model.RemoveObserver(c)
}

// MapViewController turns position changes into repaint requests. Requests are
// coalesced into a channel with room for one pending signal, so it is safe to
// call from any goroutine and never blocks.
type MapViewController struct {
	model   *model.Model
	repaint chan struct{}
}

// NewMapViewController subscribes to position changes
func NewMapViewController(m *model.Model) *MapViewController {
	c := &MapViewController{model: m, repaint: make(chan struct{}, 1)}
	m.Position.AddObserver(c)
	return c
}

// OnChange implements model.Observer
func (c *MapViewController) OnChange() {
	c.RequestRepaint()
}

// RequestRepaint queues a repaint unless one is already pending
func (c *MapViewController) RequestRepaint() {
	select {
	case c.repaint <- struct{}{}:
	default:
	}
}

// Repaints delivers pending repaint requests to the host's UI loop
func (c *MapViewController) Repaints() <-chan struct{} {
	return c.repaint
}

// Destroy unsubscribes the controller
func (c *MapViewController) Destroy() {
	c.model.RemoveObserver(c)
}
