// internal/view/mapview.go - Frame buffer plus its controllers
package view

import (
	"image/draw"

	"github.com/valpere/tilerender/internal/model"
)

// MapView owns the frame buffer of one map and the controllers keeping it in
// step with the model
type MapView struct {
	Model       *model.Model
	FrameBuffer *FrameBuffer

	frameBufferController *FrameBufferController
	mapViewController     *MapViewController
	layerController       *LayerManagerController
}

// NewMapView creates the frame buffer and subscribes its controllers
func NewMapView(m *model.Model, squareFrameBuffer bool) *MapView {
	fb := NewFrameBuffer(m.Display.Background())
	return &MapView{
		Model:                 m,
		FrameBuffer:           fb,
		frameBufferController: NewFrameBufferController(m, fb, squareFrameBuffer),
		mapViewController:     NewMapViewController(m),
	}
}

// SetRedrawer connects the layer manager; it replaces any previous one
func (v *MapView) SetRedrawer(r Redrawer) {
	if v.layerController != nil {
		v.layerController.Destroy()
	}
	v.layerController = NewLayerManagerController(v.Model, r)
}

// Repaints delivers repaint requests for the host
func (v *MapView) Repaints() <-chan struct{} {
	return v.mapViewController.Repaints()
}

// RequestRepaint asks the host to repaint, e.g. after a frame finished
func (v *MapView) RequestRepaint() {
	v.mapViewController.RequestRepaint()
}

// Draw paints the current frame into dst
func (v *MapView) Draw(dst draw.Image) {
	v.FrameBuffer.Draw(dst)
}

// Destroy unsubscribes every controller and frees the frame buffer
func (v *MapView) Destroy() {
	v.frameBufferController.Destroy()
	v.mapViewController.Destroy()
	if v.layerController != nil {
		v.layerController.Destroy()
	}
	v.FrameBuffer.Destroy()
}
