// Package layer paints map layers into the frame buffer. Tile layers look their
// tiles up in a cache, queue the missing ones for the workers and are painted
// again when a worker stores a tile.
package layer

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/model"
	"github.com/valpere/tilerender/internal/view"
)

// LayerManager owns the layers of one map view and the redraw loop painting
// them. Redraw requests arriving while a frame is painted collapse into one.
type LayerManager struct {
	model *model.Model
	view  *view.MapView

	mu     sync.RWMutex
	layers []Layer

	redraw *atomic.Bool
	wake   chan struct{}
	frames *atomic.Int64
}

// NewLayerManager creates a manager and registers it as the view's redrawer
func NewLayerManager(m *model.Model, v *view.MapView) *LayerManager {
	lm := &LayerManager{
		model:  m,
		view:   v,
		redraw: atomic.NewBool(false),
		wake:   make(chan struct{}, 1),
		frames: atomic.NewInt64(0),
	}
	v.SetRedrawer(lm)
	return lm
}

// AddLayer appends a layer on top of the existing ones and requests a redraw
func (lm *LayerManager) AddLayer(l Layer) {
	lm.mu.Lock()
	lm.layers = append(lm.layers, l)
	lm.mu.Unlock()
	lm.RedrawLayers()
}

// Layers returns the layers bottom first
func (lm *LayerManager) Layers() []Layer {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := make([]Layer, len(lm.layers))
	copy(out, lm.layers)
	return out
}

// Frames returns the number of frames painted
func (lm *LayerManager) Frames() int64 {
	return lm.frames.Load()
}

// RedrawLayers implements view.Redrawer. It never blocks.
func (lm *LayerManager) RedrawLayers() {
	lm.redraw.Store(true)
	select {
	case lm.wake <- struct{}{}:
	default:
	}
}

// Run paints a frame whenever a redraw was requested, until ctx ends
func (lm *LayerManager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lm.wake:
			if lm.redraw.CAS(true, false) {
				lm.DrawFrame()
			}
		}
	}
}

// DrawFrame paints every visible layer for the current position and publishes
// the frame. It returns false when no frame buffer is allocated yet.
func (lm *LayerManager) DrawFrame() bool {
	position := lm.model.Position.MapPosition()
	dst := lm.view.FrameBuffer.DrawingImage()
	if dst == nil {
		return false
	}

	tileSize := lm.model.Display.TileSize()
	for _, l := range lm.Layers() {
		if l.Visible() {
			l.Draw(dst, position, tileSize)
		}
	}

	lm.frameFinished(position)
	lm.frames.Inc()
	return true
}

// frameFinished swaps the buffers under the position lock, then records the
// rendered position, which resets the adjustment matrix for the current one
func (lm *LayerManager) frameFinished(rendered model.MapPosition) {
	lm.model.Position.WithLock(func(model.MapPosition) {
		lm.view.FrameBuffer.FrameFinished()
	})
	lm.model.FrameBuffer.SetMapPosition(rendered)
	lm.view.RequestRepaint()
}

// Destroy destroys every layer
func (lm *LayerManager) Destroy() error {
	lm.mu.Lock()
	layers := lm.layers
	lm.layers = nil
	lm.mu.Unlock()

	var err error
	for _, l := range layers {
		err = multierr.Append(err, l.Destroy())
	}
	if err != nil {
		internal.Logger().Warn("layer teardown failed", "error", err)
	}
	return err
}
