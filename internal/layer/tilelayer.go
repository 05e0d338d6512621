// internal/layer/tilelayer.go - Tiled map layer backed by cache and job queue
package layer

import (
	"image"
	"math"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/cache"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/model"
	"github.com/valpere/tilerender/internal/queue"
	"github.com/valpere/tilerender/internal/tile"
)

// Layer is painted into the frame buffer by the layer manager
type Layer interface {
	// Draw paints the layer for position into dst, whose center is the
	// position's center
	Draw(dst *image.RGBA, position model.MapPosition, tileSize uint32)
	Visible() bool
	SetVisible(visible bool)
	Destroy() error
}

// TileLayer paints tiles from a cache and enqueues the missing ones
type TileLayer struct {
	cache    cache.TileCache
	queue    *queue.JobQueue
	producer Producer

	mu      sync.Mutex
	visible bool
}

// NewTileLayer creates a visible layer whose tiles are produced by producer
func NewTileLayer(c cache.TileCache, q *queue.JobQueue, producer Producer) *TileLayer {
	return &TileLayer{cache: c, queue: q, producer: producer, visible: true}
}

// Producer returns the producer creating this layer's tiles
func (l *TileLayer) Producer() Producer {
	return l.producer
}

// Visible implements Layer
func (l *TileLayer) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

// SetVisible implements Layer
func (l *TileLayer) SetVisible(visible bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = visible
}

// Draw implements Layer. Tiles missing from the cache are queued and, where a
// cached parent exists, stood in for by the matching quarter of the parent.
func (l *TileLayer) Draw(dst *image.RGBA, position model.MapPosition, tileSize uint32) {
	size := dst.Bounds().Size()
	tiles, originX, originY := VisibleTiles(position, tileSize, model.Dimension{Width: size.X, Height: size.Y})

	key := l.producer.JobKey()
	hasAlpha := l.producer.HasAlpha()
	missing := 0

	for _, t := range tiles {
		if !l.producer.Covers(t) {
			continue
		}
		x, y := t.PixelOrigin()
		rect := image.Rect(
			int(math.Round(x-originX)), int(math.Round(y-originY)),
			int(math.Round(x-originX))+int(tileSize), int(math.Round(y-originY))+int(tileSize),
		)

		job := tile.NewJob(t, key, hasAlpha)
		if bitmap := l.cache.Get(job); bitmap != nil {
			drawTile(dst, rect, bitmap, image.Rectangle{}, hasAlpha)
			bitmap.Release()
			continue
		}

		l.queue.Add(job)
		missing++
		l.drawParent(dst, rect, t, key, hasAlpha)
	}

	if missing > 0 {
		l.queue.NotifyWorkers()
		internal.Logger().Debug("tiles queued", "layer", l.producer.Name(), "missing", missing, "visible", len(tiles))
	}
}

// drawParent paints the quarter of a cached parent tile covering t
func (l *TileLayer) drawParent(dst *image.RGBA, rect image.Rectangle, t tile.Tile, key string, hasAlpha bool) {
	parent, ok := t.Parent()
	if !ok {
		return
	}
	bitmap := l.cache.Get(tile.NewJob(parent, key, hasAlpha))
	if bitmap == nil {
		return
	}
	defer bitmap.Release()

	half := image.Pt(bitmap.Width()/2, bitmap.Height()/2)
	origin := image.Pt(int(t.X%2)*half.X, int(t.Y%2)*half.Y)
	drawTile(dst, rect, bitmap, image.Rectangle{Min: origin, Max: origin.Add(half)}, hasAlpha)
}

// drawTile scales src (or its sub rectangle) into rect
func drawTile(dst *image.RGBA, rect image.Rectangle, bitmap graphics.Bitmap, sr image.Rectangle, hasAlpha bool) {
	src := bitmap.Image()
	if src == nil {
		return
	}
	if sr.Empty() {
		sr = src.Bounds()
	}
	op := xdraw.Src
	if hasAlpha {
		op = xdraw.Over
	}
	if sr.Size() == rect.Size() {
		xdraw.Draw(dst, rect, src, sr.Min, op)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, rect, src, sr, op, nil)
}

// Destroy implements Layer; the cache and queue are shared and outlive layers
func (l *TileLayer) Destroy() error {
	l.SetVisible(false)
	return nil
}

// VisibleTiles returns the tiles intersecting an area of the given dimension
// centered on position, and the absolute pixel coordinates of the area's top
// left corner
func VisibleTiles(position model.MapPosition, tileSize uint32, d model.Dimension) ([]tile.Tile, float64, float64) {
	zoom := position.ZoomLevel
	centerX, centerY := position.Center.ToPixel(zoom, tileSize)
	left := centerX - float64(d.Width)/2
	top := centerY - float64(d.Height)/2
	if d.IsEmpty() || tileSize == 0 {
		return nil, left, top
	}

	size := float64(tileSize)
	last := int64(1)<<zoom - 1
	x0 := clampIndex(math.Floor(left/size), last)
	y0 := clampIndex(math.Floor(top/size), last)
	x1 := clampIndex(math.Floor((left+float64(d.Width)-1)/size), last)
	y1 := clampIndex(math.Floor((top+float64(d.Height)-1)/size), last)

	tiles := make([]tile.Tile, 0, (x1-x0+1)*(y1-y0+1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			tiles = append(tiles, tile.NewTile(uint64(x), uint64(y), zoom, tileSize))
		}
	}
	return tiles, left, top
}

func clampIndex(v float64, last int64) int64 {
	if v < 0 {
		return 0
	}
	if v > float64(last) {
		return last
	}
	return int64(v)
}
