// internal/queue/scheduler.go - Priority computation and trimming
package queue

import (
	"math"
	"sort"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/model"
	"github.com/valpere/tilerender/internal/tile"
)

// schedule recomputes every priority, sorts ascending and drops the least
// relevant items past capacity. Equal priorities keep insertion order, so at the
// trim boundary the most recently added of the tied items are dropped first.
// Callers hold q.mu.
func (q *JobQueue) schedule() {
	position := q.viewport.MapPosition()
	tileSize := q.viewport.TileSize()

	for _, item := range q.items {
		item.Priority = Priority(item.Job.Tile, position, tileSize, q.zoomPenalty)
	}

	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.seq < b.seq
	})

	if len(q.items) > q.capacity {
		dropped := q.items[q.capacity:]
		for i, item := range dropped {
			delete(q.queued, item.Job)
			dropped[i] = nil
		}
		q.metrics.QueueDropped.Add(float64(len(dropped)))
		internal.Logger().Debug("trimmed job queue", "dropped", len(dropped), "capacity", q.capacity)
		q.items = q.items[:q.capacity]
	}

	q.dirty = false
}

// Priority is the pixel distance between the tile center and the view center at
// the view's zoom level, plus zoomPenalty tile sizes per zoom level of difference.
// The result is never negative or NaN.
func Priority(t tile.Tile, position model.MapPosition, tileSize uint32, zoomPenalty float64) float64 {
	viewZoom := position.ZoomLevel
	size := float64(tileSize)
	shift := int(viewZoom) - int(t.ZoomLevel)

	// tile origin projected to the view zoom; pixel space scales by powers of two
	tileX := math.Ldexp(float64(t.X)*size, shift) + size/2
	tileY := math.Ldexp(float64(t.Y)*size, shift) + size/2
	mapX, mapY := position.Center.ToPixel(viewZoom, tileSize)

	diffPixel := math.Hypot(tileX-mapX, tileY-mapY)
	diffZoom := math.Abs(float64(shift))
	priority := diffPixel + zoomPenalty*size*diffZoom

	switch {
	case math.IsNaN(priority), math.IsInf(priority, 1):
		return math.MaxFloat64
	case priority < 0:
		return 0
	}
	return priority
}
