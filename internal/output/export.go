// internal/output/export.go - Exporting produced tiles as they enter the cache
package output

import (
	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/cache"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/tile"
)

// ExportingCache is a TileCache that also hands every stored tile to a writer.
// Export failures are logged and never fail the Put.
type ExportingCache struct {
	cache.TileCache
	writer TileWriter
}

// NewExportingCache wraps c so that each Put is also written by w
func NewExportingCache(c cache.TileCache, w TileWriter) *ExportingCache {
	return &ExportingCache{TileCache: c, writer: w}
}

// Put stores the bitmap in the wrapped cache and exports it
func (e *ExportingCache) Put(job tile.Job, bitmap graphics.Bitmap) error {
	if err := e.TileCache.Put(job, bitmap); err != nil {
		return err
	}
	if _, err := e.writer.WriteTile(job.Tile, bitmap); err != nil {
		internal.Logger().Warn("failed to export tile", "tile", job.Tile.String(), "error", err)
	}
	return nil
}
