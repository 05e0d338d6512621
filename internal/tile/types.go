// internal/tile/types.go - Tile and job identities
package tile

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb/maptile"
)

// MaxZoomLevel is the deepest zoom level a tile may address
const MaxZoomLevel = 30

// Tile is a square map unit addressed by (x, y, zoom). Tiles are values; equality
// covers all four fields.
type Tile struct {
	X         uint64 `json:"x"`
	Y         uint64 `json:"y"`
	ZoomLevel uint8  `json:"z"`
	TileSize  uint32 `json:"tile_size"`
}

// NewTile creates a new tile
func NewTile(x, y uint64, zoomLevel uint8, tileSize uint32) Tile {
	return Tile{X: x, Y: y, ZoomLevel: zoomLevel, TileSize: tileSize}
}

// FromMapTile converts an orb map tile into a Tile of the given pixel size
func FromMapTile(t maptile.Tile, tileSize uint32) Tile {
	return Tile{X: uint64(t.X), Y: uint64(t.Y), ZoomLevel: uint8(t.Z), TileSize: tileSize}
}

// MapTile returns the orb representation of the tile
func (t Tile) MapTile() maptile.Tile {
	return maptile.New(uint32(t.X), uint32(t.Y), maptile.Zoom(t.ZoomLevel))
}

// String returns the z/x/y form of the tile
func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.ZoomLevel, t.X, t.Y)
}

// Parent returns the tile one zoom level up containing this tile. The root tile
// has no parent.
func (t Tile) Parent() (Tile, bool) {
	if t.ZoomLevel == 0 {
		return Tile{}, false
	}
	return Tile{X: t.X / 2, Y: t.Y / 2, ZoomLevel: t.ZoomLevel - 1, TileSize: t.TileSize}, true
}

// PixelOrigin returns the absolute pixel coordinates of the tile's top-left corner
func (t Tile) PixelOrigin() (float64, float64) {
	size := float64(t.TileSize)
	return float64(t.X) * size, float64(t.Y) * size
}

// PixelCenter returns the absolute pixel coordinates of the tile's center
func (t Tile) PixelCenter() (float64, float64) {
	x, y := t.PixelOrigin()
	half := float64(t.TileSize) / 2
	return x + half, y + half
}

// Validate ensures the tile lies inside the tile pyramid
func (t Tile) Validate() error {
	if t.TileSize == 0 {
		return fmt.Errorf("tile size must be positive")
	}
	return ValidateCoordinates(int(t.ZoomLevel), t.X, t.Y)
}

// ValidateCoordinates ensures tile coordinates are within valid bounds
func ValidateCoordinates(z int, x, y uint64) error {
	if z < 0 || z > MaxZoomLevel {
		return fmt.Errorf("invalid zoom level %d: must be between 0 and %d", z, MaxZoomLevel)
	}

	maxTile := uint64(1) << uint(z)
	if x >= maxTile {
		return fmt.Errorf("invalid x coordinate %d for zoom %d: must be between 0 and %d", x, z, maxTile-1)
	}

	if y >= maxTile {
		return fmt.Errorf("invalid y coordinate %d for zoom %d: must be between 0 and %d", y, z, maxTile-1)
	}

	return nil
}

// Job is a request to produce a tile's content. Key discriminates renderers
// (data source, theme, text scale) so that two renderers never share a cache slot.
type Job struct {
	Tile     Tile   `json:"tile"`
	Key      string `json:"key"`
	HasAlpha bool   `json:"has_alpha"`
}

// NewJob creates a new job
func NewJob(t Tile, key string, hasAlpha bool) Job {
	return Job{Tile: t, Key: key, HasAlpha: hasAlpha}
}

// IsZero reports whether the job was never initialised
func (j Job) IsZero() bool {
	return j == Job{}
}

// Validate rejects zero jobs and tiles outside the pyramid
func (j Job) Validate() error {
	if j.IsZero() {
		return fmt.Errorf("job is empty")
	}
	return j.Tile.Validate()
}

// Discriminator returns the renderer-specific part of the job key
func (j Job) Discriminator() string {
	return j.Key + "|" + strconv.FormatBool(j.HasAlpha)
}

// Path returns the zoomLevel/tileX/tileY layout used by persistent caches
func (j Job) Path() string {
	return j.Tile.String()
}

// String returns a human readable job key
func (j Job) String() string {
	return j.Key + "/" + j.Tile.String()
}

// TileRange represents a rectangular range of tiles over several zoom levels
type TileRange struct {
	MinZ uint8  `json:"min_z"`
	MaxZ uint8  `json:"max_z"`
	MinX uint64 `json:"min_x"`
	MaxX uint64 `json:"max_x"`
	MinY uint64 `json:"min_y"`
	MaxY uint64 `json:"max_y"`
}

// Count returns the total number of tiles in the range
func (tr *TileRange) Count() int64 {
	var total int64
	for z := int(tr.MinZ); z <= int(tr.MaxZ); z++ {
		xRange := int64(tr.MaxX - tr.MinX + 1)
		yRange := int64(tr.MaxY - tr.MinY + 1)
		total += xRange * yRange
	}
	return total
}
