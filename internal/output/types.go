// internal/output/types.go - Output handling types
package output

import (
	"fmt"
	"time"

	"github.com/valpere/tilerender/internal/config"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/tile"
)

// Format represents the output formats supported by the application
type Format string

const (
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGeoJSON Format = "geojson"
)

// DefaultQuality is the JPEG quality used when none is configured
const DefaultQuality = 90

// OutputConfig represents configuration for output handling
type OutputConfig struct {
	Format    Format
	Directory string
	Pretty    bool
	Stdout    bool
	Quality   int
}

// TileWriter stores rendered tiles. WriteTile does not take ownership of the
// bitmap; the caller releases it.
type TileWriter interface {
	WriteTile(t tile.Tile, bitmap graphics.Bitmap) (*WriteResult, error)
	Close() error
}

// Formatter encodes a rendered tile bitmap
type Formatter interface {
	Format(bitmap graphics.Bitmap) ([]byte, error)
	Extension() string
	ContentType() string
}

// WriteResult represents the result of a write operation
type WriteResult struct {
	Path         string
	BytesWritten int64
	Duration     time.Duration
}

// BatchWriteResult represents the result of writing several tiles
type BatchWriteResult struct {
	TotalTiles   int
	SuccessTiles int
	FailedTiles  int
	BytesWritten int64
	Duration     time.Duration
	Errors       []error
}

// NewOutputConfig creates a new output configuration with default values
func NewOutputConfig() *OutputConfig {
	return &OutputConfig{
		Format:    FormatPNG,
		Directory: "tiles",
		Pretty:    true,
		Quality:   DefaultQuality,
	}
}

// FromConfig converts the loaded output section
func FromConfig(cfg *config.OutputConfig) *OutputConfig {
	quality := cfg.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	return &OutputConfig{
		Format:    Format(cfg.Format),
		Directory: cfg.Directory,
		Pretty:    cfg.Pretty,
		Stdout:    cfg.Stdout,
		Quality:   quality,
	}
}

// Validate validates the output configuration
func (c *OutputConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.Format == FormatJPEG && (c.Quality < 1 || c.Quality > 100) {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", c.Quality)
	}
	if !c.Stdout && c.Directory == "" {
		return fmt.Errorf("output directory is required")
	}
	return nil
}

// String returns a string representation of the format
func (f Format) String() string {
	return string(f)
}

// IsValid checks if the format is supported
func (f Format) IsValid() bool {
	switch f {
	case FormatPNG, FormatJPEG, FormatGeoJSON:
		return true
	default:
		return false
	}
}

// IsImage reports whether the format encodes tile bitmaps
func (f Format) IsImage() bool {
	return f == FormatPNG || f == FormatJPEG
}
