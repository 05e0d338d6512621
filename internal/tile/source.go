// internal/tile/source.go - Tile source contract
package tile

import (
	"context"
	"fmt"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/config"
)

// Source delivers raw bytes for a tile. Implementations report how many
// concurrent fetches they tolerate and the zoom range they cover.
type Source interface {
	Key() string
	Fetch(ctx context.Context, t Tile) ([]byte, error)
	Parallelism() int
	ZoomMin() uint8
	ZoomMax() uint8
}

// Covers reports whether the source serves the tile's zoom level
func Covers(s Source, t Tile) bool {
	return t.ZoomLevel >= s.ZoomMin() && t.ZoomLevel <= s.ZoomMax()
}

// NewSource creates the appropriate source based on configuration
func NewSource(cfg *config.Config) (Source, error) {
	sourceType := cfg.DetermineSourceType()

	switch sourceType {
	case internal.SourceTypeHTTP:
		if cfg.Source.BaseURL == "" {
			return nil, internal.NewError(internal.ErrorCodeConfig, "base_url is required for HTTP source", nil)
		}
		return NewHTTPSource(&cfg.Source), nil
	case internal.SourceTypeLocal:
		if cfg.Source.BasePath == "" {
			return nil, internal.NewError(internal.ErrorCodeConfig, "base_path is required for local source", nil)
		}
		if err := config.ValidateLocalTileDirectory(cfg); err != nil {
			return nil, err
		}
		return NewLocalSource(&cfg.Source), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sourceType)
	}
}

func clampZoom(z int) uint8 {
	if z < 0 {
		return 0
	}
	if z > MaxZoomLevel {
		return MaxZoomLevel
	}
	return uint8(z)
}
