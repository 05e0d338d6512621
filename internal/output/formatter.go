// internal/output/formatter.go - Output formatting implementation
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/paulmach/orb/geojson"

	"github.com/valpere/tilerender/internal/graphics"
)

// PNGFormatter encodes tiles as PNG, keeping transparency
type PNGFormatter struct{}

// Format encodes the bitmap as PNG
func (PNGFormatter) Format(bitmap graphics.Bitmap) ([]byte, error) {
	var buf bytes.Buffer
	if err := bitmap.Encode(&buf); err != nil {
		return nil, fmt.Errorf("png encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Extension returns the file extension for PNG tiles
func (PNGFormatter) Extension() string { return ".png" }

// ContentType returns the MIME type for PNG
func (PNGFormatter) ContentType() string { return "image/png" }

// JPEGFormatter encodes tiles as JPEG. Transparent pixels are flattened onto
// the background color.
type JPEGFormatter struct {
	Quality    int
	Background color.Color
}

// NewJPEGFormatter creates a JPEG formatter flattening onto white
func NewJPEGFormatter(quality int) *JPEGFormatter {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &JPEGFormatter{Quality: quality, Background: color.White}
}

// Format encodes the bitmap as JPEG
func (f *JPEGFormatter) Format(bitmap graphics.Bitmap) ([]byte, error) {
	img := bitmap.Image()
	if img == nil {
		return nil, fmt.Errorf("jpeg encoding of released bitmap")
	}

	flat := image.NewRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), image.NewUniform(f.Background), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: f.Quality}); err != nil {
		return nil, fmt.Errorf("jpeg encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Extension returns the file extension for JPEG tiles
func (f *JPEGFormatter) Extension() string { return ".jpg" }

// ContentType returns the MIME type for JPEG
func (f *JPEGFormatter) ContentType() string { return "image/jpeg" }

// GeoJSONFormatter formats decoded tiles as GeoJSON FeatureCollections
type GeoJSONFormatter struct {
	pretty bool
}

// NewGeoJSONFormatter creates a new GeoJSON formatter
func NewGeoJSONFormatter(pretty bool) *GeoJSONFormatter {
	return &GeoJSONFormatter{pretty: pretty}
}

// FormatCollection marshals a feature collection, indented when pretty
func (f *GeoJSONFormatter) FormatCollection(fc *geojson.FeatureCollection) ([]byte, error) {
	if fc == nil {
		return nil, fmt.Errorf("cannot format nil feature collection")
	}
	if f.pretty {
		return json.MarshalIndent(fc, "", "  ")
	}
	return json.Marshal(fc)
}

// Extension returns the file extension for GeoJSON
func (f *GeoJSONFormatter) Extension() string { return ".geojson" }

// ContentType returns the MIME type for GeoJSON
func (f *GeoJSONFormatter) ContentType() string { return "application/geo+json" }

// NewFormatter creates the tile image formatter for the configured format
func NewFormatter(cfg *OutputConfig) (Formatter, error) {
	switch cfg.Format {
	case FormatPNG:
		return PNGFormatter{}, nil
	case FormatJPEG:
		return NewJPEGFormatter(cfg.Quality), nil
	default:
		return nil, fmt.Errorf("format %s does not encode tile images", cfg.Format)
	}
}
