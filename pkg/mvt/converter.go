// pkg/mvt/converter.go - Vector tile to GeoJSON conversion
package mvt

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
)

// Coordinate system constants
const (
	CoordSystemTilePixels = "tile-pixels"
	CoordSystemWGS84      = "wgs84"
)

// ConversionOptions configures the conversion process
type ConversionOptions struct {
	IncludeMetadata  bool     `json:"include_metadata"`
	LayerFilter      []string `json:"layer_filter,omitempty"`
	PropertyFilter   []string `json:"property_filter,omitempty"`
	SimplifyGeometry bool     `json:"simplify_geometry"`
	CoordinateSystem string   `json:"coordinate_system"`
	TileSize         uint32   `json:"tile_size"`
}

// ConversionMetadata contains metadata about the conversion process
type ConversionMetadata struct {
	Layers       []string `json:"layers"`
	FeatureCount int      `json:"feature_count"`
	TileID       string   `json:"tile_id"`
}

// Annotator adds properties to a converted feature; it sees the feature in
// tile pixel coordinates
type Annotator func(feature *DecodedFeature) map[string]interface{}

// Converter turns vector tiles into GeoJSON feature collections
type Converter struct {
	options  *ConversionOptions
	annotate Annotator
}

// NewConverter creates a converter with WGS84 output
func NewConverter() *Converter {
	return &Converter{options: &ConversionOptions{CoordinateSystem: CoordSystemWGS84, TileSize: 256}}
}

// NewConverterWithOptions creates a converter with custom options
func NewConverterWithOptions(options *ConversionOptions) (*Converter, error) {
	if err := ValidateConversionOptions(options); err != nil {
		return nil, fmt.Errorf("invalid conversion options: %w", err)
	}
	return &Converter{options: options}, nil
}

// WithAnnotator sets a hook adding properties to every feature
func (c *Converter) WithAnnotator(a Annotator) *Converter {
	c.annotate = a
	return c
}

// Convert decodes data and returns a feature collection of the selected layers
func (c *Converter) Convert(data []byte, z, x, y int) (*geojson.FeatureCollection, *ConversionMetadata, error) {
	id := TileID{Z: z, X: x, Y: y}
	if err := id.Validate(); err != nil {
		return nil, nil, err
	}

	decoded, err := NewDecoder(c.options.TileSize).Decode(data, z, x, y)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode MVT: %w", err)
	}

	var wgs84 mvt.Layers
	if c.options.CoordinateSystem == CoordSystemWGS84 {
		if wgs84, err = Unmarshal(data); err != nil {
			return nil, nil, fmt.Errorf("failed to decode MVT: %w", err)
		}
		wgs84.ProjectToWGS84(maptile.New(uint32(x), uint32(y), maptile.Zoom(z)))
	}

	fc := geojson.NewFeatureCollection()
	for _, layer := range decoded.Layers {
		if len(c.options.LayerFilter) > 0 && !contains(c.options.LayerFilter, layer.Name) {
			continue
		}
		projected := projectedFeatures(wgs84, layer.Name)

		for i, feature := range layer.Features {
			geometry := feature.Geometry
			if projected != nil && i < len(projected) {
				geometry = projected[i]
			}
			if c.options.SimplifyGeometry {
				geometry = simplify.DouglasPeucker(c.tolerance()).Simplify(orb.Clone(geometry))
			}

			out := geojson.NewFeature(geometry)
			out.ID = feature.ID
			for key, value := range feature.Tags {
				if len(c.options.PropertyFilter) > 0 && !contains(c.options.PropertyFilter, key) {
					continue
				}
				out.Properties[key] = value
			}
			out.Properties["_layer"] = layer.Name
			if c.annotate != nil {
				for key, value := range c.annotate(feature) {
					out.Properties[key] = value
				}
			}
			fc.Append(out)
		}
	}

	metadata := &ConversionMetadata{
		Layers:       decoded.GetLayerNames(),
		FeatureCount: len(fc.Features),
		TileID:       id.String(),
	}
	if c.options.IncludeMetadata {
		fc.ExtraMembers = geojson.Properties{"metadata": metadata}
	}
	return fc, metadata, nil
}

// tolerance is one pixel, expressed in the output coordinate system
func (c *Converter) tolerance() float64 {
	if c.options.CoordinateSystem == CoordSystemWGS84 {
		return 1e-6
	}
	return 1
}

// projectedFeatures returns the geometries of the named layer with nil
// geometries dropped, matching the decoder's feature order
func projectedFeatures(layers mvt.Layers, name string) []orb.Geometry {
	for _, layer := range layers {
		if layer.Name != name {
			continue
		}
		out := make([]orb.Geometry, 0, len(layer.Features))
		for _, f := range layer.Features {
			if f.Geometry == nil {
				continue
			}
			if _, ok := geometryType(f.Geometry); !ok {
				continue
			}
			out = append(out, f.Geometry)
		}
		return out
	}
	return nil
}

// ConvertToGeoJSONString converts MVT data to a GeoJSON string
func (c *Converter) ConvertToGeoJSONString(data []byte, z, x, y int, pretty bool) (string, error) {
	fc, _, err := c.Convert(data, z, x, y)
	if err != nil {
		return "", err
	}

	var jsonData []byte
	if pretty {
		jsonData, err = json.MarshalIndent(fc, "", "  ")
	} else {
		jsonData, err = json.Marshal(fc)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}
	return string(jsonData), nil
}

// ValidateConversionOptions validates the conversion options
func ValidateConversionOptions(options *ConversionOptions) error {
	if options == nil {
		return fmt.Errorf("options must not be nil")
	}
	if options.CoordinateSystem != CoordSystemTilePixels && options.CoordinateSystem != CoordSystemWGS84 {
		return fmt.Errorf("invalid coordinate system: %s, must be '%s' or '%s'",
			options.CoordinateSystem, CoordSystemTilePixels, CoordSystemWGS84)
	}
	if options.TileSize == 0 {
		return fmt.Errorf("tile size must be positive")
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
