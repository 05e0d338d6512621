// pkg/mvt/decoder.go - Mapbox Vector Tile decoding into tile pixel space
package mvt

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
)

// DefaultExtent is the coordinate range of a vector tile layer
const DefaultExtent = 4096

// Decoder decodes vector tiles with geometries scaled from the layer extent to
// a tile of TileSize pixels
type Decoder struct {
	tileSize  float64
	tolerance float64
}

// NewDecoder creates a decoder producing coordinates in [0, tileSize]
func NewDecoder(tileSize uint32) *Decoder {
	return &Decoder{tileSize: float64(tileSize)}
}

// WithSimplification returns a copy of the decoder that simplifies lines and
// polygons with Douglas-Peucker at the given pixel tolerance
func (d *Decoder) WithSimplification(tolerance float64) *Decoder {
	c := *d
	c.tolerance = tolerance
	return &c
}

// DecodedTile is a decoded vector tile
type DecodedTile struct {
	Layers []*DecodedLayer `json:"layers"`
	TileID TileID          `json:"tile_id"`
}

// DecodedLayer is a single named layer of a tile
type DecodedLayer struct {
	Name     string            `json:"name"`
	Features []*DecodedFeature `json:"features"`
	Extent   int               `json:"extent"`
	Version  int               `json:"version"`
}

// DecodedFeature is a feature with its geometry in tile pixel coordinates
type DecodedFeature struct {
	ID       interface{}            `json:"id,omitempty"`
	Layer    string                 `json:"layer"`
	Tags     map[string]interface{} `json:"tags"`
	Type     string   `json:"type"`
	Geometry orb.Geometry           `json:"geometry"`
}

// TileID represents the tile coordinates and zoom level
type TileID struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// Unmarshal parses raw or gzipped vector tile bytes
func Unmarshal(data []byte) (mvt.Layers, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty tile data")
	}
	if bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		return mvt.UnmarshalGzipped(data)
	}
	return mvt.Unmarshal(data)
}

// Decode decodes a Mapbox Vector Tile from binary Protocol Buffer data
func (d *Decoder) Decode(data []byte, z, x, y int) (*DecodedTile, error) {
	id := TileID{Z: z, X: x, Y: y}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	layers, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal MVT data: %w", err)
	}

	decoded := &DecodedTile{
		Layers: make([]*DecodedLayer, 0, len(layers)),
		TileID: id,
	}
	for _, layer := range layers {
		decoded.Layers = append(decoded.Layers, d.decodeLayer(layer))
	}
	sort.SliceStable(decoded.Layers, func(i, j int) bool {
		return decoded.Layers[i].Name < decoded.Layers[j].Name
	})
	return decoded, nil
}

// decodeLayer processes a single layer; features without a usable geometry are
// skipped
func (d *Decoder) decodeLayer(layer *mvt.Layer) *DecodedLayer {
	extent := int(layer.Extent)
	if extent <= 0 {
		extent = DefaultExtent
	}

	decoded := &DecodedLayer{
		Name:     layer.Name,
		Features: make([]*DecodedFeature, 0, len(layer.Features)),
		Extent:   extent,
		Version:  int(layer.Version),
	}

	scale := d.tileSize / float64(extent)
	toPixels := func(p orb.Point) orb.Point {
		return orb.Point{p[0] * scale, p[1] * scale}
	}

	for _, feature := range layer.Features {
		if feature.Geometry == nil {
			continue
		}

		geometry := applyGeometryTransform(feature.Geometry, toPixels)
		if d.tolerance > 0 {
			geometry = simplifyGeometry(geometry, d.tolerance)
		}
		typ, ok := geometryType(geometry)
		if !ok {
			continue
		}

		decoded.Features = append(decoded.Features, &DecodedFeature{
			ID:       feature.ID,
			Layer:    layer.Name,
			Tags:     feature.Properties,
			Type:     typ,
			Geometry: geometry,
		})
	}
	return decoded
}

func simplifyGeometry(geometry orb.Geometry, tolerance float64) orb.Geometry {
	switch geometry.(type) {
	case orb.Point, orb.MultiPoint:
		return geometry
	}
	return simplify.DouglasPeucker(tolerance).Simplify(orb.Clone(geometry))
}

func geometryType(geometry orb.Geometry) (string, bool) {
	switch geometry.(type) {
	case orb.Point:
		return geojson.TypePoint, true
	case orb.MultiPoint:
		return geojson.TypeMultiPoint, true
	case orb.LineString:
		return geojson.TypeLineString, true
	case orb.MultiLineString:
		return geojson.TypeMultiLineString, true
	case orb.Polygon:
		return geojson.TypePolygon, true
	case orb.MultiPolygon:
		return geojson.TypeMultiPolygon, true
	}
	return "", false
}

// Features returns the features of every layer in layer name order
func (dt *DecodedTile) Features() []*DecodedFeature {
	features := make([]*DecodedFeature, 0, dt.GetFeatureCount())
	for _, layer := range dt.Layers {
		features = append(features, layer.Features...)
	}
	return features
}

// GetLayerNames returns the names of all layers in the decoded tile
func (dt *DecodedTile) GetLayerNames() []string {
	names := make([]string, 0, len(dt.Layers))
	for _, layer := range dt.Layers {
		names = append(names, layer.Name)
	}
	return names
}

// GetFeatureCount returns the total number of features across all layers
func (dt *DecodedTile) GetFeatureCount() int {
	count := 0
	for _, layer := range dt.Layers {
		count += len(layer.Features)
	}
	return count
}

// HasLayer checks if the tile contains a specific layer
func (dt *DecodedTile) HasLayer(layerName string) bool {
	for _, layer := range dt.Layers {
		if layer.Name == layerName {
			return true
		}
	}
	return false
}

// IsEmpty returns true if the tile contains no features
func (dt *DecodedTile) IsEmpty() bool {
	return dt.GetFeatureCount() == 0
}

// IsNode reports point features
func (f *DecodedFeature) IsNode() bool {
	return f.Type == geojson.TypePoint || f.Type == geojson.TypeMultiPoint
}

// IsClosed reports polygons and rings whose first and last points coincide
func (f *DecodedFeature) IsClosed() bool {
	return IsClosed(f.Geometry)
}

// String returns a string representation of the tile ID
func (tid TileID) String() string {
	return fmt.Sprintf("%d/%d/%d", tid.Z, tid.X, tid.Y)
}

// Validate checks if the tile coordinates are valid
func (tid TileID) Validate() error {
	if tid.Z < 0 || tid.Z > 30 {
		return fmt.Errorf("invalid zoom level %d: must be between 0 and 30", tid.Z)
	}

	maxTile := 1 << uint(tid.Z)
	if tid.X < 0 || tid.X >= maxTile {
		return fmt.Errorf("invalid X coordinate %d for zoom %d: must be between 0 and %d", tid.X, tid.Z, maxTile-1)
	}

	if tid.Y < 0 || tid.Y >= maxTile {
		return fmt.Errorf("invalid Y coordinate %d for zoom %d: must be between 0 and %d", tid.Y, tid.Z, maxTile-1)
	}

	return nil
}
