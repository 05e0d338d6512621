// pkg/mvt/decoder_test.go - Unit tests for MVT decoder
package mvt

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	omvt "github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
)

// encodeTile builds a tile whose geometries are given in extent coordinates
func encodeTile(t *testing.T, gzipped bool) []byte {
	t.Helper()

	water := geojson.NewFeatureCollection()
	lake := geojson.NewFeature(orb.Polygon{{{0, 0}, {4096, 0}, {4096, 4096}, {0, 4096}, {0, 0}}})
	lake.Properties["natural"] = "water"
	water.Append(lake)

	roads := geojson.NewFeatureCollection()
	road := geojson.NewFeature(orb.LineString{{0, 2048}, {2048, 2048}, {4096, 2048}})
	road.Properties["highway"] = "primary"
	road.Properties["name"] = "Main Street"
	roads.Append(road)
	poi := geojson.NewFeature(orb.Point{2048, 1024})
	poi.Properties["amenity"] = "cafe"
	roads.Append(poi)

	layers := omvt.NewLayers(map[string]*geojson.FeatureCollection{
		"water": water,
		"roads": roads,
	})

	var (
		data []byte
		err  error
	)
	if gzipped {
		data, err = omvt.MarshalGzipped(layers)
	} else {
		data, err = omvt.Marshal(layers)
	}
	if err != nil {
		t.Fatalf("failed to encode tile: %v", err)
	}
	return data
}

func TestDecode_EmptyData(t *testing.T) {
	decoder := NewDecoder(256)
	if _, err := decoder.Decode([]byte{}, 1, 1, 1); err == nil {
		t.Error("Expected error for empty data")
	}
}

func TestDecode_InvalidTileID(t *testing.T) {
	decoder := NewDecoder(256)
	if _, err := decoder.Decode(encodeTile(t, false), 1, 2, 0); err == nil {
		t.Error("Expected error for out of range tile")
	}
}

func TestDecode_ScalesToTilePixels(t *testing.T) {
	for _, gzipped := range []bool{false, true} {
		decoded, err := NewDecoder(256).Decode(encodeTile(t, gzipped), 14, 8362, 5956)
		if err != nil {
			t.Fatalf("Decode(gzipped=%v) error = %v", gzipped, err)
		}

		names := decoded.GetLayerNames()
		if len(names) != 2 || names[0] != "roads" || names[1] != "water" {
			t.Fatalf("Expected sorted layers [roads water], got %v", names)
		}
		if decoded.GetFeatureCount() != 3 {
			t.Fatalf("Expected 3 features, got %d", decoded.GetFeatureCount())
		}
		if decoded.TileID.String() != "14/8362/5956" {
			t.Errorf("Unexpected tile ID %s", decoded.TileID)
		}

		var point *DecodedFeature
		for _, f := range decoded.Features() {
			if f.IsNode() {
				point = f
			}
		}
		if point == nil {
			t.Fatal("Expected a point feature")
		}
		p := point.Geometry.(orb.Point)
		if p[0] != 128 || p[1] != 64 {
			t.Errorf("Expected point at (128, 64), got %v", p)
		}
		if point.Tags["amenity"] != "cafe" {
			t.Errorf("Expected amenity tag, got %v", point.Tags)
		}
	}
}

func TestDecode_ClosedAndLabels(t *testing.T) {
	decoded, err := NewDecoder(512).Decode(encodeTile(t, false), 0, 0, 0)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	for _, f := range decoded.Features() {
		switch f.Type {
		case geojson.TypePolygon:
			if !f.IsClosed() {
				t.Error("Expected polygon to be closed")
			}
			c, ok := LabelPoint(f.Geometry)
			if !ok || math.Abs(c[0]-256) > 1e-9 || math.Abs(c[1]-256) > 1e-9 {
				t.Errorf("Expected polygon label at (256, 256), got %v", c)
			}
		case geojson.TypeLineString:
			if f.IsClosed() {
				t.Error("Expected open line")
			}
			c, _ := LabelPoint(f.Geometry)
			if c != (orb.Point{256, 256}) {
				t.Errorf("Expected line label at middle vertex, got %v", c)
			}
		}
	}
}

func TestDecode_Simplification(t *testing.T) {
	straight := geojson.NewFeatureCollection()
	straight.Append(geojson.NewFeature(orb.LineString{{0, 0}, {1024, 1}, {2048, 0}, {3072, 1}, {4096, 0}}))
	data, err := omvt.Marshal(omvt.NewLayers(map[string]*geojson.FeatureCollection{"roads": straight}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	plain, err := NewDecoder(256).Decode(data, 0, 0, 0)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	simplified, err := NewDecoder(256).WithSimplification(1).Decode(data, 0, 0, 0)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if n := len(plain.Features()[0].Geometry.(orb.LineString)); n != 5 {
		t.Errorf("Expected 5 points without simplification, got %d", n)
	}
	if n := len(simplified.Features()[0].Geometry.(orb.LineString)); n != 2 {
		t.Errorf("Expected 2 points after simplification, got %d", n)
	}
}

func TestTileIDString(t *testing.T) {
	tid := TileID{Z: 14, X: 8362, Y: 5956}
	expected := "14/8362/5956"
	if tid.String() != expected {
		t.Errorf("Expected %s, got %s", expected, tid.String())
	}
}

func TestTileIDValidate(t *testing.T) {
	tests := []struct {
		name    string
		tid     TileID
		wantErr bool
	}{
		{"valid coordinates", TileID{14, 8362, 5956}, false},
		{"invalid zoom negative", TileID{-1, 0, 0}, true},
		{"invalid zoom too high", TileID{31, 0, 0}, true},
		{"invalid x negative", TileID{1, -1, 0}, true},
		{"invalid x too high", TileID{1, 2, 0}, true},
		{"invalid y negative", TileID{1, 0, -1}, true},
		{"invalid y too high", TileID{1, 0, 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tid.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("TileID.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyGeometryTransform(t *testing.T) {
	double := func(p orb.Point) orb.Point {
		return orb.Point{p[0] * 2, p[1] * 2}
	}

	result := applyGeometryTransform(orb.Point{1, 2}, double)
	if result != (orb.Point{2, 4}) {
		t.Errorf("Expected (2, 4), got %v", result)
	}

	line := applyGeometryTransform(orb.LineString{{1, 2}, {3, 4}}, double).(orb.LineString)
	if len(line) != 2 || line[1] != (orb.Point{6, 8}) {
		t.Errorf("Unexpected transformed line %v", line)
	}
}

func TestPaths(t *testing.T) {
	polygon := orb.Polygon{
		{{0, 0}, {4, 0}, {4, 4}, {0, 0}},
		{{1, 1}, {2, 1}, {2, 2}, {1, 1}},
	}
	if n := len(Paths(polygon)); n != 2 {
		t.Errorf("Expected 2 paths for polygon with hole, got %d", n)
	}
	if Paths(orb.Point{1, 1}) != nil {
		t.Error("Expected no paths for a point")
	}
}

func TestDecodedTileIsEmpty(t *testing.T) {
	if !(&DecodedTile{}).IsEmpty() {
		t.Error("Expected empty tile to return true for IsEmpty()")
	}

	nonEmpty := &DecodedTile{Layers: []*DecodedLayer{{Name: "test", Features: []*DecodedFeature{{}}}}}
	if nonEmpty.IsEmpty() {
		t.Error("Expected non-empty tile to return false for IsEmpty()")
	}
	if !nonEmpty.HasLayer("test") || nonEmpty.HasLayer("roads") {
		t.Error("HasLayer returned unexpected result")
	}
}
