// pkg/mvt/converter_test.go - Unit tests for GeoJSON conversion
package mvt

import (
	"math"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

func TestNewConverter(t *testing.T) {
	converter := NewConverter()
	if converter.options.CoordinateSystem != CoordSystemWGS84 {
		t.Errorf("Expected default coordinate system %s, got %s", CoordSystemWGS84, converter.options.CoordinateSystem)
	}
}

func TestValidateConversionOptions(t *testing.T) {
	tests := []struct {
		name    string
		options *ConversionOptions
		wantErr bool
	}{
		{"nil options", nil, true},
		{"wgs84", &ConversionOptions{CoordinateSystem: CoordSystemWGS84, TileSize: 256}, false},
		{"tile pixels", &ConversionOptions{CoordinateSystem: CoordSystemTilePixels, TileSize: 512}, false},
		{"unknown system", &ConversionOptions{CoordinateSystem: "mercator", TileSize: 256}, true},
		{"zero tile size", &ConversionOptions{CoordinateSystem: CoordSystemWGS84}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConversionOptions(tt.options)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConversionOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if _, err := NewConverterWithOptions(tt.options); (err != nil) != tt.wantErr {
				t.Errorf("NewConverterWithOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConvert_TilePixels(t *testing.T) {
	converter, err := NewConverterWithOptions(&ConversionOptions{
		CoordinateSystem: CoordSystemTilePixels,
		TileSize:         256,
		LayerFilter:      []string{"roads"},
		PropertyFilter:   []string{"highway", "amenity"},
	})
	if err != nil {
		t.Fatalf("NewConverterWithOptions() error = %v", err)
	}

	fc, metadata, err := converter.Convert(encodeTile(t, false), 3, 2, 1)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("Expected 2 road layer features, got %d", len(fc.Features))
	}
	if metadata.FeatureCount != 2 || metadata.TileID != "3/2/1" {
		t.Errorf("Unexpected metadata %+v", metadata)
	}

	for _, f := range fc.Features {
		if f.Properties["_layer"] != "roads" {
			t.Errorf("Expected _layer=roads, got %v", f.Properties["_layer"])
		}
		if _, ok := f.Properties["name"]; ok {
			t.Error("Expected name property to be filtered out")
		}
		if p, ok := f.Geometry.(orb.Point); ok && p != (orb.Point{128, 64}) {
			t.Errorf("Expected point at (128, 64), got %v", p)
		}
	}
}

func TestConvert_WGS84(t *testing.T) {
	fc, _, err := NewConverter().Convert(encodeTile(t, false), 0, 0, 0)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	for _, f := range fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		// pixel (2048, 1024) of a 4096 extent zoom 0 tile, projected from the
		// pixel center: just east of the prime meridian, a quarter down
		const extent = 4096.0
		wantLon := (2048+0.5)/extent*360 - 180
		wantLat := math.Atan(math.Sinh(math.Pi*(1-2*(1024+0.5)/extent))) * 180 / math.Pi
		if math.Abs(p.Lon()-wantLon) > 1e-6 {
			t.Errorf("Expected longitude %f, got %f", wantLon, p.Lon())
		}
		if math.Abs(p.Lat()-wantLat) > 1e-6 {
			t.Errorf("Expected latitude %f, got %f", wantLat, p.Lat())
		}
		if math.Abs(p.Lon()) > 360/extent || math.Abs(p.Lat()-66.51326) > 0.05 {
			t.Errorf("Expected point within a pixel of (0, 66.513), got %v", p)
		}
		return
	}
	t.Fatal("Expected a point feature")
}

func TestConvert_Annotator(t *testing.T) {
	converter := NewConverter().WithAnnotator(func(f *DecodedFeature) map[string]interface{} {
		return map[string]interface{}{"_closed": f.IsClosed()}
	})

	fc, _, err := converter.Convert(encodeTile(t, false), 0, 0, 0)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	closed := 0
	for _, f := range fc.Features {
		if f.Properties["_closed"] == true {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("Expected 1 closed feature, got %d", closed)
	}
}

func TestConvertToGeoJSONString(t *testing.T) {
	out, err := NewConverter().ConvertToGeoJSONString(encodeTile(t, false), 0, 0, 0, true)
	if err != nil {
		t.Fatalf("ConvertToGeoJSONString() error = %v", err)
	}
	if !strings.Contains(out, `"FeatureCollection"`) || !strings.Contains(out, "\n  ") {
		t.Errorf("Expected indented feature collection, got %s", out)
	}
}

func TestContains(t *testing.T) {
	slice := []string{"apple", "banana", "cherry"}

	if !contains(slice, "banana") {
		t.Error("Expected contains to return true for 'banana'")
	}
	if contains(slice, "grape") {
		t.Error("Expected contains to return false for 'grape'")
	}
}
