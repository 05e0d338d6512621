package output

import (
	"bytes"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/afero"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/cache"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/tile"
)

func filled(c color.NRGBA) graphics.Bitmap {
	canvas := graphics.NewCanvas(8, 8)
	canvas.FillColor(c)
	return canvas.Bitmap()
}

func TestOutputConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     OutputConfig
		wantErr bool
	}{
		{"png", OutputConfig{Format: FormatPNG, Directory: "tiles"}, false},
		{"jpeg", OutputConfig{Format: FormatJPEG, Directory: "tiles", Quality: 75}, false},
		{"jpeg without quality", OutputConfig{Format: FormatJPEG, Directory: "tiles"}, true},
		{"stdout needs no directory", OutputConfig{Format: FormatPNG, Stdout: true}, false},
		{"missing directory", OutputConfig{Format: FormatPNG}, true},
		{"unknown format", OutputConfig{Format: "tiff", Directory: "tiles"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDirectoryWriterWritesPNG(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewDirectoryWriter(fs, "out", PNGFormatter{})
	if err != nil {
		t.Fatal(err)
	}

	bitmap := filled(color.NRGBA{R: 255, A: 255})
	defer bitmap.Release()

	result, err := w.WriteTile(tile.NewTile(2, 1, 3, 256), bitmap)
	if err != nil {
		t.Fatalf("WriteTile() error = %v", err)
	}
	if result.Path != "out/3/2/1.png" {
		t.Errorf("path = %q, want out/3/2/1.png", result.Path)
	}

	data, err := afero.ReadFile(fs, result.Path)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if r, g, b, _ := img.At(4, 4).RGBA(); r>>8 != 255 || g != 0 || b != 0 {
		t.Errorf("pixel = %v, want red", img.At(4, 4))
	}
	if exists, _ := afero.Exists(fs, result.Path+".tmp"); exists {
		t.Error("temporary file left behind")
	}

	stats := w.Stats()
	if stats.TotalTiles != 1 || stats.SuccessTiles != 1 || stats.BytesWritten != int64(len(data)) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestJPEGFlattensTransparency(t *testing.T) {
	bitmap := graphics.NewBitmap(8, 8)
	defer bitmap.Release()

	data, err := NewJPEGFormatter(90).Format(bitmap)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if r, g, b, _ := img.At(3, 3).RGBA(); r>>8 < 245 || g>>8 < 245 || b>>8 < 245 {
		t.Errorf("pixel = %v, want white background", img.At(3, 3))
	}
}

func TestNewTileWriter(t *testing.T) {
	var stdout bytes.Buffer
	w, err := NewTileWriter(&OutputConfig{Format: FormatPNG, Stdout: true}, afero.NewMemMapFs(), &stdout)
	if err != nil {
		t.Fatalf("NewTileWriter() error = %v", err)
	}
	bitmap := filled(color.NRGBA{B: 255, A: 255})
	defer bitmap.Release()
	if _, err := w.WriteTile(tile.NewTile(0, 0, 0, 256), bitmap); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(stdout.Bytes(), []byte("\x89PNG")) {
		t.Error("stdout does not hold a PNG")
	}

	_, err = NewTileWriter(&OutputConfig{Format: FormatGeoJSON, Directory: "x"}, afero.NewMemMapFs(), &stdout)
	if !internal.HasCode(err, internal.ErrorCodeConfig) {
		t.Errorf("NewTileWriter(geojson) error = %v, want config error", err)
	}
}

func TestGeoJSONWriter(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{13.4, 52.5})
	f.Properties["name"] = "Berlin"
	fc.Append(f)

	var buf bytes.Buffer
	if err := NewGeoJSONWriter(&buf, true).WriteCollection(fc); err != nil {
		t.Fatalf("WriteCollection() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"FeatureCollection"`) || !strings.Contains(out, "\n  ") || !strings.HasSuffix(out, "\n") {
		t.Errorf("unexpected output %q", out)
	}

	fs := afero.NewMemMapFs()
	if err := WriteGeoJSONFile(fs, "inspect/tile.geojson", fc, false); err != nil {
		t.Fatal(err)
	}
	data, _ := afero.ReadFile(fs, "inspect/tile.geojson")
	if !strings.Contains(string(data), `"Berlin"`) {
		t.Errorf("file content = %s", data)
	}
}

func TestExportingCache(t *testing.T) {
	mem, err := cache.NewInMemoryTileCache(4)
	if err != nil {
		t.Fatal(err)
	}
	fs := afero.NewMemMapFs()
	w, err := NewDirectoryWriter(fs, "export", PNGFormatter{})
	if err != nil {
		t.Fatal(err)
	}
	c := NewExportingCache(mem, w)

	job := tile.NewJob(tile.NewTile(1, 1, 1, 256), "osm", false)
	bitmap := filled(color.NRGBA{G: 255, A: 255})
	if err := c.Put(job, bitmap); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	bitmap.Release()

	if !c.ContainsKey(job) {
		t.Error("tile not cached")
	}
	if exists, _ := afero.Exists(fs, "export/1/1/1.png"); !exists {
		t.Error("tile not exported")
	}
	if err := c.Destroy(); err != nil {
		t.Errorf("Destroy() error = %v", err)
	}
}
