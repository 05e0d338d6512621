// internal/output/writer.go - Output writing implementation
package output

import (
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/afero"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/tile"
)

// DirectoryWriter writes each tile to {dir}/{z}/{x}/{y}{ext}
type DirectoryWriter struct {
	fs        afero.Fs
	baseDir   string
	formatter Formatter

	mu    sync.Mutex
	stats BatchWriteResult
}

// NewDirectoryWriter creates a writer that outputs each tile to a separate file
func NewDirectoryWriter(fs afero.Fs, baseDir string, formatter Formatter) (*DirectoryWriter, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(baseDir, 0755); err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, "failed to create output directory", err)
	}

	return &DirectoryWriter{
		fs:        fs,
		baseDir:   baseDir,
		formatter: formatter,
	}, nil
}

// TilePath returns the file a tile is written to
func (w *DirectoryWriter) TilePath(t tile.Tile) string {
	return path.Join(w.baseDir,
		fmt.Sprintf("%d", t.ZoomLevel),
		fmt.Sprintf("%d", t.X),
		fmt.Sprintf("%d%s", t.Y, w.formatter.Extension()))
}

// WriteTile encodes and stores one tile
func (w *DirectoryWriter) WriteTile(t tile.Tile, bitmap graphics.Bitmap) (*WriteResult, error) {
	start := time.Now()
	result, err := w.write(t, bitmap)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.TotalTiles++
	w.stats.Duration += time.Since(start)
	if err != nil {
		w.stats.FailedTiles++
		w.stats.Errors = append(w.stats.Errors, err)
		return nil, err
	}
	w.stats.SuccessTiles++
	w.stats.BytesWritten += result.BytesWritten
	result.Duration = time.Since(start)
	return result, nil
}

func (w *DirectoryWriter) write(t tile.Tile, bitmap graphics.Bitmap) (*WriteResult, error) {
	data, err := w.formatter.Format(bitmap)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to encode tile %s", t), err)
	}

	final := w.TilePath(t)
	if err := w.fs.MkdirAll(path.Dir(final), 0755); err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, "failed to create tile directory", err)
	}

	tmp := final + ".tmp"
	if err := afero.WriteFile(w.fs, tmp, data, 0644); err != nil {
		w.fs.Remove(tmp)
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to write tile %s", t), err)
	}
	if err := w.fs.Rename(tmp, final); err != nil {
		w.fs.Remove(tmp)
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to write tile %s", t), err)
	}

	return &WriteResult{Path: final, BytesWritten: int64(len(data))}, nil
}

// Stats returns a copy of the accumulated write statistics
func (w *DirectoryWriter) Stats() BatchWriteResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	stats := w.stats
	stats.Errors = append([]error(nil), w.stats.Errors...)
	return stats
}

// Close is a no-op for directory writer
func (w *DirectoryWriter) Close() error {
	return nil
}

// StreamWriter writes encoded tiles to a stream such as stdout
type StreamWriter struct {
	out       io.Writer
	formatter Formatter
	mu        sync.Mutex
}

// NewStreamWriter creates a writer encoding tiles onto out
func NewStreamWriter(out io.Writer, formatter Formatter) *StreamWriter {
	return &StreamWriter{out: out, formatter: formatter}
}

// WriteTile encodes the tile onto the stream
func (w *StreamWriter) WriteTile(t tile.Tile, bitmap graphics.Bitmap) (*WriteResult, error) {
	start := time.Now()
	data, err := w.formatter.Format(bitmap)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to encode tile %s", t), err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.out.Write(data)
	if err != nil {
		return nil, fmt.Errorf("write of tile %s failed: %w", t, err)
	}
	return &WriteResult{Path: "-", BytesWritten: int64(n), Duration: time.Since(start)}, nil
}

// Close is a no-op for stream writer
func (w *StreamWriter) Close() error {
	return nil
}

// NewTileWriter creates the writer selected by cfg, writing to stdout when
// cfg.Stdout is set and under cfg.Directory on fs otherwise
func NewTileWriter(cfg *OutputConfig, fs afero.Fs, stdout io.Writer) (TileWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "invalid output configuration", err)
	}
	formatter, err := NewFormatter(cfg)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "failed to create formatter", err)
	}

	if cfg.Stdout {
		return NewStreamWriter(stdout, formatter), nil
	}
	return NewDirectoryWriter(fs, cfg.Directory, formatter)
}

// GeoJSONWriter writes feature collections to a stream
type GeoJSONWriter struct {
	out       io.Writer
	formatter *GeoJSONFormatter
}

// NewGeoJSONWriter creates a GeoJSON writer on out
func NewGeoJSONWriter(out io.Writer, pretty bool) *GeoJSONWriter {
	return &GeoJSONWriter{out: out, formatter: NewGeoJSONFormatter(pretty)}
}

// WriteCollection writes fc followed by a newline
func (w *GeoJSONWriter) WriteCollection(fc *geojson.FeatureCollection) error {
	data, err := w.formatter.FormatCollection(fc)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// WriteGeoJSONFile writes fc to name on fs, creating parent directories
func WriteGeoJSONFile(fs afero.Fs, name string, fc *geojson.FeatureCollection, pretty bool) error {
	data, err := NewGeoJSONFormatter(pretty).FormatCollection(fc)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}
	if err := fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, "failed to create output directory", err)
	}
	if err := afero.WriteFile(fs, name, data, 0644); err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, "failed to write GeoJSON", err)
	}
	return nil
}
