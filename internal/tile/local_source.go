// internal/tile/local_source.go - Tile reading from a local directory tree
package tile

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/config"
)

// LocalSource implements Source for tiles stored as {base}/{z}/{x}/{y}{ext}
type LocalSource struct {
	config *config.SourceConfig
}

// NewLocalSource creates a new local file source
func NewLocalSource(cfg *config.SourceConfig) *LocalSource {
	return &LocalSource{config: cfg}
}

// Key identifies this source in job keys
func (s *LocalSource) Key() string {
	if s.config.Name != "" {
		return s.config.Name
	}
	return "file:" + s.config.BasePath
}

// Parallelism returns how many files may be read concurrently
func (s *LocalSource) Parallelism() int {
	return max(s.config.Parallelism, 1)
}

// ZoomMin returns the lowest served zoom level
func (s *LocalSource) ZoomMin() uint8 { return clampZoom(s.config.ZoomMin) }

// ZoomMax returns the highest served zoom level
func (s *LocalSource) ZoomMax() uint8 { return clampZoom(s.config.ZoomMax) }

// Fetch reads a tile from the local file system
func (s *LocalSource) Fetch(ctx context.Context, t Tile) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.FilePath(t)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeValidation, "failed to build file path", err)
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("tile file not found: %s", filePath), err)
		}
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("cannot access tile file: %s", filePath), err)
	}

	if !fileInfo.Mode().IsRegular() {
		return nil, internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("path is not a regular file: %s", filePath), nil)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to open tile file: %s", filePath), err)
	}
	defer file.Close()

	var reader io.Reader = file
	if isCompressedFile(filePath) {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to create gzip reader for: %s", filePath), err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to read tile file: %s", filePath), err)
	}

	return data, nil
}

// FilePath constructs the file path for a tile
func (s *LocalSource) FilePath(t Tile) (string, error) {
	if s.config.BasePath == "" {
		return "", fmt.Errorf("base_path is required for coordinate-based file paths")
	}

	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("invalid coordinates: %w", err)
	}

	extension := s.config.Extension
	if s.config.Compressed {
		extension += ".gz"
	}

	return filepath.Join(
		s.config.BasePath,
		strconv.Itoa(int(t.ZoomLevel)),
		strconv.FormatUint(t.X, 10),
		strconv.FormatUint(t.Y, 10)+extension,
	), nil
}

// isCompressedFile determines if a file is compressed based on its extension
func isCompressedFile(filePath string) bool {
	return strings.HasSuffix(strings.ToLower(filePath), ".gz")
}
