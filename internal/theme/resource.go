package theme

import (
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/graphics"
)

// ResourceLoader resolves symbol sources referenced by a theme into bitmaps
type ResourceLoader interface {
	Load(src string) (graphics.Bitmap, error)
}

// FsResourceLoader loads "file:" (or plain relative) sources below a directory
type FsResourceLoader struct {
	fs      afero.Fs
	dir     string
	decoder graphics.Decoder
}

// NewFsResourceLoader creates a loader rooted at dir
func NewFsResourceLoader(fs afero.Fs, dir string) *FsResourceLoader {
	return &FsResourceLoader{fs: fs, dir: dir, decoder: graphics.ImageDecoder{}}
}

// Load implements ResourceLoader
func (l *FsResourceLoader) Load(src string) (graphics.Bitmap, error) {
	rel := strings.TrimPrefix(src, "file:")
	if rel == "" || strings.Contains(src, "://") {
		return nil, internal.NewError(internal.ErrorCodeValidation, "unsupported symbol source "+src, nil)
	}

	p := rel
	if !path.IsAbs(rel) {
		p = path.Join(l.dir, rel)
	}

	f, err := l.fs.Open(p)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeNotFound, "symbol not found: "+src, err)
	}
	defer f.Close()

	b, err := l.decoder.Decode(f)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeProcessing, "failed to decode symbol "+src, err)
	}
	return b, nil
}
