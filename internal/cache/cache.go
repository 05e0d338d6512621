// Package cache stores produced tile bitmaps keyed by job. An in-memory LRU level
// sits in front of a larger persistent level; both satisfy TileCache.
//
// Bitmap ownership: Put retains its own reference, so the caller keeps (and must
// eventually release) the reference it passed in. Get returns a bitmap carrying a
// reference owned by the caller.
package cache

import (
	"fmt"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/tile"
)

// TileCache is the contract shared by every cache level
type TileCache interface {
	ContainsKey(job tile.Job) bool
	Get(job tile.Job) graphics.Bitmap
	Put(job tile.Job, bitmap graphics.Bitmap) error
	Capacity() int
	SetCapacity(capacity int) error
	Destroy() error
}

// Configuration errors, rejected synchronously
var (
	ErrInvalidCapacity = internal.NewError(internal.ErrorCodeConfig, "cache capacity must not be negative", nil)
	ErrNilBitmap       = internal.NewError(internal.ErrorCodeValidation, "bitmap must not be nil", nil)
	ErrInvalidJob      = internal.NewError(internal.ErrorCodeValidation, "invalid job", nil)
)

func checkCapacity(capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return nil
}

func checkPut(job tile.Job, bitmap graphics.Bitmap) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if bitmap == nil {
		return ErrNilBitmap
	}
	return nil
}
