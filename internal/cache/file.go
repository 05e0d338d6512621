// internal/cache/file.go - Persistent file system cache level
package cache

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/metrics"
	"github.com/valpere/tilerender/internal/tile"
)

const (
	levelFile     = "file"
	fileExtension = ".tile"
)

// FileSystemTileCache persists encoded bitmaps as one file per tile under
// {root}/{discriminator}/{zoomLevel}/{tileX}/{tileY}.tile with its own LRU index.
// Storage failures are logged and reported as misses.
type FileSystemTileCache struct {
	mu         sync.Mutex
	fs         afero.Fs
	root       string
	index      *lru.Cache
	present    map[string]struct{}
	capacity   int
	persistent bool
	decoder    graphics.Decoder
	metrics    *metrics.Metrics
}

// FileCacheOptions configures a FileSystemTileCache
type FileCacheOptions struct {
	Fs         afero.Fs
	Root       string
	Capacity   int
	Persistent bool
	Decoder    graphics.Decoder
}

// NewFileSystemTileCache creates the cache directory and, for persistent caches,
// re-indexes tiles left by a previous run (oldest modification first).
func NewFileSystemTileCache(opts FileCacheOptions) (*FileSystemTileCache, error) {
	if err := checkCapacity(opts.Capacity); err != nil {
		return nil, err
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Decoder == nil {
		opts.Decoder = graphics.ImageDecoder{}
	}
	// afero.Walk reports cleaned paths
	opts.Root = filepath.Clean(opts.Root)
	if exists, _ := afero.DirExists(opts.Fs, opts.Root); !exists {
		if err := opts.Fs.MkdirAll(opts.Root, 0755); err != nil {
			return nil, internal.NewError(internal.ErrorCodeFileSystem, "failed to create cache directory", err)
		}
	}

	c := &FileSystemTileCache{
		fs:         opts.Fs,
		root:       opts.Root,
		capacity:   opts.Capacity,
		persistent: opts.Persistent,
		decoder:    opts.Decoder,
		metrics:    metrics.Get(),
	}
	c.resetIndex()

	if opts.Persistent {
		if err := c.restore(); err != nil {
			internal.Logger().Warn("tile cache index restore failed", "root", opts.Root, "error", err)
		}
	}
	return c, nil
}

func (c *FileSystemTileCache) resetIndex() {
	c.index = lru.New(c.capacity)
	c.index.OnEvicted = c.onEvicted
	c.present = make(map[string]struct{})
}

// onEvicted runs with c.mu held and deletes the evicted tile file
func (c *FileSystemTileCache) onEvicted(key lru.Key, _ interface{}) {
	rel := key.(string)
	delete(c.present, rel)
	if err := c.fs.Remove(path.Join(c.root, rel)); err != nil && !os.IsNotExist(err) {
		internal.Logger().Warn("failed to delete evicted tile", "path", rel, "error", err)
		c.metrics.CacheIOErrors.WithLabelValues("delete").Inc()
	}
	c.metrics.CacheEvictions.WithLabelValues(levelFile).Inc()
}

// relativePath maps a job onto its file below root
func relativePath(job tile.Job) string {
	return path.Join(
		strconv.FormatUint(xxh3.HashString(job.Discriminator()), 16),
		job.Path()+fileExtension,
	)
}

// ContainsKey reports whether the job is indexed
func (c *FileSystemTileCache) ContainsKey(job tile.Job) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.present[relativePath(job)]
	return ok
}

// Get decodes the stored tile into a new bitmap owned by the caller
func (c *FileSystemTileCache) Get(job tile.Job) graphics.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()

	rel := relativePath(job)
	if _, ok := c.index.Get(rel); !ok {
		c.metrics.CacheMisses.WithLabelValues(levelFile).Inc()
		return nil
	}

	bitmap, err := c.read(rel)
	if err != nil {
		internal.Logger().Warn("failed to read cached tile", "job", job.String(), "error", err)
		c.metrics.CacheIOErrors.WithLabelValues("read").Inc()
		c.metrics.CacheMisses.WithLabelValues(levelFile).Inc()
		c.index.Remove(rel)
		return nil
	}

	c.metrics.CacheHits.WithLabelValues(levelFile).Inc()
	return bitmap
}

func (c *FileSystemTileCache) read(rel string) (graphics.Bitmap, error) {
	file, err := c.fs.Open(path.Join(c.root, rel))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return c.decoder.Decode(file)
}

// Put encodes the bitmap to disk. The bitmap is not retained.
func (c *FileSystemTileCache) Put(job tile.Job, bitmap graphics.Bitmap) error {
	if err := checkPut(job, bitmap); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		return nil
	}

	rel := relativePath(job)
	if err := c.write(rel, bitmap); err != nil {
		internal.Logger().Warn("failed to persist tile", "job", job.String(), "error", err)
		c.metrics.CacheIOErrors.WithLabelValues("write").Inc()
		c.index.Remove(rel)
		return nil
	}

	c.present[rel] = struct{}{}
	c.index.Add(rel, struct{}{})
	return nil
}

// write stores the encoded bitmap via a temp file and rename
func (c *FileSystemTileCache) write(rel string, bitmap graphics.Bitmap) error {
	var buf bytes.Buffer
	if err := bitmap.Encode(&buf); err != nil {
		return fmt.Errorf("encode failed: %w", err)
	}

	final := path.Join(c.root, rel)
	if err := c.fs.MkdirAll(path.Dir(final), 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	tmp := final + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, buf.Bytes(), 0644); err != nil {
		c.fs.Remove(tmp)
		return fmt.Errorf("write failed: %w", err)
	}
	if err := c.fs.Rename(tmp, final); err != nil {
		c.fs.Remove(tmp)
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}

// Capacity returns the maximum number of stored tiles
func (c *FileSystemTileCache) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// SetCapacity resizes the index, deleting least recently used files first
func (c *FileSystemTileCache) SetCapacity(capacity int) error {
	if err := checkCapacity(capacity); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = capacity
	if capacity == 0 {
		c.index.Clear()
		return nil
	}
	c.index.MaxEntries = capacity
	for c.index.Len() > capacity {
		c.index.RemoveOldest()
	}
	return nil
}

// Len returns the number of indexed tiles
func (c *FileSystemTileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// Destroy empties the index. Non-persistent caches also delete their directory.
func (c *FileSystemTileCache) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetIndex()
	if c.persistent {
		return nil
	}
	if err := c.fs.RemoveAll(c.root); err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, "failed to remove cache directory", err)
	}
	return nil
}

type indexedFile struct {
	rel     string
	modTime time.Time
}

// restore walks root and indexes every tile file, oldest first
func (c *FileSystemTileCache) restore() error {
	var files []indexedFile

	err := afero.Walk(c.fs, c.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, ok := c.parseTilePath(p)
		if !ok {
			return nil
		}
		files = append(files, indexedFile{rel: rel, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return err
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range files {
		if c.capacity == 0 {
			break
		}
		c.present[f.rel] = struct{}{}
		c.index.Add(f.rel, struct{}{})
	}

	internal.Logger().Debug("tile cache index restored", "root", c.root, "tiles", c.index.Len())
	return nil
}

// parseTilePath accepts {hash}/{z}/{x}/{y}.tile below root
func (c *FileSystemTileCache) parseTilePath(p string) (string, bool) {
	rel, err := filepath.Rel(c.root, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	if len(parts) != 4 || !strings.HasSuffix(parts[3], fileExtension) {
		return "", false
	}

	if _, err := strconv.ParseUint(parts[0], 16, 64); err != nil {
		return "", false
	}
	z, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", false
	}
	x, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", false
	}
	y, err := strconv.ParseUint(strings.TrimSuffix(parts[3], fileExtension), 10, 64)
	if err != nil {
		return "", false
	}
	if err := tile.ValidateCoordinates(z, x, y); err != nil {
		return "", false
	}
	return rel, true
}
