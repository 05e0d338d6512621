// internal/theme/watcher.go - Hot reload of a theme file
package theme

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/valpere/tilerender/internal"
)

// Watcher keeps the theme at a path loaded, replacing it whenever the file
// changes. A reload that fails to parse leaves the previous theme active.
type Watcher struct {
	mu       sync.RWMutex
	fs       afero.Fs
	path     string
	current  *RenderTheme
	prepare  func(*RenderTheme) error
	onReload func(*RenderTheme)
	watcher  *fsnotify.Watcher
	done     chan struct{}
	close    sync.Once
}

// NewWatcher loads the theme and starts watching its directory. prepare, if set,
// runs on every parsed theme before it becomes current; a prepare error fails
// the load. onReload, if set, runs after each successful reload and before the
// old theme is destroyed.
func NewWatcher(themePath string, prepare func(*RenderTheme) error, onReload func(*RenderTheme)) (*Watcher, error) {
	fs := afero.NewOsFs()
	t, err := loadPrepared(fs, themePath, prepare)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		t.Destroy()
		return nil, internal.NewError(internal.ErrorCodeFileSystem, "failed to create theme watcher", err)
	}
	// editors often replace the file, so watch the directory
	if err := fw.Add(filepath.Dir(themePath)); err != nil {
		t.Destroy()
		return nil, multierr.Append(
			internal.NewError(internal.ErrorCodeFileSystem, "failed to watch theme directory", err),
			fw.Close(),
		)
	}

	return &Watcher{
		fs:       fs,
		path:     filepath.Clean(themePath),
		current:  t,
		prepare:  prepare,
		onReload: onReload,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Current returns the active theme
func (w *Watcher) Current() *RenderTheme {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until ctx ends or Close is called
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.Reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			internal.Logger().Warn("theme watcher error", "error", err)
		}
	}
}

// Reload parses the file again and swaps it in on success
func (w *Watcher) Reload() error {
	t, err := loadPrepared(w.fs, w.path, w.prepare)
	if err != nil {
		internal.Logger().Warn("theme reload failed, keeping previous theme", "path", w.path, "error", err)
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current = t
	w.mu.Unlock()

	internal.Logger().Info("theme reloaded", "path", w.path, "id", t.ID())
	if w.onReload != nil {
		w.onReload(t)
	}
	if old != nil {
		old.Destroy()
	}
	return nil
}

// loadPrepared parses the theme and runs prepare on it before anyone can see it
func loadPrepared(fs afero.Fs, themePath string, prepare func(*RenderTheme) error) (*RenderTheme, error) {
	t, err := LoadFile(fs, themePath)
	if err != nil {
		return nil, err
	}
	if prepare != nil {
		if err := prepare(t); err != nil {
			t.Destroy()
			return nil, err
		}
	}
	return t, nil
}

// Close stops watching and destroys the active theme
func (w *Watcher) Close() error {
	var err error
	w.close.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.mu.Lock()
		if w.current != nil {
			w.current.Destroy()
		}
		w.mu.Unlock()
	})
	return err
}
