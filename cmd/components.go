// cmd/components.go - Wiring of sources, themes, caches and producers
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/cache"
	"github.com/valpere/tilerender/internal/config"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/layer"
	"github.com/valpere/tilerender/internal/metrics"
	"github.com/valpere/tilerender/internal/theme"
	"github.com/valpere/tilerender/internal/tile"
)

// components bundles what every rendering command needs
type components struct {
	cfg      *config.Config
	source   tile.Source
	theme    *theme.RenderTheme
	watcher  *theme.Watcher
	producer layer.Producer
	cache    cache.TileCache
}

// loadConfig loads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newComponents builds the source, theme, producer and cache described by cfg.
// With watch set and theme.watch enabled the theme is hot reloaded.
func newComponents(cfg *config.Config, watch bool) (*components, error) {
	source, err := tile.NewSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile source: %w", err)
	}
	c := &components{cfg: cfg, source: source}

	if err := c.loadTheme(watch); err != nil {
		return nil, multierr.Append(err, c.Close())
	}
	c.producer = c.newProducer()

	c.cache, err = newTileCache(cfg)
	if err != nil {
		return nil, multierr.Append(err, c.Close())
	}
	return c, nil
}

// loadTheme loads the configured theme, if any
func (c *components) loadTheme(watch bool) error {
	path := c.cfg.Theme.Path
	if path == "" {
		return nil
	}

	if watch && c.cfg.Theme.Watch {
		w, err := theme.NewWatcher(path, func(t *theme.RenderTheme) error {
			return applyThemeScales(t, &c.cfg.Theme)
		}, nil)
		if err != nil {
			return fmt.Errorf("failed to load theme: %w", err)
		}
		c.watcher = w
		return nil
	}

	t, err := theme.LoadFile(afero.NewOsFs(), path)
	if err != nil {
		return fmt.Errorf("failed to load theme: %w", err)
	}
	c.theme = t
	return applyThemeScales(t, &c.cfg.Theme)
}

// newProducer renders vector tiles when a theme is configured and uses raster
// tiles as they are otherwise
func (c *components) newProducer() layer.Producer {
	var themes layer.ThemeSource
	switch {
	case c.watcher != nil:
		themes = c.watcher
	case c.theme != nil:
		themes = layer.StaticTheme{Theme: c.theme}
	default:
		return layer.NewDownloadProducer(c.source, false)
	}

	renderer := layer.NewTileRenderer()
	if c.cfg.Theme.TextScale > 0 {
		renderer.TextScale = c.cfg.Theme.TextScale
	}
	if c.cfg.Theme.SimplifyBelowZL >= 0 {
		renderer.SimplifyBelow = uint8(min(c.cfg.Theme.SimplifyBelowZL, tile.MaxZoomLevel+1))
	}
	return layer.NewRenderProducer(c.source, themes, renderer)
}

// currentTheme returns the theme in effect, nil for raster sources
func (c *components) currentTheme() *theme.RenderTheme {
	if c.watcher != nil {
		return c.watcher.Current()
	}
	return c.theme
}

// runWatcher processes theme file events until ctx ends
func (c *components) runWatcher(ctx context.Context) {
	if c.watcher != nil {
		go c.watcher.Run(ctx)
	}
}

// Close releases the cache, the watcher and the theme
func (c *components) Close() error {
	var err error
	if c.cache != nil {
		err = multierr.Append(err, c.cache.Destroy())
	}
	if c.watcher != nil {
		err = multierr.Append(err, c.watcher.Close())
	}
	if c.theme != nil {
		c.theme.Destroy()
	}
	return err
}

// newTileCache builds the in-memory level in front of the file system level
func newTileCache(cfg *config.Config) (cache.TileCache, error) {
	memory, err := cache.NewInMemoryTileCache(cfg.Cache.MemoryCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	if cfg.Cache.FileCapacity == 0 {
		return memory, nil
	}

	files, err := cache.NewFileSystemTileCache(cache.FileCacheOptions{
		Fs:         afero.NewOsFs(),
		Root:       cfg.Cache.Directory,
		Capacity:   cfg.Cache.FileCapacity,
		Persistent: cfg.Cache.Persistent,
		Decoder:    graphics.ImageDecoder{},
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create file cache: %w", err), memory.Destroy())
	}
	return cache.NewTwoLevelTileCache(memory, files), nil
}

// applyThemeScales applies the configured stroke factor at every zoom. Text is
// scaled by the renderer so that the factor is part of the job key.
func applyThemeScales(t *theme.RenderTheme, cfg *config.ThemeConfig) error {
	if cfg.StrokeScale == 0 || cfg.StrokeScale == 1 {
		return nil
	}
	for z := 0; z <= tile.MaxZoomLevel; z++ {
		if err := t.ScaleStrokeWidth(cfg.StrokeScale, uint8(z)); err != nil {
			return internal.NewError(internal.ErrorCodeConfig, "invalid theme stroke scale", err)
		}
	}
	return nil
}

// startMetrics serves prometheus metrics in the background when enabled
func startMetrics(ctx context.Context, cfg *config.Config) {
	if !cfg.Metrics.Enabled {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Address); err != nil {
			internal.Logger().Error("metrics server failed", "error", err)
		}
	}()
}
