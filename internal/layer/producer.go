// internal/layer/producer.go - Tile content producers
package layer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/theme"
	"github.com/valpere/tilerender/internal/tile"
)

// Producer creates the bitmap for a job. Workers call Produce concurrently, up
// to Parallelism at a time.
type Producer interface {
	// Name labels metrics and logs
	Name() string
	// JobKey is the renderer discriminator of the jobs this producer serves
	JobKey() string
	HasAlpha() bool
	Parallelism() int
	Covers(t tile.Tile) bool
	Produce(ctx context.Context, job tile.Job) (graphics.Bitmap, error)
}

// DownloadProducer fetches raster tiles from a source and decodes them
type DownloadProducer struct {
	source   tile.Source
	decoder  graphics.Decoder
	hasAlpha bool
}

// NewDownloadProducer creates a producer for a raster source
func NewDownloadProducer(source tile.Source, hasAlpha bool) *DownloadProducer {
	return &DownloadProducer{source: source, decoder: graphics.ImageDecoder{}, hasAlpha: hasAlpha}
}

// Name implements Producer
func (p *DownloadProducer) Name() string { return "download" }

// JobKey implements Producer
func (p *DownloadProducer) JobKey() string { return p.source.Key() }

// HasAlpha implements Producer
func (p *DownloadProducer) HasAlpha() bool { return p.hasAlpha }

// Parallelism implements Producer
func (p *DownloadProducer) Parallelism() int { return p.source.Parallelism() }

// Covers implements Producer
func (p *DownloadProducer) Covers(t tile.Tile) bool { return tile.Covers(p.source, t) }

// Produce implements Producer
func (p *DownloadProducer) Produce(ctx context.Context, job tile.Job) (graphics.Bitmap, error) {
	data, err := p.source.Fetch(ctx, job.Tile)
	if err != nil {
		return nil, err
	}
	bitmap, err := graphics.DecodeBytes(p.decoder, data)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to decode tile %s", job.Tile), err)
	}
	return bitmap, nil
}

// ThemeSource supplies the render theme in effect. A theme.Watcher satisfies it.
type ThemeSource interface {
	Current() *theme.RenderTheme
}

// StaticTheme is a ThemeSource that never changes
type StaticTheme struct {
	Theme *theme.RenderTheme
}

// Current implements ThemeSource
func (s StaticTheme) Current() *theme.RenderTheme { return s.Theme }

// RenderProducer fetches vector tiles and renders them with the current theme
type RenderProducer struct {
	source   tile.Source
	themes   ThemeSource
	renderer *TileRenderer
}

// NewRenderProducer creates a producer rendering source tiles with renderer
func NewRenderProducer(source tile.Source, themes ThemeSource, renderer *TileRenderer) *RenderProducer {
	return &RenderProducer{source: source, themes: themes, renderer: renderer}
}

// Name implements Producer
func (p *RenderProducer) Name() string { return "render" }

// ErrStaleJob is returned for jobs queued under a theme that is no longer current
var ErrStaleJob = errors.New("job was queued for another render theme")

// JobKey includes the theme identity and text scale so that restyled tiles never
// hit cached output of another theme
func (p *RenderProducer) JobKey() string {
	return p.keyFor(p.themes.Current())
}

func (p *RenderProducer) keyFor(th *theme.RenderTheme) string {
	id := ""
	if th != nil {
		id = th.ID()
	}
	return p.source.Key() + "|" + id + "|" + strconv.FormatFloat(p.renderer.TextScale, 'g', -1, 64)
}

// HasAlpha implements Producer
func (p *RenderProducer) HasAlpha() bool { return p.renderer.Transparent }

// Parallelism implements Producer
func (p *RenderProducer) Parallelism() int { return p.source.Parallelism() }

// Covers implements Producer
func (p *RenderProducer) Covers(t tile.Tile) bool { return tile.Covers(p.source, t) }

// Produce implements Producer
func (p *RenderProducer) Produce(ctx context.Context, job tile.Job) (graphics.Bitmap, error) {
	th := p.themes.Current()
	if th == nil {
		return nil, internal.NewError(internal.ErrorCodeTheme, "no render theme loaded", nil)
	}
	// the output must match the theme named in the key it is cached under
	if p.keyFor(th) != job.Key {
		return nil, internal.NewError(internal.ErrorCodeTheme, fmt.Sprintf("tile %s not rendered", job.Tile), ErrStaleJob)
	}
	data, err := p.source.Fetch(ctx, job.Tile)
	if err != nil {
		return nil, err
	}
	return p.renderer.Render(th, data, job.Tile)
}
