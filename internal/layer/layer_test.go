package layer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	omvt "github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/cache"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/model"
	"github.com/valpere/tilerender/internal/queue"
	"github.com/valpere/tilerender/internal/theme"
	"github.com/valpere/tilerender/internal/tile"
	"github.com/valpere/tilerender/internal/view"
)

var (
	red  = color.NRGBA{R: 255, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

const layerTheme = `<?xml version="1.0" encoding="UTF-8"?>
<rendertheme xmlns="http://mapsforge.org/renderTheme" version="1" map-background="#ffffff">
  <rule e="way" k="natural" v="water" closed="yes">
    <area fill="#0000ff" level="5"/>
  </rule>
  <rule e="way" k="highway" v="*">
    <line stroke="#ff0000" stroke-width="4" level="10"/>
  </rule>
  <rule e="node" k="amenity" v="*">
    <circle r="3" fill="#00ff00" level="20"/>
  </rule>
</rendertheme>`

// memorySource serves tiles from a map keyed by z/x/y
type memorySource struct {
	tiles map[string][]byte
}

func (s *memorySource) Key() string      { return "memory" }
func (s *memorySource) Parallelism() int { return 2 }
func (s *memorySource) ZoomMin() uint8   { return 0 }
func (s *memorySource) ZoomMax() uint8   { return 18 }

func (s *memorySource) Fetch(_ context.Context, t tile.Tile) ([]byte, error) {
	data, ok := s.tiles[t.String()]
	if !ok {
		return nil, internal.NewError(internal.ErrorCodeNotFound, "no tile "+t.String(), nil)
	}
	return data, nil
}

// fakeProducer returns solid bitmaps and fails or panics on request
type fakeProducer struct {
	mu       sync.Mutex
	produced int
	fail     map[tile.Tile]bool
	panics   bool
}

func (p *fakeProducer) Name() string            { return "fake" }
func (p *fakeProducer) JobKey() string          { return "fake" }
func (p *fakeProducer) HasAlpha() bool          { return false }
func (p *fakeProducer) Parallelism() int        { return 2 }
func (p *fakeProducer) Covers(t tile.Tile) bool { return true }

func (p *fakeProducer) Produce(_ context.Context, job tile.Job) (graphics.Bitmap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panics {
		panic("producer exploded")
	}
	if p.fail[job.Tile] {
		return nil, errors.New("boom")
	}
	p.produced++
	return solid(int(job.Tile.TileSize), red), nil
}

func solid(size int, c color.NRGBA) *graphics.ImageBitmap {
	canvas := graphics.NewCanvas(size, size)
	canvas.FillColor(c)
	return canvas.Bitmap()
}

type fixedViewport struct{}

func (fixedViewport) MapPosition() model.MapPosition {
	return model.NewMapPosition(model.NewLatLong(0, 0), 0, 0)
}
func (fixedViewport) TileSize() uint32 { return 256 }

func sameColor(got color.RGBA, want color.NRGBA) bool {
	return got.R == want.R && got.G == want.G && got.B == want.B
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func vectorTile(t *testing.T) []byte {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	lake := geojson.NewFeature(orb.Polygon{{{0, 0}, {4096, 0}, {4096, 4096}, {0, 4096}, {0, 0}}})
	lake.Properties["natural"] = "water"
	fc.Append(lake)
	road := geojson.NewFeature(orb.LineString{{0, 2048}, {4096, 2048}})
	road.Properties["highway"] = "primary"
	fc.Append(road)
	cafe := geojson.NewFeature(orb.Point{1024, 1024})
	cafe.Properties["amenity"] = "cafe"
	fc.Append(cafe)

	data, err := omvt.Marshal(omvt.NewLayers(map[string]*geojson.FeatureCollection{"features": fc}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}

func TestVisibleTiles(t *testing.T) {
	tests := []struct {
		name      string
		zoom      uint8
		dimension model.Dimension
		want      int
		left, top float64
	}{
		{"zoom 1 full map", 1, model.Dimension{Width: 512, Height: 512}, 4, 0, 0},
		{"zoom 1 center only", 1, model.Dimension{Width: 2, Height: 2}, 4, 255, 255},
		{"zoom 0 larger than map", 0, model.Dimension{Width: 1024, Height: 1024}, 1, -384, -384},
		{"zoom 2 inner", 2, model.Dimension{Width: 256, Height: 256}, 4, 384, 384},
		{"empty", 3, model.Dimension{}, 0, 1024, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			position := model.NewMapPosition(model.NewLatLong(0, 0), tt.zoom, 0)
			tiles, left, top := VisibleTiles(position, 256, tt.dimension)
			if len(tiles) != tt.want {
				t.Errorf("len(tiles) = %d, want %d", len(tiles), tt.want)
			}
			if left != tt.left || top != tt.top {
				t.Errorf("origin = (%f, %f), want (%f, %f)", left, top, tt.left, tt.top)
			}
			for _, tl := range tiles {
				if err := tl.Validate(); err != nil {
					t.Errorf("invalid tile %s: %v", tl, err)
				}
			}
		})
	}
}

func TestTagsAreSortedText(t *testing.T) {
	tags := Tags(map[string]interface{}{
		"name":   "Main Street",
		"lanes":  int64(2),
		"oneway": true,
		"width":  3.5,
	})

	want := []theme.Tag{
		{Key: "lanes", Value: "2"},
		{Key: "name", Value: "Main Street"},
		{Key: "oneway", Value: "true"},
		{Key: "width", Value: "3.5"},
	}
	if len(tags) != len(want) {
		t.Fatalf("Tags() = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tag %d = %v, want %v", i, tags[i], want[i])
		}
	}
}

func TestRenderPaintsByLevel(t *testing.T) {
	th, err := theme.Parse(strings.NewReader(layerTheme), nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	bitmap, err := NewTileRenderer().Render(th, vectorTile(t), tile.NewTile(0, 0, 0, 256))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	defer bitmap.Release()

	img := bitmap.Image()
	if got := img.RGBAAt(128, 128); !sameColor(got, red) {
		t.Errorf("road pixel = %v, want red over water", got)
	}
	if got := img.RGBAAt(200, 200); !sameColor(got, blue) {
		t.Errorf("water pixel = %v, want blue", got)
	}
	if got := img.RGBAAt(64, 64); got.G != 255 || got.B != 0 {
		t.Errorf("node pixel = %v, want green circle", got)
	}
}

func TestRenderRejectsCorruptData(t *testing.T) {
	th, err := theme.Parse(strings.NewReader(layerTheme), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewTileRenderer().Render(th, []byte("not a tile"), tile.NewTile(0, 0, 0, 256))
	if !internal.HasCode(err, internal.ErrorCodeProcessing) {
		t.Errorf("Render() error = %v, want processing error", err)
	}
}

func TestProducers(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(256, blue).Image()); err != nil {
		t.Fatal(err)
	}
	source := &memorySource{tiles: map[string][]byte{"0/0/0": buf.Bytes()}}
	job := tile.NewJob(tile.NewTile(0, 0, 0, 256), "memory", false)

	download := NewDownloadProducer(source, false)
	bitmap, err := download.Produce(context.Background(), job)
	if err != nil {
		t.Fatalf("download Produce() error = %v", err)
	}
	if got := bitmap.Image().RGBAAt(10, 10); !sameColor(got, blue) {
		t.Errorf("downloaded pixel = %v, want blue", got)
	}
	bitmap.Release()

	missing := tile.NewJob(tile.NewTile(1, 1, 1, 256), "memory", false)
	if _, err := download.Produce(context.Background(), missing); !internal.HasCode(err, internal.ErrorCodeNotFound) {
		t.Errorf("missing tile error = %v, want not found", err)
	}

	th, err := theme.Parse(strings.NewReader(layerTheme), nil)
	if err != nil {
		t.Fatal(err)
	}
	vector := &memorySource{tiles: map[string][]byte{"0/0/0": vectorTile(t)}}
	render := NewRenderProducer(vector, StaticTheme{Theme: th}, NewTileRenderer())
	if !strings.Contains(render.JobKey(), th.ID()) {
		t.Errorf("render job key %q does not include theme id", render.JobKey())
	}
	renderJob := tile.NewJob(job.Tile, render.JobKey(), false)
	bitmap, err = render.Produce(context.Background(), renderJob)
	if err != nil {
		t.Fatalf("render Produce() error = %v", err)
	}
	bitmap.Release()

	empty := NewRenderProducer(vector, StaticTheme{}, NewTileRenderer())
	if _, err := empty.Produce(context.Background(), job); !internal.HasCode(err, internal.ErrorCodeTheme) {
		t.Errorf("Produce() without theme error = %v, want theme error", err)
	}
}

// swappableTheme is a ThemeSource whose theme can be replaced mid-test
type swappableTheme struct {
	mu sync.Mutex
	th *theme.RenderTheme
}

func (s *swappableTheme) Current() *theme.RenderTheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.th
}

func (s *swappableTheme) set(th *theme.RenderTheme) {
	s.mu.Lock()
	s.th = th
	s.mu.Unlock()
}

func TestRenderProducerRejectsJobsOfReplacedTheme(t *testing.T) {
	first, err := theme.Parse(strings.NewReader(layerTheme), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Destroy()
	second, err := theme.Parse(strings.NewReader(strings.Replace(layerTheme, "#0000ff", "#00ffff", 1)), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Destroy()

	themes := &swappableTheme{th: first}
	vector := &memorySource{tiles: map[string][]byte{"0/0/0": vectorTile(t)}}
	render := NewRenderProducer(vector, themes, NewTileRenderer())
	queued := tile.NewJob(tile.NewTile(0, 0, 0, 256), render.JobKey(), false)

	themes.set(second)
	if render.JobKey() == queued.Key {
		t.Fatal("job key did not change with the theme")
	}
	if _, err := render.Produce(context.Background(), queued); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("Produce() error = %v, want ErrStaleJob", err)
	}

	q := queue.NewJobQueue(fixedViewport{}, queue.Options{})
	c, err := cache.NewInMemoryTileCache(4)
	if err != nil {
		t.Fatal(err)
	}
	pool := NewWorkerPool(q, c, render, WorkerOptions{Workers: 1})
	q.Add(queued)
	current := tile.NewJob(queued.Tile, render.JobKey(), false)
	q.Add(current)
	pool.Start(context.Background())
	waitFor(t, func() bool { return pool.Completed()+pool.Failed() == 2 })
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.ContainsKey(queued) {
		t.Error("output of the new theme was cached under the old theme's key")
	}
	if !c.ContainsKey(current) {
		t.Error("job of the current theme was not cached")
	}
}

// nilProducer reports success without a bitmap
type nilProducer struct{ fakeProducer }

func (p *nilProducer) Produce(context.Context, tile.Job) (graphics.Bitmap, error) {
	return nil, nil
}

func TestWorkerPoolSurvivesMissingBitmap(t *testing.T) {
	q := queue.NewJobQueue(fixedViewport{}, queue.Options{})
	c, err := cache.NewInMemoryTileCache(4)
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var outcome error
	pool := NewWorkerPool(q, c, &nilProducer{}, WorkerOptions{Workers: 1, OnDone: func(_ tile.Job, err error) {
		mu.Lock()
		outcome = err
		mu.Unlock()
	}})

	job := tile.NewJob(tile.NewTile(0, 0, 0, 256), "fake", false)
	q.Add(job)
	pool.Start(context.Background())
	waitFor(t, func() bool { return pool.Failed() == 1 })
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if q.Assigned() != 0 {
		t.Errorf("Assigned() = %d, want the job released", q.Assigned())
	}
	if c.ContainsKey(job) {
		t.Error("missing bitmap was cached")
	}
	mu.Lock()
	defer mu.Unlock()
	if !internal.HasCode(outcome, internal.ErrorCodeContract) {
		t.Errorf("job outcome = %v, want contract error", outcome)
	}
}

func TestWorkerPoolProducesIntoCache(t *testing.T) {
	q := queue.NewJobQueue(fixedViewport{}, queue.Options{})
	c, err := cache.NewInMemoryTileCache(16)
	if err != nil {
		t.Fatal(err)
	}
	producer := &fakeProducer{fail: map[tile.Tile]bool{tile.NewTile(1, 1, 1, 256): true}}

	var mu sync.Mutex
	outcomes := map[tile.Job]error{}
	pool := NewWorkerPool(q, c, producer, WorkerOptions{Workers: 8, OnDone: func(job tile.Job, err error) {
		mu.Lock()
		outcomes[job] = err
		mu.Unlock()
	}})
	if pool.Workers() != 2 {
		t.Errorf("Workers() = %d, want producer parallelism 2", pool.Workers())
	}

	var jobs []tile.Job
	for y := uint64(0); y < 2; y++ {
		for x := uint64(0); x < 2; x++ {
			job := tile.NewJob(tile.NewTile(x, y, 1, 256), "fake", false)
			jobs = append(jobs, job)
			q.Add(job)
		}
	}

	pool.Start(context.Background())
	waitFor(t, func() bool { return pool.Completed()+pool.Failed() == 4 })
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if pool.Completed() != 3 || pool.Failed() != 1 {
		t.Errorf("completed=%d failed=%d, want 3 and 1", pool.Completed(), pool.Failed())
	}
	if q.Assigned() != 0 || q.Size() != 0 {
		t.Errorf("queue assigned=%d size=%d, want empty", q.Assigned(), q.Size())
	}
	for _, job := range jobs {
		failed := job.Tile == tile.NewTile(1, 1, 1, 256)
		if c.ContainsKey(job) == failed {
			t.Errorf("cache contains %s = %v", job, !failed)
		}
		mu.Lock()
		if (outcomes[job] != nil) != failed {
			t.Errorf("outcome of %s = %v", job, outcomes[job])
		}
		mu.Unlock()
	}
}

func TestWorkerPoolStopIsPrompt(t *testing.T) {
	q := queue.NewJobQueue(fixedViewport{}, queue.Options{WakeInterval: time.Hour})
	c, err := cache.NewInMemoryTileCache(4)
	if err != nil {
		t.Fatal(err)
	}
	pool := NewWorkerPool(q, c, &fakeProducer{}, WorkerOptions{})
	pool.Start(context.Background())
	pool.Start(context.Background())

	done := make(chan error, 1)
	go func() { done <- pool.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}
	if err := pool.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	q := queue.NewJobQueue(fixedViewport{}, queue.Options{})
	c, err := cache.NewInMemoryTileCache(4)
	if err != nil {
		t.Fatal(err)
	}
	pool := NewWorkerPool(q, c, &fakeProducer{panics: true}, WorkerOptions{Workers: 1})
	q.Add(tile.NewJob(tile.NewTile(0, 0, 0, 256), "fake", false))

	pool.Start(context.Background())
	waitFor(t, func() bool { return q.Assigned() == 1 })
	time.Sleep(10 * time.Millisecond)
	if err := pool.Stop(); !internal.HasCode(err, internal.ErrorCodeProcessing) {
		t.Errorf("Stop() error = %v, want recovered panic", err)
	}
}

func newTestMap(t *testing.T, dimension model.Dimension) (*model.Model, *view.MapView) {
	t.Helper()
	m := model.NewModel(256)
	if err := m.Display.SetOverdrawFactor(1); err != nil {
		t.Fatal(err)
	}
	v := view.NewMapView(m, false)
	t.Cleanup(v.Destroy)
	if err := m.Dimension.SetDimension(dimension); err != nil {
		t.Fatal(err)
	}
	return m, v
}

func TestLayerManagerDrawsCachedTiles(t *testing.T) {
	m, v := newTestMap(t, model.Dimension{Width: 256, Height: 256})
	q := queue.NewJobQueue(m, queue.Options{})
	c, err := cache.NewInMemoryTileCache(8)
	if err != nil {
		t.Fatal(err)
	}
	producer := &fakeProducer{}
	bitmap := solid(256, red)
	if err := c.Put(tile.NewJob(tile.NewTile(0, 0, 0, 256), producer.JobKey(), false), bitmap); err != nil {
		t.Fatal(err)
	}
	bitmap.Release()

	lm := NewLayerManager(m, v)
	lm.AddLayer(NewTileLayer(c, q, producer))
	if !lm.DrawFrame() {
		t.Fatal("DrawFrame() = false, want a frame")
	}

	if q.Size() != 0 {
		t.Errorf("queue size = %d, want 0 for a cached tile", q.Size())
	}
	rendered, ok := m.FrameBuffer.MapPosition()
	if !ok || rendered != m.Position.MapPosition() {
		t.Errorf("frame buffer position = %v, %v", rendered, ok)
	}

	dst := image.NewRGBA(image.Rect(0, 0, 256, 256))
	v.Draw(dst)
	if got := dst.RGBAAt(128, 128); !sameColor(got, red) {
		t.Errorf("view pixel = %v, want red", got)
	}
	select {
	case <-v.Repaints():
	default:
		t.Error("expected a repaint request after the frame")
	}
	if err := lm.Destroy(); err != nil {
		t.Errorf("Destroy() error = %v", err)
	}
}

func TestTileLayerQueuesMissingAndUsesParent(t *testing.T) {
	m, v := newTestMap(t, model.Dimension{Width: 512, Height: 512})
	m.Position.SetZoomLevel(1)
	q := queue.NewJobQueue(m, queue.Options{})
	c, err := cache.NewInMemoryTileCache(8)
	if err != nil {
		t.Fatal(err)
	}
	producer := &fakeProducer{}
	parent := solid(256, blue)
	if err := c.Put(tile.NewJob(tile.NewTile(0, 0, 0, 256), producer.JobKey(), false), parent); err != nil {
		t.Fatal(err)
	}
	parent.Release()

	lm := NewLayerManager(m, v)
	lm.AddLayer(NewTileLayer(c, q, producer))
	if !lm.DrawFrame() {
		t.Fatal("DrawFrame() = false")
	}

	if q.Size() != 4 {
		t.Errorf("queue size = %d, want 4 missing tiles", q.Size())
	}
	dst := image.NewRGBA(image.Rect(0, 0, 512, 512))
	v.Draw(dst)
	for _, p := range []image.Point{{100, 100}, {400, 100}, {100, 400}, {400, 400}} {
		if got := dst.RGBAAt(p.X, p.Y); !sameColor(got, blue) {
			t.Errorf("pixel %v = %v, want parent blue", p, got)
		}
	}
}

func TestLayerManagerRunRedrawsAfterWorkers(t *testing.T) {
	m, v := newTestMap(t, model.Dimension{Width: 256, Height: 256})
	q := queue.NewJobQueue(m, queue.Options{})
	c, err := cache.NewInMemoryTileCache(8)
	if err != nil {
		t.Fatal(err)
	}
	producer := &fakeProducer{}

	lm := NewLayerManager(m, v)
	lm.AddLayer(NewTileLayer(c, q, producer))
	pool := NewWorkerPool(q, c, producer, WorkerOptions{Redrawer: lm})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()
	go lm.Run(ctx)

	lm.RedrawLayers()
	waitFor(t, func() bool { return pool.Completed() == 1 && lm.Frames() >= 2 })

	job := tile.NewJob(tile.NewTile(0, 0, 0, 256), producer.JobKey(), false)
	if !c.ContainsKey(job) {
		t.Error("produced tile missing from cache")
	}
	waitFor(t, func() bool {
		dst := image.NewRGBA(image.Rect(0, 0, 256, 256))
		v.Draw(dst)
		return sameColor(dst.RGBAAt(128, 128), red)
	})
}

func TestHiddenLayerIsSkipped(t *testing.T) {
	m, v := newTestMap(t, model.Dimension{Width: 256, Height: 256})
	q := queue.NewJobQueue(m, queue.Options{})
	c, err := cache.NewInMemoryTileCache(8)
	if err != nil {
		t.Fatal(err)
	}
	l := NewTileLayer(c, q, &fakeProducer{})
	l.SetVisible(false)

	lm := NewLayerManager(m, v)
	lm.AddLayer(l)
	lm.DrawFrame()
	if q.Size() != 0 {
		t.Errorf("hidden layer queued %d tiles", q.Size())
	}
}
