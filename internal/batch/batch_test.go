package batch

import (
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/cache"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/model"
	"github.com/valpere/tilerender/internal/queue"
	"github.com/valpere/tilerender/internal/tile"
)

type stubProducer struct {
	mu    sync.Mutex
	calls int
	fail  map[tile.Tile]bool
	block bool
}

func (p *stubProducer) Name() string            { return "stub" }
func (p *stubProducer) JobKey() string          { return "stub" }
func (p *stubProducer) HasAlpha() bool          { return false }
func (p *stubProducer) Parallelism() int        { return 2 }
func (p *stubProducer) Covers(t tile.Tile) bool { return t.ZoomLevel <= 5 }

func (p *stubProducer) Produce(ctx context.Context, job tile.Job) (graphics.Bitmap, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	fail := p.fail[job.Tile]
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("tile unavailable")
	}
	canvas := graphics.NewCanvas(4, 4)
	canvas.FillColor(color.NRGBA{G: 255, A: 255})
	return canvas.Bitmap(), nil
}

type recordingReporter struct {
	mu       sync.Mutex
	chunks   []*ChunkResult
	complete int
	failed   []error
}

func (r *recordingReporter) ReportProgress(*Job) {}

func (r *recordingReporter) ReportChunkComplete(_ *Job, chunk *ChunkResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
}

func (r *recordingReporter) ReportJobComplete(*Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete++
}

func (r *recordingReporter) ReportJobFailed(_ *Job, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

type centerViewport struct{}

func (centerViewport) MapPosition() model.MapPosition {
	return model.NewMapPosition(model.NewLatLong(0, 0), 1, 0)
}
func (centerViewport) TileSize() uint32 { return 256 }

func newSeeder(t *testing.T, producer *stubProducer, reporter ProgressReporter) (*Seeder, cache.TileCache) {
	t.Helper()
	c, err := cache.NewInMemoryTileCache(64)
	if err != nil {
		t.Fatal(err)
	}
	q := queue.NewJobQueue(centerViewport{}, queue.Options{Capacity: 4})
	return NewSeeder(q, c, producer, reporter), c
}

func seedConfig() *JobConfig {
	cfg := NewJobConfig()
	cfg.ChunkSize = 2
	cfg.Timeout = 10 * time.Second
	return cfg
}

func TestGenerateTiles(t *testing.T) {
	ranges := []*tile.TileRange{
		{MinZ: 1, MaxZ: 1, MinX: 0, MaxX: 1, MinY: 0, MaxY: 1},
		{MinZ: 1, MaxZ: 2, MinX: 1, MaxX: 1, MinY: 1, MaxY: 1},
	}
	tiles, err := GenerateTiles(ranges, 256, 0)
	if err != nil {
		t.Fatalf("GenerateTiles() error = %v", err)
	}
	if len(tiles) != 5 {
		t.Errorf("len(tiles) = %d, want 5 distinct tiles", len(tiles))
	}

	if _, err := GenerateTiles(ranges, 256, 3); !internal.HasCode(err, internal.ErrorCodeValidation) {
		t.Errorf("GenerateTiles() over limit error = %v, want validation error", err)
	}
	bad := []*tile.TileRange{{MinZ: 0, MaxZ: 0, MinX: 0, MaxX: 1, MinY: 0, MaxY: 0}}
	if _, err := GenerateTiles(bad, 256, 0); err == nil {
		t.Error("GenerateTiles() accepted a tile outside zoom 0")
	}
}

func TestRangesForBound(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}
	ranges := RangesForBound(world, 0, 2)
	if len(ranges) != 3 {
		t.Fatalf("len(ranges) = %d, want 3", len(ranges))
	}
	for _, r := range ranges {
		last := uint64(1)<<r.MinZ - 1
		if r.MinX != 0 || r.MinY != 0 || r.MaxX != last || r.MaxY != last {
			t.Errorf("zoom %d range = %+v, want the whole level", r.MinZ, r)
		}
		if err := ValidateTileRange(r); err != nil {
			t.Errorf("ValidateTileRange() error = %v", err)
		}
	}
}

func TestValidateTileRange(t *testing.T) {
	tests := []struct {
		name    string
		r       tile.TileRange
		wantErr bool
	}{
		{"valid", tile.TileRange{MinZ: 2, MaxZ: 4, MaxX: 3, MaxY: 3}, false},
		{"zoom order", tile.TileRange{MinZ: 4, MaxZ: 2}, true},
		{"x order", tile.TileRange{MinZ: 3, MaxZ: 3, MinX: 4, MaxX: 2}, true},
		{"y outside min zoom", tile.TileRange{MinZ: 1, MaxZ: 3, MaxY: 2}, true},
		{"zoom too deep", tile.TileRange{MinZ: 0, MaxZ: 31}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.r
			if err := ValidateTileRange(&r); (err != nil) != tt.wantErr {
				t.Errorf("ValidateTileRange() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeederFillsCacheAndSkipsCached(t *testing.T) {
	producer := &stubProducer{}
	reporter := &recordingReporter{}
	seeder, c := newSeeder(t, producer, reporter)

	cached := tile.NewJob(tile.NewTile(0, 0, 1, 256), "stub", false)
	canvas := graphics.NewCanvas(4, 4)
	bitmap := canvas.Bitmap()
	if err := c.Put(cached, bitmap); err != nil {
		t.Fatal(err)
	}
	bitmap.Release()

	ranges := []*tile.TileRange{{MinZ: 1, MaxZ: 1, MaxX: 1, MaxY: 1}, {MinZ: 6, MaxZ: 6}}
	job := NewJob("seed", ranges, seedConfig())
	if err := seeder.Process(context.Background(), job); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if job.Status() != JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status())
	}
	p := job.Progress()
	if p.TotalTiles != 5 || p.SuccessTiles != 3 || p.SkippedTiles != 2 || p.ProcessedTiles != 5 {
		t.Errorf("progress = %+v", p)
	}
	if p.TotalChunks != 3 || len(reporter.chunks) != 3 || reporter.complete != 1 {
		t.Errorf("chunks = %d reported = %d complete = %d", p.TotalChunks, len(reporter.chunks), reporter.complete)
	}
	for x := uint64(0); x < 2; x++ {
		for y := uint64(0); y < 2; y++ {
			if !c.ContainsKey(tile.NewJob(tile.NewTile(x, y, 1, 256), "stub", false)) {
				t.Errorf("tile 1/%d/%d not seeded", x, y)
			}
		}
	}
	if producer.calls != 3 {
		t.Errorf("producer calls = %d, want 3", producer.calls)
	}
}

func TestSeederFailOnError(t *testing.T) {
	producer := &stubProducer{fail: map[tile.Tile]bool{tile.NewTile(1, 0, 1, 256): true}}
	reporter := &recordingReporter{}
	seeder, _ := newSeeder(t, producer, reporter)

	cfg := seedConfig()
	cfg.FailOnError = true
	job := NewJob("strict", []*tile.TileRange{{MinZ: 1, MaxZ: 1, MaxX: 1, MaxY: 1}}, cfg)
	if err := seeder.Process(context.Background(), job); err == nil {
		t.Fatal("Process() succeeded, want chunk failure")
	}
	if job.Status() != JobStatusFailed || len(reporter.failed) != 1 {
		t.Errorf("status = %s, failures reported = %d", job.Status(), len(reporter.failed))
	}

	lenient := NewJob("lenient", []*tile.TileRange{{MinZ: 1, MaxZ: 1, MaxX: 1, MaxY: 1}}, seedConfig())
	if err := seeder.Process(context.Background(), lenient); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if p := lenient.Progress(); p.FailedTiles != 1 {
		t.Errorf("failed tiles = %d, want 1", p.FailedTiles)
	}
}

func TestCoordinatorLifecycle(t *testing.T) {
	seeder, _ := newSeeder(t, &stubProducer{}, nil)
	coordinator := NewCoordinator(seeder)
	defer coordinator.Shutdown()

	job := NewJob("world", []*tile.TileRange{{MinZ: 0, MaxZ: 1}}, seedConfig())
	if err := coordinator.SubmitJob(job); err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if err := coordinator.SubmitJob(job); !internal.HasCode(err, internal.ErrorCodeValidation) {
		t.Errorf("duplicate SubmitJob() error = %v", err)
	}
	if err := coordinator.Wait(context.Background(), "world"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if stats := coordinator.GetJobStatistics(); stats[JobStatusCompleted] != 1 {
		t.Errorf("statistics = %v", stats)
	}
	if err := coordinator.CancelJob("world"); !internal.HasCode(err, internal.ErrorCodeValidation) {
		t.Errorf("CancelJob() on complete job error = %v", err)
	}
	if err := coordinator.CleanupJob("world"); err != nil {
		t.Errorf("CleanupJob() error = %v", err)
	}
	if _, err := coordinator.GetJob("world"); !internal.HasCode(err, internal.ErrorCodeNotFound) {
		t.Errorf("GetJob() after cleanup error = %v", err)
	}

	invalid := NewJob("invalid", nil, seedConfig())
	if err := coordinator.SubmitJob(invalid); !internal.HasCode(err, internal.ErrorCodeValidation) {
		t.Errorf("SubmitJob() without ranges error = %v", err)
	}
}

func TestCoordinatorCancel(t *testing.T) {
	seeder, _ := newSeeder(t, &stubProducer{block: true}, nil)
	coordinator := NewCoordinator(seeder)
	defer coordinator.Shutdown()

	job := NewJob("slow", []*tile.TileRange{{MinZ: 1, MaxZ: 1, MaxX: 1, MaxY: 1}}, seedConfig())
	if err := coordinator.SubmitJob(job); err != nil {
		t.Fatal(err)
	}
	if err := coordinator.CancelJob("slow"); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := coordinator.Wait(ctx, "slow"); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want canceled", err)
	}
	if job.Status() != JobStatusCanceled {
		t.Errorf("status = %s, want canceled", job.Status())
	}
}
