// internal/batch/processor.go - Cache seeding through the job queue and workers
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/cache"
	"github.com/valpere/tilerender/internal/layer"
	"github.com/valpere/tilerender/internal/queue"
	"github.com/valpere/tilerender/internal/tile"
)

// Seeder fills a tile cache by feeding chunks of jobs to a worker pool. Chunks
// never exceed the queue capacity so the queue never drops seeding jobs.
type Seeder struct {
	queue    *queue.JobQueue
	cache    cache.TileCache
	producer layer.Producer
	reporter ProgressReporter
}

// outcome is the result of one produced job
type outcome struct {
	job tile.Job
	err error
}

// NewSeeder creates a seeder. The queue should not be shared with a map view.
func NewSeeder(q *queue.JobQueue, c cache.TileCache, producer layer.Producer, reporter ProgressReporter) *Seeder {
	return &Seeder{queue: q, cache: c, producer: producer, reporter: reporter}
}

// Process executes a complete seeding job
func (s *Seeder) Process(ctx context.Context, job *Job) error {
	tiles, err := GenerateTiles(job.TileRanges, job.Config.TileSize, job.Config.MaxTiles)
	if err != nil {
		err = fmt.Errorf("failed to generate tiles: %w", err)
		s.fail(job, err)
		return err
	}

	chunkSize := job.Config.ChunkSize
	if chunkSize <= 0 || chunkSize > s.queue.Capacity() {
		chunkSize = s.queue.Capacity()
	}
	if !job.start(int64(len(tiles)), (len(tiles)+chunkSize-1)/chunkSize) {
		return job.Err()
	}
	if s.reporter != nil {
		s.reporter.ReportProgress(job)
	}

	done := make(chan outcome, chunkSize)
	pool := layer.NewWorkerPool(s.queue, s.cache, s.producer, layer.WorkerOptions{
		Workers: job.Config.Concurrency,
		OnDone: func(j tile.Job, err error) {
			done <- outcome{job: j, err: err}
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	fed := make(chan struct{})
	pool.Start(gctx)

	g.Go(func() error {
		select {
		case <-fed:
		case <-gctx.Done():
		}
		return pool.Stop()
	})
	g.Go(func() error {
		defer close(fed)
		return s.feed(gctx, job, tiles, chunkSize, done)
	})

	if err := g.Wait(); err != nil {
		s.fail(job, err)
		return err
	}

	if job.finish(JobStatusCompleted, nil) && s.reporter != nil {
		s.reporter.ReportJobComplete(job)
	}
	p := job.Progress()
	internal.Logger().Info("seeding finished", "job", job.ID, "tiles", p.TotalTiles, "produced", p.SuccessTiles, "skipped", p.SkippedTiles, "failed", p.FailedTiles)
	return nil
}

// feed queues the tiles chunk by chunk, waiting for each chunk to drain
func (s *Seeder) feed(ctx context.Context, job *Job, tiles []tile.Tile, chunkSize int, done <-chan outcome) error {
	for chunkStart, chunkID := 0, 0; chunkStart < len(tiles); chunkStart, chunkID = chunkStart+chunkSize, chunkID+1 {
		chunkEnd := min(chunkStart+chunkSize, len(tiles))
		job.update(func(p *JobProgress) { p.CurrentChunk = chunkID + 1 })

		result, err := s.ProcessChunk(ctx, chunkID, tiles[chunkStart:chunkEnd], done)
		s.updateJobProgress(job, result)
		if s.reporter != nil {
			s.reporter.ReportChunkComplete(job, result)
		}
		if err != nil {
			return err
		}
		if result.FailureCount > 0 && job.Config.FailOnError {
			return fmt.Errorf("chunk %d failed: %w", chunkID, result.LastError)
		}
	}
	return nil
}

// ProcessChunk queues the uncached tiles of a chunk and waits for their outcomes
func (s *Seeder) ProcessChunk(ctx context.Context, chunkID int, tiles []tile.Tile, done <-chan outcome) (*ChunkResult, error) {
	start := time.Now()
	result := &ChunkResult{ChunkID: chunkID, Tiles: len(tiles)}
	key := s.producer.JobKey()
	hasAlpha := s.producer.HasAlpha()

	pending := 0
	for _, t := range tiles {
		if !s.producer.Covers(t) {
			result.SkippedCount++
			continue
		}
		job := tile.NewJob(t, key, hasAlpha)
		if s.cache.ContainsKey(job) {
			result.SkippedCount++
			continue
		}
		s.queue.Add(job)
		pending++
	}

	for pending > 0 {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result, ctx.Err()
		case o := <-done:
			pending--
			if o.err != nil {
				result.FailureCount++
				result.LastError = o.err
				continue
			}
			result.SuccessCount++
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// updateJobProgress updates job progress based on chunk results
func (s *Seeder) updateJobProgress(job *Job, result *ChunkResult) {
	job.update(func(p *JobProgress) {
		p.ProcessedTiles += int64(result.SuccessCount + result.FailureCount + result.SkippedCount)
		p.SuccessTiles += int64(result.SuccessCount)
		p.FailedTiles += int64(result.FailureCount)
		p.SkippedTiles += int64(result.SkippedCount)
		p.UpdateThroughput()

		estimatedEnd := p.EstimateCompletion()
		p.EstimatedEnd = &estimatedEnd
	})
}

// fail marks the job as failed, or canceled when its context ended
func (s *Seeder) fail(job *Job, err error) {
	status := JobStatusFailed
	if errors.Is(err, context.Canceled) {
		status = JobStatusCanceled
	}
	if job.finish(status, err) && s.reporter != nil {
		s.reporter.ReportJobFailed(job, err)
	}
	internal.Logger().Warn("seeding stopped", "job", job.ID, "status", status, "error", err)
}

// GenerateTiles lists every tile of the ranges once, zoom by zoom
func GenerateTiles(ranges []*tile.TileRange, tileSize uint32, maxTiles int64) ([]tile.Tile, error) {
	var total int64
	for _, r := range ranges {
		total += r.Count()
	}
	if maxTiles > 0 && total > maxTiles {
		return nil, internal.NewError(internal.ErrorCodeValidation,
			fmt.Sprintf("ranges cover %d tiles, more than the limit of %d", total, maxTiles), nil)
	}

	seen := make(map[tile.Tile]struct{}, total)
	tiles := make([]tile.Tile, 0, total)
	for _, r := range ranges {
		for z := int(r.MinZ); z <= int(r.MaxZ); z++ {
			for y := r.MinY; y <= r.MaxY; y++ {
				for x := r.MinX; x <= r.MaxX; x++ {
					if err := tile.ValidateCoordinates(z, x, y); err != nil {
						return nil, fmt.Errorf("invalid tile coordinates %d/%d/%d: %w", z, x, y, err)
					}
					t := tile.NewTile(x, y, uint8(z), tileSize)
					if _, ok := seen[t]; ok {
						continue
					}
					seen[t] = struct{}{}
					tiles = append(tiles, t)
				}
			}
		}
	}
	return tiles, nil
}

// RangesForBound returns one tile range per zoom level covering bound
func RangesForBound(bound orb.Bound, minZ, maxZ uint8) []*tile.TileRange {
	ranges := make([]*tile.TileRange, 0, int(maxZ)-int(minZ)+1)
	for z := int(minZ); z <= int(maxZ); z++ {
		// the top left corner is the bound's max latitude
		topLeft := maptile.At(orb.Point{bound.Min.Lon(), bound.Max.Lat()}, maptile.Zoom(z))
		bottomRight := maptile.At(orb.Point{bound.Max.Lon(), bound.Min.Lat()}, maptile.Zoom(z))
		last := uint64(1)<<z - 1
		ranges = append(ranges, &tile.TileRange{
			MinZ: uint8(z),
			MaxZ: uint8(z),
			MinX: min(uint64(topLeft.X), last),
			MaxX: min(uint64(bottomRight.X), last),
			MinY: min(uint64(topLeft.Y), last),
			MaxY: min(uint64(bottomRight.Y), last),
		})
	}
	return ranges
}
