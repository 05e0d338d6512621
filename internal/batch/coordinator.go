// internal/batch/coordinator.go - Seeding job coordination
package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/tile"
)

// Coordinator runs seeding jobs in the background and tracks them by ID
type Coordinator struct {
	jobs      map[string]*entry
	processor Processor
	mutex     sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

type entry struct {
	job    *Job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator creates a coordinator running jobs with processor
func NewCoordinator(processor Processor) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		jobs:      make(map[string]*entry),
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SubmitJob validates a job and starts processing it asynchronously
func (c *Coordinator) SubmitJob(job *Job) error {
	if job.ID == "" {
		return internal.NewError(internal.ErrorCodeValidation, "job ID is required", nil)
	}
	if err := ValidateJob(job); err != nil {
		return internal.NewError(internal.ErrorCodeValidation, "job validation failed", err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.jobs[job.ID]; exists {
		return internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("job %s already exists", job.ID), nil)
	}

	jobCtx, jobCancel := context.WithTimeout(c.ctx, job.Config.Timeout)
	e := &entry{job: job, cancel: jobCancel, done: make(chan struct{})}
	c.jobs[job.ID] = e

	go func() {
		defer close(e.done)
		defer jobCancel()
		if err := c.processor.Process(jobCtx, job); err != nil {
			// processors record their own failure; this covers those that do not
			job.finish(JobStatusFailed, err)
		}
	}()

	internal.Logger().Info("seeding job submitted", "job", job.ID, "ranges", len(job.TileRanges))
	return nil
}

// GetJob retrieves a job by its ID
func (c *Coordinator) GetJob(id string) (*Job, error) {
	e, err := c.entry(id)
	if err != nil {
		return nil, err
	}
	return e.job, nil
}

// Wait blocks until the job finishes or ctx ends and returns the job's error
func (c *Coordinator) Wait(ctx context.Context, id string) error {
	e, err := c.entry(id)
	if err != nil {
		return err
	}
	select {
	case <-e.done:
		return e.job.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelJob cancels a running or pending job
func (c *Coordinator) CancelJob(id string) error {
	e, err := c.entry(id)
	if err != nil {
		return err
	}
	if e.job.IsComplete() {
		return internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("job %s is already complete", id), nil)
	}

	e.job.finish(JobStatusCanceled, context.Canceled)
	e.cancel()
	return nil
}

// ListJobs returns all jobs managed by the coordinator
func (c *Coordinator) ListJobs() []*Job {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	jobs := make([]*Job, 0, len(c.jobs))
	for _, e := range c.jobs {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// CleanupJob forgets a completed job
func (c *Coordinator) CleanupJob(id string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, exists := c.jobs[id]
	if !exists {
		return internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("job %s not found", id), nil)
	}
	if !e.job.IsComplete() {
		return internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("job %s is not complete", id), nil)
	}

	delete(c.jobs, id)
	return nil
}

// Shutdown cancels every job and waits for them to stop
func (c *Coordinator) Shutdown() error {
	c.cancel()

	c.mutex.RLock()
	entries := make([]*entry, 0, len(c.jobs))
	for _, e := range c.jobs {
		entries = append(entries, e)
	}
	c.mutex.RUnlock()

	for _, e := range entries {
		e.job.finish(JobStatusCanceled, context.Canceled)
		<-e.done
	}
	return nil
}

// GetJobStatistics counts jobs per status
func (c *Coordinator) GetJobStatistics() map[JobStatus]int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	stats := make(map[JobStatus]int)
	for _, e := range c.jobs {
		stats[e.job.Status()]++
	}
	return stats
}

func (c *Coordinator) entry(id string) (*entry, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	e, exists := c.jobs[id]
	if !exists {
		return nil, internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("job %s not found", id), nil)
	}
	return e, nil
}

// ValidateJob validates job configuration and tile ranges
func ValidateJob(job *Job) error {
	if job.Config == nil {
		return fmt.Errorf("job configuration is required")
	}
	if len(job.TileRanges) == 0 {
		return fmt.Errorf("at least one tile range is required")
	}
	if job.Config.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if job.Config.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if job.Config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if job.Config.TileSize == 0 {
		return fmt.Errorf("tile size must be positive")
	}

	for i, tileRange := range job.TileRanges {
		if err := ValidateTileRange(tileRange); err != nil {
			return fmt.Errorf("tile range %d is invalid: %w", i, err)
		}
	}
	return nil
}

// ValidateTileRange validates a single tile range
func ValidateTileRange(tileRange *tile.TileRange) error {
	if tileRange.MaxZ > tile.MaxZoomLevel {
		return fmt.Errorf("zoom levels must be between 0 and %d", tile.MaxZoomLevel)
	}
	if tileRange.MinZ > tileRange.MaxZ {
		return fmt.Errorf("min zoom (%d) cannot be greater than max zoom (%d)", tileRange.MinZ, tileRange.MaxZ)
	}
	if tileRange.MinX > tileRange.MaxX {
		return fmt.Errorf("min X (%d) cannot be greater than max X (%d)", tileRange.MinX, tileRange.MaxX)
	}
	if tileRange.MinY > tileRange.MaxY {
		return fmt.Errorf("min Y (%d) cannot be greater than max Y (%d)", tileRange.MinY, tileRange.MaxY)
	}

	// the X/Y range applies to every zoom, so it must fit the smallest one
	maxTile := uint64(1) << tileRange.MinZ
	if tileRange.MaxX >= maxTile {
		return fmt.Errorf("X coordinates for zoom %d must be between 0 and %d", tileRange.MinZ, maxTile-1)
	}
	if tileRange.MaxY >= maxTile {
		return fmt.Errorf("Y coordinates for zoom %d must be between 0 and %d", tileRange.MinZ, maxTile-1)
	}
	return nil
}
