// internal/batch/types.go - Seeding job types
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/valpere/tilerender/internal/tile"
)

// Job is a request to fill the tile cache for a set of tile ranges
type Job struct {
	ID         string            `json:"id"`
	TileRanges []*tile.TileRange `json:"tile_ranges"`
	Config     *JobConfig        `json:"config"`
	CreatedAt  time.Time         `json:"created_at"`

	mu          sync.RWMutex
	status      JobStatus
	progress    JobProgress
	startedAt   *time.Time
	completedAt *time.Time
	err         error
}

// JobConfig contains configuration for a seeding job
type JobConfig struct {
	Concurrency int           `json:"concurrency"`
	ChunkSize   int           `json:"chunk_size"`
	Timeout     time.Duration `json:"timeout"`
	TileSize    uint32        `json:"tile_size"`
	FailOnError bool          `json:"fail_on_error"`
	MaxTiles    int64         `json:"max_tiles"`
}

// JobStatus represents the current status of a seeding job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobProgress tracks the progress of a seeding job
type JobProgress struct {
	TotalTiles     int64      `json:"total_tiles"`
	ProcessedTiles int64      `json:"processed_tiles"`
	FailedTiles    int64      `json:"failed_tiles"`
	SuccessTiles   int64      `json:"success_tiles"`
	SkippedTiles   int64      `json:"skipped_tiles"`
	CurrentChunk   int        `json:"current_chunk"`
	TotalChunks    int        `json:"total_chunks"`
	StartTime      time.Time  `json:"start_time"`
	EstimatedEnd   *time.Time `json:"estimated_end,omitempty"`
	Throughput     float64    `json:"throughput"`
}

// ChunkResult represents the result of seeding one chunk of tiles
type ChunkResult struct {
	ChunkID      int           `json:"chunk_id"`
	Tiles        int           `json:"tiles"`
	Duration     time.Duration `json:"duration"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	SkippedCount int           `json:"skipped_count"`
	LastError    error         `json:"-"`
}

// Processor executes seeding jobs
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// ProgressReporter is told about job progress. Calls come from the goroutine
// running the job.
type ProgressReporter interface {
	ReportProgress(job *Job)
	ReportChunkComplete(job *Job, chunk *ChunkResult)
	ReportJobComplete(job *Job)
	ReportJobFailed(job *Job, err error)
}

// NewJob creates a new seeding job
func NewJob(id string, ranges []*tile.TileRange, config *JobConfig) *Job {
	return &Job{
		ID:         id,
		TileRanges: ranges,
		Config:     config,
		CreatedAt:  time.Now(),
		status:     JobStatusPending,
		progress:   JobProgress{StartTime: time.Now()},
	}
}

// NewJobConfig creates a new job configuration with default values
func NewJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency: 4,
		ChunkSize:   100,
		Timeout:     time.Hour,
		TileSize:    256,
		FailOnError: false,
		MaxTiles:    1 << 20,
	}
}

// Status returns the job status
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Progress returns a copy of the job progress
func (j *Job) Progress() JobProgress {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// Err returns the error the job failed with
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// IsComplete returns true if the job has finished (successfully or with error)
func (j *Job) IsComplete() bool {
	s := j.Status()
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// IsRunning returns true if the job is currently being processed
func (j *Job) IsRunning() bool {
	return j.Status() == JobStatusRunning
}

// start marks the job running; a job canceled before it started stays canceled
func (j *Job) start(totalTiles int64, totalChunks int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobStatusPending {
		return false
	}
	now := time.Now()
	j.status = JobStatusRunning
	j.startedAt = &now
	j.progress.StartTime = now
	j.progress.TotalTiles = totalTiles
	j.progress.TotalChunks = totalChunks
	return true
}

func (j *Job) update(fn func(p *JobProgress)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.progress)
}

// finish records the final status; a job that already finished keeps its status
func (j *Job) finish(status JobStatus, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == JobStatusCompleted || j.status == JobStatusFailed || j.status == JobStatusCanceled {
		return false
	}
	now := time.Now()
	j.status = status
	j.err = err
	j.completedAt = &now
	return true
}

// EstimateCompletion estimates when the job will complete based on current progress
func (p *JobProgress) EstimateCompletion() time.Time {
	if p.Throughput == 0 || p.ProcessedTiles == 0 {
		return time.Now().Add(time.Hour) // Default to 1 hour if no data
	}

	remaining := p.TotalTiles - p.ProcessedTiles
	if remaining <= 0 {
		return time.Now()
	}

	secondsRemaining := float64(remaining) / p.Throughput
	return time.Now().Add(time.Duration(secondsRemaining) * time.Second)
}

// CalculateProgress calculates the completion percentage
func (p *JobProgress) CalculateProgress() float64 {
	if p.TotalTiles == 0 {
		return 0
	}
	return float64(p.ProcessedTiles) / float64(p.TotalTiles) * 100
}

// UpdateThroughput updates the processing throughput based on elapsed time
func (p *JobProgress) UpdateThroughput() {
	elapsed := time.Since(p.StartTime)
	if elapsed.Seconds() > 0 && p.ProcessedTiles > 0 {
		p.Throughput = float64(p.ProcessedTiles) / elapsed.Seconds()
	}
}

// String returns a string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// IsValid checks if the job status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}
