// Package queue schedules tile jobs for the workers. Queued jobs are ordered by
// their distance to the current viewport; priorities are recomputed lazily by the
// first Get after the queue or the viewport changed.
package queue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/metrics"
	"github.com/valpere/tilerender/internal/model"
	"github.com/valpere/tilerender/internal/tile"
)

// Defaults used when Options leave a field zero
const (
	DefaultCapacity     = 128
	DefaultZoomPenalty  = 10.0
	DefaultWakeInterval = 200 * time.Millisecond
)

// Queue errors
var (
	ErrInterrupted  = internal.NewError(internal.ErrorCodeProcessing, "queue wait interrupted", nil)
	ErrNotAssigned  = internal.NewError(internal.ErrorCodeContract, "job is not assigned", nil)
	ErrInvalidLimit = internal.NewError(internal.ErrorCodeContract, "max assigned must be positive", nil)
)

// Viewport supplies the map position and tile size priorities are computed against
type Viewport interface {
	MapPosition() model.MapPosition
	TileSize() uint32
}

// QueueItem is a queued job with its last computed priority
type QueueItem struct {
	Job      tile.Job
	Priority float64
	seq      uint64
}

// Options configures a JobQueue
type Options struct {
	Capacity     int
	ZoomPenalty  float64
	WakeInterval time.Duration
}

// JobQueue is a bounded priority queue with a set of assigned (in-flight) jobs
type JobQueue struct {
	mu       sync.Mutex
	viewport Viewport
	items    []*QueueItem
	queued   map[tile.Job]*QueueItem
	assigned map[tile.Job]struct{}
	seq      uint64
	dirty    bool
	epoch    uint64
	changed  chan struct{}

	capacity     int
	zoomPenalty  float64
	wakeInterval time.Duration
	metrics      *metrics.Metrics
}

// NewJobQueue creates a queue prioritizing against viewport
func NewJobQueue(viewport Viewport, opts Options) *JobQueue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.ZoomPenalty <= 0 || math.IsNaN(opts.ZoomPenalty) {
		opts.ZoomPenalty = DefaultZoomPenalty
	}
	if opts.WakeInterval <= 0 {
		opts.WakeInterval = DefaultWakeInterval
	}
	return &JobQueue{
		viewport:     viewport,
		queued:       make(map[tile.Job]*QueueItem),
		assigned:     make(map[tile.Job]struct{}),
		changed:      make(chan struct{}),
		capacity:     opts.Capacity,
		zoomPenalty:  opts.ZoomPenalty,
		wakeInterval: opts.WakeInterval,
		metrics:      metrics.Get(),
	}
}

// broadcast wakes every waiter; callers hold q.mu
func (q *JobQueue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Add queues a job unless it is already queued or assigned
func (q *JobQueue) Add(job tile.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[job]; ok {
		return
	}
	if _, ok := q.assigned[job]; ok {
		return
	}

	q.seq++
	item := &QueueItem{Job: job, seq: q.seq}
	q.items = append(q.items, item)
	q.queued[job] = item
	q.dirty = true
	q.metrics.QueueSize.Set(float64(len(q.items)))
	q.broadcast()
}

// Get blocks until a job is available and returns the highest priority one
func (q *JobQueue) Get(ctx context.Context) (tile.Job, error) {
	return q.GetWithLimit(ctx, math.MaxInt)
}

// GetWithLimit is Get that also waits while maxAssigned jobs are in flight. It
// returns ErrInterrupted when Interrupt is called during the wait and ctx.Err()
// when ctx ends.
func (q *JobQueue) GetWithLimit(ctx context.Context, maxAssigned int) (tile.Job, error) {
	if maxAssigned <= 0 {
		return tile.Job{}, fmt.Errorf("%w: %d", ErrInvalidLimit, maxAssigned)
	}

	q.mu.Lock()
	epoch := q.epoch
	for {
		if q.epoch != epoch {
			q.mu.Unlock()
			return tile.Job{}, ErrInterrupted
		}

		if len(q.items) > 0 && len(q.assigned) < maxAssigned {
			if q.dirty {
				q.schedule()
			}
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			delete(q.queued, item.Job)
			q.assigned[item.Job] = struct{}{}
			q.metrics.QueueSize.Set(float64(len(q.items)))
			q.metrics.QueueAssigned.Set(float64(len(q.assigned)))
			q.mu.Unlock()
			return item.Job, nil
		}

		changed := q.changed
		q.mu.Unlock()

		timer := time.NewTimer(q.wakeInterval)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return tile.Job{}, ctx.Err()
		}
		timer.Stop()

		q.mu.Lock()
	}
}

// Remove releases an assigned job. Removing a job that is not assigned is a
// caller bug and returns ErrNotAssigned.
func (q *JobQueue) Remove(job tile.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.assigned[job]; !ok {
		return fmt.Errorf("%w: %s", ErrNotAssigned, job)
	}
	delete(q.assigned, job)
	q.metrics.QueueAssigned.Set(float64(len(q.assigned)))
	q.broadcast()
	return nil
}

// Interrupt makes every currently blocked Get return ErrInterrupted. Later Get
// calls are unaffected.
func (q *JobQueue) Interrupt() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.epoch++
	q.broadcast()
}

// NotifyWorkers marks priorities stale after a viewport change and wakes waiters
func (q *JobQueue) NotifyWorkers() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dirty = true
	q.broadcast()
}

// Size returns the number of queued jobs, not counting assigned ones
func (q *JobQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Assigned returns the number of in-flight jobs
func (q *JobQueue) Assigned() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.assigned)
}

// Capacity returns the maximum number of queued jobs kept after scheduling
func (q *JobQueue) Capacity() int {
	return q.capacity
}

// Items returns a snapshot of the queued items in their current order
func (q *JobQueue) Items() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueItem, len(q.items))
	for i, item := range q.items {
		out[i] = *item
	}
	return out
}
