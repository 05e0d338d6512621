// internal/layer/worker.go - Workers turning queued jobs into cached tiles
package layer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/cache"
	"github.com/valpere/tilerender/internal/metrics"
	"github.com/valpere/tilerender/internal/queue"
	"github.com/valpere/tilerender/internal/tile"
	"github.com/valpere/tilerender/internal/view"
)

// WorkerOptions tunes a WorkerPool
type WorkerOptions struct {
	// Workers is capped by the producer's parallelism; zero uses it as is
	Workers int
	// MaxAssigned bounds in-flight jobs; zero means one per worker
	MaxAssigned int
	// Redrawer is asked to repaint after every produced tile
	Redrawer view.Redrawer
	// OnDone is called after each job with its outcome
	OnDone func(job tile.Job, err error)
}

// WorkerPool runs workers that take jobs from a queue, produce them and store
// the result in a cache
type WorkerPool struct {
	queue    *queue.JobQueue
	cache    cache.TileCache
	producer Producer
	opts     WorkerOptions
	metrics  *metrics.Metrics

	completed *atomic.Int64
	failed    *atomic.Int64
	stopped   *atomic.Bool

	mu      sync.Mutex
	wg      *conc.WaitGroup
	cancel  context.CancelFunc
	running bool
}

// NewWorkerPool creates a stopped pool
func NewWorkerPool(q *queue.JobQueue, c cache.TileCache, producer Producer, opts WorkerOptions) *WorkerPool {
	workers := producer.Parallelism()
	if workers <= 0 {
		workers = 1
	}
	if opts.Workers > 0 && opts.Workers < workers {
		workers = opts.Workers
	}
	opts.Workers = workers
	if opts.MaxAssigned <= 0 {
		opts.MaxAssigned = workers
	}

	return &WorkerPool{
		queue:     q,
		cache:     c,
		producer:  producer,
		opts:      opts,
		metrics:   metrics.Get(),
		completed: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
		stopped:   atomic.NewBool(false),
	}
}

// Workers returns the number of worker goroutines the pool runs
func (p *WorkerPool) Workers() int {
	return p.opts.Workers
}

// Completed returns the number of jobs produced and cached
func (p *WorkerPool) Completed() int64 {
	return p.completed.Load()
}

// Failed returns the number of jobs whose production failed
func (p *WorkerPool) Failed() int64 {
	return p.failed.Load()
}

// Start launches the workers. Starting a running pool is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.stopped.Store(false)
	p.wg = conc.NewWaitGroup()
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Go(func() { p.work(ctx) })
	}
	p.running = true

	internal.Logger().Info("workers started", "producer", p.producer.Name(), "workers", p.opts.Workers, "max_assigned", p.opts.MaxAssigned)
}

// Stop makes the workers exit after their current job and waits for them. A
// panic in a worker is returned as an error.
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}

	p.stopped.Store(true)
	p.cancel()
	p.queue.Interrupt()
	recovered := p.wg.WaitAndRecover()
	p.running = false

	internal.Logger().Info("workers stopped", "producer", p.producer.Name(), "completed", p.completed.Load(), "failed", p.failed.Load())
	if recovered != nil {
		return internal.NewError(internal.ErrorCodeProcessing, "worker panicked", recovered.AsError())
	}
	return nil
}

func (p *WorkerPool) work(ctx context.Context) {
	for !p.stopped.Load() {
		job, err := p.queue.GetWithLimit(ctx, p.opts.MaxAssigned)
		if err != nil {
			if errors.Is(err, queue.ErrInterrupted) {
				continue
			}
			return
		}
		p.process(ctx, job)
	}
}

// process produces one job. Failures are logged and leave the tile uncached so
// that it is queued again the next time it is visible.
func (p *WorkerPool) process(ctx context.Context, job tile.Job) {
	start := time.Now()
	bitmap, err := p.producer.Produce(ctx, job)
	p.metrics.ObserveJob(p.producer.Name(), start, err)

	if err == nil && bitmap == nil {
		err = internal.NewError(internal.ErrorCodeContract, "producer returned no bitmap", nil)
	}
	if err == nil {
		if putErr := p.cache.Put(job, bitmap); putErr != nil {
			err = fmt.Errorf("failed to cache tile: %w", putErr)
		}
	}
	if bitmap != nil {
		bitmap.Release()
	}

	if err != nil {
		p.failed.Inc()
		internal.Logger().Warn("tile job failed", "job", job.String(), "producer", p.producer.Name(), "error", err)
	} else {
		p.completed.Inc()
		internal.Logger().Debug("tile job done", "job", job.String(), "duration", time.Since(start))
	}

	if removeErr := p.queue.Remove(job); removeErr != nil {
		internal.Logger().Error("job bookkeeping failed", "job", job.String(), "error", removeErr)
	}
	if p.opts.OnDone != nil {
		p.opts.OnDone(job, err)
	}
	if err == nil && p.opts.Redrawer != nil {
		p.opts.Redrawer.RedrawLayers()
	}
}
