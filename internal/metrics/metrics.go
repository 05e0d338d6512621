// Package metrics exposes prometheus instrumentation for the cache, the job
// queue and the tile workers.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valpere/tilerender/internal"
)

var (
	registry          = prometheus.NewRegistry()
	defaultRegisterer = promauto.With(registry)
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CachePromoted  prometheus.Counter
	CacheIOErrors  *prometheus.CounterVec

	// Queue metrics
	QueueSize     prometheus.Gauge
	QueueAssigned prometheus.Gauge
	QueueDropped  prometheus.Counter

	// Worker metrics
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Get returns the global metrics instance
func Get() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// Registry exposes the registry backing the metrics
func Registry() *prometheus.Registry {
	return registry
}

func newMetrics() *Metrics {
	buckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	return &Metrics{
		CacheHits: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilerender_cache_hits_total",
				Help: "Tile cache hits per cache level",
			},
			[]string{"level"},
		),
		CacheMisses: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilerender_cache_misses_total",
				Help: "Tile cache misses per cache level",
			},
			[]string{"level"},
		),
		CacheEvictions: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilerender_cache_evictions_total",
				Help: "Tiles evicted per cache level",
			},
			[]string{"level"},
		),
		CachePromoted: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "tilerender_cache_promotions_total",
				Help: "Tiles copied from the persistent level into memory",
			},
		),
		CacheIOErrors: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilerender_cache_io_errors_total",
				Help: "Persistent cache read and write failures",
			},
			[]string{"operation"},
		),
		QueueSize: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilerender_queue_size",
				Help: "Jobs waiting in the job queue",
			},
		),
		QueueAssigned: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilerender_queue_assigned",
				Help: "Jobs handed to workers and not yet removed",
			},
		),
		QueueDropped: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "tilerender_queue_dropped_total",
				Help: "Jobs trimmed from the queue past its capacity",
			},
		),
		JobsCompleted: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilerender_jobs_completed_total",
				Help: "Tile jobs produced successfully",
			},
			[]string{"producer"},
		),
		JobsFailed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilerender_jobs_failed_total",
				Help: "Tile jobs that produced no result",
			},
			[]string{"producer"},
		),
		JobDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tilerender_job_duration_seconds",
				Help:    "Time spent producing a tile",
				Buckets: buckets,
			},
			[]string{"producer"},
		),
	}
}

// ObserveJob records the outcome of one tile job
func (m *Metrics) ObserveJob(producer string, start time.Time, err error) {
	m.JobDuration.WithLabelValues(producer).Observe(time.Since(start).Seconds())
	if err != nil {
		m.JobsFailed.WithLabelValues(producer).Inc()
		return
	}
	m.JobsCompleted.WithLabelValues(producer).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	internal.Logger().Info("metrics server listening", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
