// cmd/progress.go - Console progress reporting for seeding jobs
package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/tilerender/internal/batch"
)

// ConsoleProgressReporter implements progress reporting to console
type ConsoleProgressReporter struct {
	out      io.Writer
	throttle *rate.Sometimes
}

// NewConsoleProgressReporter creates a reporter printing at most once per interval
func NewConsoleProgressReporter(interval time.Duration) *ConsoleProgressReporter {
	return &ConsoleProgressReporter{
		out:      os.Stderr,
		throttle: &rate.Sometimes{First: 1, Interval: interval},
	}
}

// ReportProgress reports job progress to console
func (r *ConsoleProgressReporter) ReportProgress(job *batch.Job) {
	r.throttle.Do(func() { r.print(job) })
}

// ReportChunkComplete reports chunk completion
func (r *ConsoleProgressReporter) ReportChunkComplete(job *batch.Job, chunk *batch.ChunkResult) {
	r.ReportProgress(job)
}

// ReportJobComplete reports job completion
func (r *ConsoleProgressReporter) ReportJobComplete(job *batch.Job) {
	r.print(job)
	fmt.Fprintln(r.out)
}

// ReportJobFailed reports job failure
func (r *ConsoleProgressReporter) ReportJobFailed(job *batch.Job, err error) {
	fmt.Fprintf(r.out, "\rFailed: %s\n", err.Error())
}

func (r *ConsoleProgressReporter) print(job *batch.Job) {
	progress := job.Progress()
	fmt.Fprintf(r.out, "\rProgress: %.1f%% (%d/%d tiles, chunk %d/%d, %.2f tiles/sec)",
		progress.CalculateProgress(), progress.ProcessedTiles, progress.TotalTiles,
		progress.CurrentChunk, progress.TotalChunks, progress.Throughput)
}
