// cmd/prefetch.go - Cache seeding command
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/batch"
	"github.com/valpere/tilerender/internal/cache"
	"github.com/valpere/tilerender/internal/model"
	"github.com/valpere/tilerender/internal/output"
	"github.com/valpere/tilerender/internal/queue"
	"github.com/valpere/tilerender/internal/tile"
)

// prefetchCmd represents the prefetch command
var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Fill the tile cache for an area and zoom range",
	Long: `Fill the tile cache for a bounding box or a list of tiles across a zoom range.

Tiles are fed in chunks through the same prioritized job queue and workers that
serve map views; tiles already cached or outside the source's zoom range are
skipped. With --export every produced tile is also written to the output directory.

Examples:
  # Seed three zoom levels of a bounding box
  tilerender prefetch --base-url "https://example.com/tiles" --min-zoom 10 --max-zoom 12 --bbox "-74.0,40.7,-73.9,40.8"

  # Seed the whole world down to zoom 4 and export PNG tiles
  tilerender prefetch --base-path ./tiles --theme theme.xml --max-zoom 4 --export --output-dir ./out

  # Seed specific tiles
  tilerender prefetch --base-url "https://example.com/tiles" --tiles "14/8362/5956,14/8363/5956"`,
	RunE: runPrefetch,
}

func init() {
	rootCmd.AddCommand(prefetchCmd)

	// Tile range flags
	prefetchCmd.Flags().Int("zoom", -1, "single zoom level to process")
	prefetchCmd.Flags().Int("min-zoom", 0, "minimum zoom level")
	prefetchCmd.Flags().Int("max-zoom", 0, "maximum zoom level")
	prefetchCmd.Flags().String("bbox", "", "bounding box: 'min_lon,min_lat,max_lon,max_lat'")
	prefetchCmd.Flags().String("tiles", "", "specific tiles list: 'z/x/y,z/x/y,...'")

	// Processing flags
	prefetchCmd.Flags().Int("concurrency", 0, "number of workers (default: scheduler.max_assigned, capped by source parallelism)")
	prefetchCmd.Flags().Int("chunk-size", 100, "number of tiles per chunk, capped by the queue capacity")
	prefetchCmd.Flags().Int64("max-tiles", 1<<20, "refuse jobs covering more tiles")
	prefetchCmd.Flags().Duration("job-timeout", time.Hour, "maximum duration of the job")
	prefetchCmd.Flags().Bool("fail-on-error", false, "stop processing on first error")

	// Output flags
	prefetchCmd.Flags().Bool("export", false, "also write produced tiles to the output directory")
	prefetchCmd.Flags().String("output-dir", "", "output directory for exported tiles")

	// Progress flags
	prefetchCmd.Flags().Bool("progress", true, "show progress indicator")
	prefetchCmd.Flags().Duration("progress-interval", time.Second, "progress update interval")

	// Mark mutually exclusive flags
	prefetchCmd.MarkFlagsMutuallyExclusive("zoom", "min-zoom")
	prefetchCmd.MarkFlagsMutuallyExclusive("zoom", "max-zoom")
	prefetchCmd.MarkFlagsMutuallyExclusive("tiles", "bbox")
}

func runPrefetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	zoom, _ := cmd.Flags().GetInt("zoom")
	minZoom, _ := cmd.Flags().GetInt("min-zoom")
	maxZoom, _ := cmd.Flags().GetInt("max-zoom")
	bboxStr, _ := cmd.Flags().GetString("bbox")
	tilesStr, _ := cmd.Flags().GetString("tiles")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	maxTiles, _ := cmd.Flags().GetInt64("max-tiles")
	jobTimeout, _ := cmd.Flags().GetDuration("job-timeout")
	failOnError, _ := cmd.Flags().GetBool("fail-on-error")
	export, _ := cmd.Flags().GetBool("export")
	showProgress, _ := cmd.Flags().GetBool("progress")
	progressInterval, _ := cmd.Flags().GetDuration("progress-interval")

	// Parse tile ranges
	var tileRanges []*tile.TileRange
	bound := orb.Bound{Min: orb.Point{-180, -85.0511}, Max: orb.Point{180, 85.0511}}
	if tilesStr != "" {
		tileRanges, err = parseTilesList(tilesStr)
		if err != nil {
			return fmt.Errorf("failed to parse tiles list: %w", err)
		}
	} else {
		if zoom >= 0 {
			minZoom, maxZoom = zoom, zoom
		}
		if maxZoom < minZoom {
			maxZoom = minZoom
		}
		if minZoom < 0 || maxZoom > tile.MaxZoomLevel {
			return fmt.Errorf("zoom levels must be between 0 and %d", tile.MaxZoomLevel)
		}
		if bboxStr != "" {
			bound, err = parseBoundingBox(bboxStr)
			if err != nil {
				return fmt.Errorf("failed to parse bounding box: %w", err)
			}
		}
		tileRanges = batch.RangesForBound(bound, uint8(minZoom), uint8(maxZoom))
	}
	if len(tileRanges) == 0 {
		return fmt.Errorf("no tiles to process")
	}

	c, err := newComponents(cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	var target cache.TileCache = c.cache
	if export {
		writer, err := output.NewTileWriter(outputConfig(cmd, cfg), afero.NewOsFs(), os.Stdout)
		if err != nil {
			return err
		}
		defer writer.Close()
		target = output.NewExportingCache(c.cache, writer)
	}

	// the queue prioritizes tiles nearest the center of the area, coarse zooms first
	viewport := model.NewModel(uint32(cfg.Display.TileSize))
	if err := viewport.Position.SetMapPosition(model.NewMapPosition(
		model.NewLatLong(bound.Center().Lat(), bound.Center().Lon()), tileRanges[0].MinZ, 0)); err != nil {
		return fmt.Errorf("invalid area center: %w", err)
	}
	q := queue.NewJobQueue(viewport, queue.Options{
		Capacity:     cfg.Scheduler.QueueCapacity,
		ZoomPenalty:  cfg.Scheduler.ZoomPenalty,
		WakeInterval: cfg.Scheduler.WakeInterval,
	})

	if concurrency <= 0 {
		concurrency = cfg.Scheduler.MaxAssigned
	}
	jobConfig := &batch.JobConfig{
		Concurrency: concurrency,
		ChunkSize:   chunkSize,
		Timeout:     jobTimeout,
		TileSize:    uint32(cfg.Display.TileSize),
		FailOnError: failOnError,
		MaxTiles:    maxTiles,
	}

	var reporter batch.ProgressReporter
	if showProgress {
		reporter = NewConsoleProgressReporter(progressInterval)
	}
	coordinator := batch.NewCoordinator(batch.NewSeeder(q, target, c.producer, reporter))
	defer coordinator.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startMetrics(ctx, cfg)

	job := batch.NewJob(generateJobID(), tileRanges, jobConfig)
	if err := coordinator.SubmitJob(job); err != nil {
		return err
	}

	if err := coordinator.Wait(ctx, job.ID); err != nil {
		if ctx.Err() != nil {
			coordinator.CancelJob(job.ID)
			return fmt.Errorf("prefetch interrupted")
		}
		return fmt.Errorf("prefetch failed: %w", err)
	}

	// Print completion summary
	if viper.GetBool("logging.verbose") || showProgress {
		progress := job.Progress()
		fmt.Fprintf(os.Stderr, "\nPrefetch completed successfully!\n")
		fmt.Fprintf(os.Stderr, "Processed: %d tiles\n", progress.ProcessedTiles)
		fmt.Fprintf(os.Stderr, "Produced: %d, Skipped: %d, Failed: %d\n", progress.SuccessTiles, progress.SkippedTiles, progress.FailedTiles)
		fmt.Fprintf(os.Stderr, "Duration: %v\n", time.Since(progress.StartTime).Round(time.Millisecond))
		fmt.Fprintf(os.Stderr, "Throughput: %.2f tiles/second\n", progress.Throughput)
	}
	return nil
}

// parseBoundingBox parses a bounding box string
func parseBoundingBox(bbox string) (orb.Bound, error) {
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bounding box must have 4 values: min_lon,min_lat,max_lon,max_lat")
	}

	coords := make([]float64, 4)
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid coordinate value: %s", part)
		}
		coords[i] = val
	}

	bound := orb.Bound{Min: orb.Point{coords[0], coords[1]}, Max: orb.Point{coords[2], coords[3]}}
	if bound.Min.Lon() > bound.Max.Lon() || bound.Min.Lat() > bound.Max.Lat() {
		return orb.Bound{}, fmt.Errorf("bounding box minimum must not exceed its maximum")
	}
	for _, p := range []orb.Point{bound.Min, bound.Max} {
		if err := model.NewLatLong(p.Lat(), p.Lon()).Validate(); err != nil {
			return orb.Bound{}, err
		}
	}
	return bound, nil
}

// parseTilesList parses a comma-separated list of tile coordinates
func parseTilesList(tiles string) ([]*tile.TileRange, error) {
	parts := strings.Split(tiles, ",")
	var ranges []*tile.TileRange

	for _, part := range parts {
		coords := strings.Split(strings.TrimSpace(part), "/")
		if len(coords) != 3 {
			return nil, fmt.Errorf("invalid tile format: %s (expected z/x/y)", part)
		}

		z, err := strconv.Atoi(coords[0])
		if err != nil {
			return nil, fmt.Errorf("invalid zoom level: %s", coords[0])
		}
		x, err := strconv.ParseUint(coords[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid x coordinate: %s", coords[1])
		}
		y, err := strconv.ParseUint(coords[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid y coordinate: %s", coords[2])
		}
		if err := tile.ValidateCoordinates(z, x, y); err != nil {
			return nil, internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("invalid tile %s", part), err)
		}

		// Create a single-tile range
		ranges = append(ranges, &tile.TileRange{MinZ: uint8(z), MaxZ: uint8(z), MinX: x, MaxX: x, MinY: y, MaxY: y})
	}

	return ranges, nil
}

// generateJobID creates a unique job ID
func generateJobID() string {
	return fmt.Sprintf("prefetch-%d", time.Now().Unix())
}
