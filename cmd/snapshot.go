// cmd/snapshot.go - Map view rendering command
package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/config"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/layer"
	"github.com/valpere/tilerender/internal/model"
	"github.com/valpere/tilerender/internal/output"
	"github.com/valpere/tilerender/internal/queue"
	"github.com/valpere/tilerender/internal/tile"
	"github.com/valpere/tilerender/internal/view"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Render a map view around a location",
	Long: `Render a map view of the configured display size centered on a location.

The view runs the full interactive pipeline: the layer manager computes the visible
tiles, missing tiles are queued by distance to the center and produced by the
worker pool, and every produced tile triggers a redraw. The image is written once
all visible tiles are available or the timeout expires.

Examples:
  tilerender snapshot --base-path ./tiles --theme theme.xml --lat 52.52 --lon 13.40 --zoom 13 --output berlin.png
  tilerender snapshot --base-url "https://tile.example.com" --lat 48.85 --lon 2.35 --zoom 12 --width 800 --height 600 --output paris.jpg`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	// Position flags
	snapshotCmd.Flags().Float64("lat", 0, "center latitude")
	snapshotCmd.Flags().Float64("lon", 0, "center longitude")
	snapshotCmd.Flags().Int("zoom", 0, "zoom level")
	snapshotCmd.Flags().Float32("rotation", 0, "map rotation in degrees")

	// View flags
	snapshotCmd.Flags().Int("width", 0, "view width in pixels (default: display.width)")
	snapshotCmd.Flags().Int("height", 0, "view height in pixels (default: display.height)")
	snapshotCmd.Flags().Duration("wait", 30*time.Second, "maximum time to wait for tiles")

	// Output flags
	snapshotCmd.Flags().StringP("output", "o", "snapshot.png", "output image (.png, .jpg or .jpeg)")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	zoom, _ := cmd.Flags().GetInt("zoom")
	rotation, _ := cmd.Flags().GetFloat32("rotation")
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	wait, _ := cmd.Flags().GetDuration("wait")
	outputPath, _ := cmd.Flags().GetString("output")

	if width <= 0 {
		width = cfg.Display.Width
	}
	if height <= 0 {
		height = cfg.Display.Height
	}
	if zoom < 0 || zoom > tile.MaxZoomLevel {
		return fmt.Errorf("zoom level must be between 0 and %d", tile.MaxZoomLevel)
	}
	formatter, err := imageFormatter(outputPath, cfg.Output.Quality)
	if err != nil {
		return err
	}

	c, err := newComponents(cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), wait)
	defer cancel()
	startMetrics(ctx, cfg)
	c.runWatcher(ctx)

	m, err := newViewModel(cfg, c)
	if err != nil {
		return err
	}
	v := view.NewMapView(m, cfg.Display.SquareFrameBuffer)
	defer v.Destroy()

	if err := m.Position.SetMapPosition(model.NewMapPosition(model.NewLatLong(lat, lon), uint8(zoom), rotation)); err != nil {
		return fmt.Errorf("invalid position: %w", err)
	}
	if err := m.Dimension.SetDimension(model.Dimension{Width: width, Height: height}); err != nil {
		return fmt.Errorf("invalid view size: %w", err)
	}

	q := queue.NewJobQueue(m, queue.Options{
		Capacity:     cfg.Scheduler.QueueCapacity,
		ZoomPenalty:  cfg.Scheduler.ZoomPenalty,
		WakeInterval: cfg.Scheduler.WakeInterval,
	})
	lm := layer.NewLayerManager(m, v)
	defer lm.Destroy()
	lm.AddLayer(layer.NewTileLayer(c.cache, q, c.producer))

	pool := layer.NewWorkerPool(q, c.cache, c.producer, layer.WorkerOptions{
		Workers:     cfg.Scheduler.MaxAssigned,
		MaxAssigned: cfg.Scheduler.MaxAssigned,
		Redrawer:    lm,
	})

	runCtx, stopRun := context.WithCancel(ctx)
	done := make(chan struct{})
	pool.Start(runCtx)
	go func() {
		defer close(done)
		lm.Run(runCtx)
	}()

	complete := waitForTiles(ctx, v, q, lm)

	stopRun()
	<-done
	if err := pool.Stop(); err != nil {
		internal.Logger().Warn("worker pool stopped with errors", "error", err)
	}
	if !complete {
		internal.Logger().Warn("not every visible tile was produced in time", "queued", q.Size(), "failed", pool.Failed())
	}

	// a last frame from the cache, after every worker has finished
	lm.DrawFrame()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	v.Draw(dst)

	bitmap := graphics.FromImage(dst)
	defer bitmap.Release()
	data, err := formatter.Format(bitmap)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(afero.NewOsFs(), outputPath, data, 0644); err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, "failed to write snapshot", err)
	}

	if viper.GetBool("logging.verbose") {
		fmt.Fprintf(os.Stderr, "Snapshot %dx%d at %s written to %s (%d tiles produced, %d frames)\n",
			width, height, m.Position.MapPosition(), outputPath, pool.Completed(), lm.Frames())
	}
	return nil
}

// newViewModel creates the model with the configured display settings
func newViewModel(cfg *config.Config, c *components) (*model.Model, error) {
	m := model.NewModel(uint32(cfg.Display.TileSize))
	if err := m.Display.SetDeviceScaleFactor(cfg.Display.DeviceScale); err != nil {
		return nil, fmt.Errorf("invalid device scale: %w", err)
	}
	if err := m.Display.SetUserScaleFactor(cfg.Display.UserScale); err != nil {
		return nil, fmt.Errorf("invalid user scale: %w", err)
	}
	if err := m.Display.SetOverdrawFactor(cfg.Display.Overdraw); err != nil {
		return nil, fmt.Errorf("invalid overdraw: %w", err)
	}
	if th := c.currentTheme(); th != nil {
		m.Display.SetBackground(th.Background())
	}
	return m, nil
}

// waitForTiles waits until the queue is drained after at least one frame. It
// returns false when ctx ends first.
func waitForTiles(ctx context.Context, v *view.MapView, q *queue.JobQueue, lm *layer.LayerManager) bool {
	lm.RedrawLayers()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-v.Repaints():
		case <-ticker.C:
		}
		if lm.Frames() > 0 && q.Size() == 0 && q.Assigned() == 0 {
			return true
		}
	}
}

// imageFormatter picks the formatter from the output file extension
func imageFormatter(path string, quality int) (output.Formatter, error) {
	format := output.FormatPNG
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
	case ".jpg", ".jpeg":
		format = output.FormatJPEG
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q, use .png or .jpg", filepath.Ext(path))
	}
	if quality == 0 {
		quality = output.DefaultQuality
	}
	return output.NewFormatter(&output.OutputConfig{Format: format, Quality: quality})
}
