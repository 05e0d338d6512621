// cmd/render.go - Single tile render command
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/config"
	"github.com/valpere/tilerender/internal/metrics"
	"github.com/valpere/tilerender/internal/output"
	"github.com/valpere/tilerender/internal/tile"
)

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a single tile",
	Long: `Render a single tile through the configured producer and tile cache and export it.

Vector tiles are rendered with the configured theme; without a theme the source is
treated as a raster tile server. A tile already in the cache is exported without
fetching it again.

Examples:
  # Render a vector tile into ./tiles/14/8362/5956.png
  tilerender render --base-url "https://example.com/tiles" --theme theme.xml --z 14 --x 8362 --y 5956

  # Write a JPEG to stdout
  tilerender render --base-path ./tiles --theme theme.xml --z 3 --x 4 --y 2 --format jpeg --stdout > tile.jpg`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	// Tile flags
	renderCmd.Flags().Int("z", 0, "tile zoom level")
	renderCmd.Flags().Uint64("x", 0, "tile x coordinate")
	renderCmd.Flags().Uint64("y", 0, "tile y coordinate")

	// Output flags
	renderCmd.Flags().String("output-dir", "", "output directory for tiles")
	renderCmd.Flags().Bool("stdout", false, "write the encoded tile to stdout")
	renderCmd.Flags().Bool("no-cache", false, "always produce the tile, bypassing the cache")

	renderCmd.MarkFlagsRequiredTogether("z", "x", "y")
	renderCmd.MarkFlagsMutuallyExclusive("output-dir", "stdout")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	z, _ := cmd.Flags().GetInt("z")
	x, _ := cmd.Flags().GetUint64("x")
	y, _ := cmd.Flags().GetUint64("y")
	noCache, _ := cmd.Flags().GetBool("no-cache")

	if err := tile.ValidateCoordinates(z, x, y); err != nil {
		return fmt.Errorf("invalid tile coordinates: %w", err)
	}
	t := tile.NewTile(x, y, uint8(z), uint32(cfg.Display.TileSize))

	outCfg := outputConfig(cmd, cfg)
	if !outCfg.Format.IsImage() {
		return fmt.Errorf("render writes images; format %s is not supported", outCfg.Format)
	}
	writer, err := output.NewTileWriter(outCfg, afero.NewOsFs(), os.Stdout)
	if err != nil {
		return err
	}
	defer writer.Close()

	c, err := newComponents(cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Source.Timeout*time.Duration(cfg.Source.MaxRetries+1))
	defer cancel()
	startMetrics(ctx, cfg)

	producer := c.producer
	if !producer.Covers(t) {
		return internal.NewError(internal.ErrorCodeValidation,
			fmt.Sprintf("zoom %d is outside the source range %d-%d", z, c.source.ZoomMin(), c.source.ZoomMax()), nil)
	}
	job := tile.NewJob(t, producer.JobKey(), producer.HasAlpha())

	bitmap := c.cache.Get(job)
	if bitmap == nil || noCache {
		if bitmap != nil {
			bitmap.Release()
		}
		start := time.Now()
		bitmap, err = producer.Produce(ctx, job)
		metrics.Get().ObserveJob(producer.Name(), start, err)
		if err != nil {
			return fmt.Errorf("failed to render tile %s: %w", t, err)
		}
		if err := c.cache.Put(job, bitmap); err != nil {
			internal.Logger().Warn("failed to cache tile", "tile", t.String(), "error", err)
		}
		internal.Logger().Debug("tile produced", "tile", t.String(), "producer", producer.Name(), "duration", time.Since(start))
	} else {
		internal.Logger().Debug("tile served from cache", "tile", t.String())
	}
	defer bitmap.Release()

	result, err := writer.WriteTile(t, bitmap)
	if err != nil {
		return fmt.Errorf("failed to write tile: %w", err)
	}

	if viper.GetBool("logging.verbose") && !outCfg.Stdout {
		fmt.Fprintf(os.Stderr, "Tile %s rendered to %s (%d bytes)\n", t, result.Path, result.BytesWritten)
	}
	return nil
}

// outputConfig applies the command's output flags to the output section
func outputConfig(cmd *cobra.Command, cfg *config.Config) *output.OutputConfig {
	outCfg := output.FromConfig(&cfg.Output)
	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		outCfg.Directory = dir
	}
	if stdout, _ := cmd.Flags().GetBool("stdout"); stdout {
		outCfg.Stdout = true
	}
	return outCfg
}
