// cmd/inspect.go - Vector tile inspection command
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/tilerender/internal/config"
	"github.com/valpere/tilerender/internal/layer"
	"github.com/valpere/tilerender/internal/output"
	"github.com/valpere/tilerender/internal/theme"
	"github.com/valpere/tilerender/internal/tile"
	"github.com/valpere/tilerender/pkg/mvt"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a vector tile as GeoJSON",
	Long: `Decode a Mapbox Vector Tile and print its features as a GeoJSON FeatureCollection.

The tile is read from the configured source, or from --file. With a theme every
feature gets an "_instructions" property counting the render instructions it
matches at the tile's zoom level, which helps debugging theme rules.

Examples:
  # Inspect a remote tile with theme annotations
  tilerender inspect --base-url "https://example.com/tiles" --theme theme.xml --z 14 --x 8362 --y 5956

  # Inspect a local file in tile pixel coordinates, keeping two layers
  tilerender inspect --file 5956.mvt --z 14 --x 8362 --y 5956 --coords tile-pixels --layers roads,water`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	// Tile flags
	inspectCmd.Flags().Int("z", 0, "tile zoom level")
	inspectCmd.Flags().Int("x", 0, "tile x coordinate")
	inspectCmd.Flags().Int("y", 0, "tile y coordinate")
	inspectCmd.Flags().String("file", "", "read the tile from this file instead of the source")

	// Conversion flags
	inspectCmd.Flags().String("coords", mvt.CoordSystemWGS84, "coordinate system (wgs84, tile-pixels)")
	inspectCmd.Flags().StringSlice("layers", nil, "only include these layers")
	inspectCmd.Flags().StringSlice("properties", nil, "only include these properties")
	inspectCmd.Flags().Bool("simplify", false, "simplify geometries")
	inspectCmd.Flags().Bool("metadata", false, "include tile metadata in output")

	// Output flags
	inspectCmd.Flags().StringP("output", "o", "", "output file path (default: stdout)")

	inspectCmd.MarkFlagsRequiredTogether("z", "x", "y")
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	z, _ := cmd.Flags().GetInt("z")
	x, _ := cmd.Flags().GetInt("x")
	y, _ := cmd.Flags().GetInt("y")
	file, _ := cmd.Flags().GetString("file")
	coords, _ := cmd.Flags().GetString("coords")
	layers, _ := cmd.Flags().GetStringSlice("layers")
	properties, _ := cmd.Flags().GetStringSlice("properties")
	simplify, _ := cmd.Flags().GetBool("simplify")
	metadata, _ := cmd.Flags().GetBool("metadata")
	outputPath, _ := cmd.Flags().GetString("output")

	converter, err := mvt.NewConverterWithOptions(&mvt.ConversionOptions{
		IncludeMetadata:  metadata,
		LayerFilter:      layers,
		PropertyFilter:   properties,
		SimplifyGeometry: simplify,
		CoordinateSystem: coords,
		TileSize:         uint32(cfg.Display.TileSize),
	})
	if err != nil {
		return err
	}

	th, err := inspectTheme(cfg)
	if err != nil {
		return err
	}
	if th != nil {
		defer th.Destroy()
		converter.WithAnnotator(instructionAnnotator(th, uint8(z)))
	}

	data, err := readTileData(cmd.Context(), cfg, file, z, x, y)
	if err != nil {
		return err
	}

	fc, meta, err := converter.Convert(data, z, x, y)
	if err != nil {
		return fmt.Errorf("failed to convert tile: %w", err)
	}

	pretty := cfg.Output.Pretty
	if outputPath == "" || outputPath == "-" {
		if err := output.NewGeoJSONWriter(os.Stdout, pretty).WriteCollection(fc); err != nil {
			return err
		}
	} else if err := output.WriteGeoJSONFile(afero.NewOsFs(), outputPath, fc, pretty); err != nil {
		return err
	}

	if viper.GetBool("logging.verbose") {
		fmt.Fprintf(os.Stderr, "Tile %s: %d features in layers %s\n", meta.TileID, meta.FeatureCount, strings.Join(meta.Layers, ", "))
	}
	return nil
}

// inspectTheme loads the configured theme for annotations, if any
func inspectTheme(cfg *config.Config) (*theme.RenderTheme, error) {
	if cfg.Theme.Path == "" {
		return nil, nil
	}
	th, err := theme.LoadFile(afero.NewOsFs(), cfg.Theme.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load theme: %w", err)
	}
	return th, nil
}

// instructionAnnotator counts the instructions each feature matches at zoom
func instructionAnnotator(th *theme.RenderTheme, zoom uint8) mvt.Annotator {
	return func(f *mvt.DecodedFeature) map[string]interface{} {
		tags := layer.Tags(f.Tags)
		var matched []theme.Instruction
		if f.IsNode() {
			matched = th.MatchNode(tags, zoom)
		} else {
			matched = th.MatchWay(tags, zoom, f.IsClosed())
		}
		return map[string]interface{}{"_instructions": len(matched)}
	}
}

// readTileData reads the tile from file, or fetches it from the configured source
func readTileData(ctx context.Context, cfg *config.Config, file string, z, x, y int) ([]byte, error) {
	if file != "" {
		data, err := afero.ReadFile(afero.NewOsFs(), file)
		if err != nil {
			return nil, fmt.Errorf("failed to read tile file: %w", err)
		}
		return data, nil
	}

	if err := tile.ValidateCoordinates(z, uint64(x), uint64(y)); err != nil {
		return nil, fmt.Errorf("invalid tile coordinates: %w", err)
	}
	source, err := tile.NewSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile source: %w", err)
	}
	data, err := source.Fetch(ctx, tile.NewTile(uint64(x), uint64(y), uint8(z), uint32(cfg.Display.TileSize)))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	return data, nil
}
