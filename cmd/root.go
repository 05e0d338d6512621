// cmd/root.go - Root command implementation
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/tilerender/internal"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tilerender",
	Short: "Render, cache and inspect map tiles",
	Long: `TileRender renders map tiles from raster or Mapbox Vector Tile sources, styled
by an XML render theme, through a prioritized job queue and a two-level tile cache.

Data Sources:
- Remote tile servers via HTTP/HTTPS
- Local tile directories with z/x/y organization
- Automatic source type detection

Features:
- Render single tiles or whole map views to PNG/JPEG
- Seed the tile cache for a bounding box and zoom range
- Inspect vector tiles as GeoJSON annotated with matched theme instructions
- Validate and hot-reload render themes

Examples:
  # Render one vector tile with a theme
  tilerender render --base-url "https://example.com/tiles" --theme theme.xml --z 14 --x 8362 --y 5956

  # Render a map view around a location
  tilerender snapshot --base-path ./tiles --theme theme.xml --lat 52.52 --lon 13.40 --zoom 13 --output berlin.png

  # Seed the cache for a bounding box
  tilerender prefetch --base-url "https://example.com/tiles" --min-zoom 10 --max-zoom 12 --bbox "-74.0,40.7,-73.9,40.8"

  # Inspect a vector tile
  tilerender inspect --base-path ./tiles --z 14 --x 8362 --y 5956 --theme theme.xml

  # Check a theme
  tilerender theme validate theme.xml`,
	Version: "1.0.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("metrics-addr") {
			viper.Set("metrics.enabled", true)
		}
		return setupLogging()
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tilerender.yaml)")

	// Source configuration flags
	rootCmd.PersistentFlags().String("source-type", "auto", "data source type (auto, http, local)")
	rootCmd.PersistentFlags().String("base-url", "", "base URL for tile server (HTTP source)")
	rootCmd.PersistentFlags().String("base-path", "", "base path for local tiles (local source)")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (HTTP source)")
	rootCmd.PersistentFlags().Duration("timeout", 30*1000000000, "request timeout (HTTP source)")
	rootCmd.PersistentFlags().Int("retries", 3, "number of retry attempts")

	// Rendering flags
	rootCmd.PersistentFlags().String("theme", "", "render theme XML file (raster tiles are used as-is without one)")
	rootCmd.PersistentFlags().String("cache-dir", "tilecache", "persistent tile cache directory")

	// Output flags
	rootCmd.PersistentFlags().StringP("format", "f", "png", "output format (png, jpeg, geojson)")
	rootCmd.PersistentFlags().Bool("pretty", true, "pretty print GeoJSON output")

	// Diagnostics flags
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve prometheus metrics on this address")

	// Bind flags to viper
	viper.BindPFlag("source.type", rootCmd.PersistentFlags().Lookup("source-type"))
	viper.BindPFlag("source.base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	viper.BindPFlag("source.base_path", rootCmd.PersistentFlags().Lookup("base-path"))
	viper.BindPFlag("source.api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("source.timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("source.max_retries", rootCmd.PersistentFlags().Lookup("retries"))
	viper.BindPFlag("theme.path", rootCmd.PersistentFlags().Lookup("theme"))
	viper.BindPFlag("cache.directory", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("output.format", rootCmd.PersistentFlags().Lookup("format"))
	viper.BindPFlag("output.pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.BindPFlag("logging.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("metrics.address", rootCmd.PersistentFlags().Lookup("metrics-addr"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".tilerender" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tilerender")
	}

	// Environment variables, e.g. TILERENDER_SOURCE_BASE_URL
	viper.SetEnvPrefix("TILERENDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("logging.verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// setupLogging installs the process logger from the logging section
func setupLogging() error {
	level := viper.GetString("logging.level")
	if viper.GetBool("logging.verbose") {
		level = "debug"
	}

	var w io.Writer = os.Stderr
	if viper.GetString("logging.output") == "stdout" {
		w = os.Stdout
	}
	internal.SetLogger(internal.NewLogger(w, level, viper.GetString("logging.format")))
	return nil
}
