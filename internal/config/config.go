// internal/config/config.go - Configuration management
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/valpere/tilerender/internal"
)

// Config represents the complete application configuration
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Theme     ThemeConfig     `mapstructure:"theme"`
	Display   DisplayConfig   `mapstructure:"display"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// SourceConfig describes where raw tile bytes come from
type SourceConfig struct {
	Type        string            `mapstructure:"type"`
	Name        string            `mapstructure:"name"`
	BaseURL     string            `mapstructure:"base_url"`
	URLTemplate string            `mapstructure:"url_template"`
	APIKey      string            `mapstructure:"api_key"`
	Headers     map[string]string `mapstructure:"headers"`
	UserAgent   string            `mapstructure:"user_agent"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	MaxRetries  int               `mapstructure:"max_retries"`
	RateLimit   float64           `mapstructure:"rate_limit"`
	BasePath    string            `mapstructure:"base_path"`
	Extension   string            `mapstructure:"extension"`
	Compressed  bool              `mapstructure:"compressed"`
	Parallelism int               `mapstructure:"parallelism"`
	ZoomMin     int               `mapstructure:"zoom_min"`
	ZoomMax     int               `mapstructure:"zoom_max"`
}

// CacheConfig contains the two cache levels' sizing
type CacheConfig struct {
	MemoryCapacity int    `mapstructure:"memory_capacity"`
	FileCapacity   int    `mapstructure:"file_capacity"`
	Directory      string `mapstructure:"directory"`
	Persistent     bool   `mapstructure:"persistent"`
}

// SchedulerConfig contains job queue tuning
type SchedulerConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity"`
	MaxAssigned   int           `mapstructure:"max_assigned"`
	WakeInterval  time.Duration `mapstructure:"wake_interval"`
	ZoomPenalty   float64       `mapstructure:"zoom_penalty"`
}

// ThemeConfig locates the render theme
type ThemeConfig struct {
	Path            string  `mapstructure:"path"`
	Watch           bool    `mapstructure:"watch"`
	StrokeScale     float64 `mapstructure:"stroke_scale"`
	TextScale       float64 `mapstructure:"text_scale"`
	SimplifyBelowZL int     `mapstructure:"simplify_below_zoom"`
}

// DisplayConfig mirrors the display model
type DisplayConfig struct {
	TileSize          int     `mapstructure:"tile_size"`
	DeviceScale       float64 `mapstructure:"device_scale"`
	UserScale         float64 `mapstructure:"user_scale"`
	Overdraw          float64 `mapstructure:"overdraw"`
	SquareFrameBuffer bool    `mapstructure:"square_frame_buffer"`
	Width             int     `mapstructure:"width"`
	Height            int     `mapstructure:"height"`
}

// OutputConfig contains tile export configuration
type OutputConfig struct {
	Format    string `mapstructure:"format"`
	Directory string `mapstructure:"directory"`
	Pretty    bool   `mapstructure:"pretty"`
	Stdout    bool   `mapstructure:"stdout"`
	Quality   int    `mapstructure:"quality"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Output  string `mapstructure:"output"`
	Verbose bool   `mapstructure:"verbose"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load loads configuration from various sources
func Load() (*Config, error) {
	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "failed to unmarshal configuration", err)
	}

	if err := Validate(&config); err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "configuration validation failed", err)
	}

	return &config, nil
}

// setDefaults configures default values for all configuration options
func setDefaults() {
	for key, value := range Defaults() {
		viper.SetDefault(key, value)
	}
}

// Defaults returns the default value of every configuration key
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"source.type":         "auto",
		"source.name":         "default",
		"source.url_template": "{base_url}/{z}/{x}/{y}.png",
		"source.user_agent":   "TileRender/1.0",
		"source.timeout":      30 * time.Second,
		"source.max_retries":  3,
		"source.rate_limit":   50.0,
		"source.extension":    ".png",
		"source.compressed":   false,
		"source.parallelism":  4,
		"source.zoom_min":     0,
		"source.zoom_max":     18,

		"cache.memory_capacity": 64,
		"cache.file_capacity":   1024,
		"cache.directory":       "tilecache",
		"cache.persistent":      true,

		"scheduler.queue_capacity": 128,
		"scheduler.max_assigned":   8,
		"scheduler.wake_interval":  200 * time.Millisecond,
		"scheduler.zoom_penalty":   10.0,

		"theme.watch":               false,
		"theme.stroke_scale":        1.0,
		"theme.text_scale":          1.0,
		"theme.simplify_below_zoom": 12,

		"display.tile_size":           256,
		"display.device_scale":        1.0,
		"display.user_scale":          1.0,
		"display.overdraw":            1.2,
		"display.square_frame_buffer": true,
		"display.width":               1024,
		"display.height":              768,

		"output.format":    "png",
		"output.directory": "tiles",
		"output.pretty":    true,
		"output.stdout":    false,
		"output.quality":   90,

		"logging.level":   "info",
		"logging.format":  "text",
		"logging.output":  "stderr",
		"logging.verbose": false,

		"metrics.enabled": false,
		"metrics.address": ":9090",
	}
}

// DetermineSourceType automatically determines the source type based on configuration
func (c *Config) DetermineSourceType() internal.SourceType {
	switch c.Source.Type {
	case "local":
		return internal.SourceTypeLocal
	case "http":
		return internal.SourceTypeHTTP
	}

	if c.Source.BasePath != "" && c.Source.BaseURL == "" {
		return internal.SourceTypeLocal
	}
	return internal.SourceTypeHTTP
}

// GetTilePath builds a local file path for the configured local source
func (c *Config) GetTilePath(z, x, y int) string {
	if c.Source.BasePath == "" {
		return ""
	}
	extension := c.Source.Extension
	if c.Source.Compressed {
		extension += ".gz"
	}
	return fmt.Sprintf("%s/%d/%d/%d%s", c.Source.BasePath, z, x, y, extension)
}
