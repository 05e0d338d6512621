// internal/config/config_test.go - Unit tests for configuration validation
package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Type:        "http",
			BaseURL:     "https://tiles.example.com",
			Timeout:     time.Second,
			Parallelism: 2,
			ZoomMax:     18,
		},
		Cache:     CacheConfig{MemoryCapacity: 16, FileCapacity: 64, Directory: "cache"},
		Scheduler: SchedulerConfig{QueueCapacity: 128, MaxAssigned: 4, WakeInterval: 200 * time.Millisecond, ZoomPenalty: 10},
		Display:   DisplayConfig{TileSize: 256, DeviceScale: 1, UserScale: 1, Overdraw: 1.2},
		Output:    OutputConfig{Format: "png", Directory: "out"},
		Logging:   LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"negative memory capacity", func(c *Config) { c.Cache.MemoryCapacity = -1 }, true},
		{"file cache without directory", func(c *Config) { c.Cache.Directory = "" }, true},
		{"zero queue capacity", func(c *Config) { c.Scheduler.QueueCapacity = 0 }, true},
		{"zero max assigned", func(c *Config) { c.Scheduler.MaxAssigned = 0 }, true},
		{"overdraw below one", func(c *Config) { c.Display.Overdraw = 0.5 }, true},
		{"inverted zoom range", func(c *Config) { c.Source.ZoomMin = 10; c.Source.ZoomMax = 5 }, true},
		{"unknown log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"unknown output format", func(c *Config) { c.Output.Format = "tiff" }, true},
		{"zero parallelism", func(c *Config) { c.Source.Parallelism = 0 }, true},
		{"jpeg quality out of range", func(c *Config) { c.Output.Format = "jpeg"; c.Output.Quality = 0 }, true},
		{"jpeg quality", func(c *Config) { c.Output.Format = "jpeg"; c.Output.Quality = 80 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := Validate(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDetermineSourceType(t *testing.T) {
	c := validConfig()
	c.Source.Type = "auto"
	c.Source.BaseURL = ""
	c.Source.BasePath = "/tmp/tiles"
	if got := c.DetermineSourceType(); got != "local" {
		t.Errorf("expected local source, got %s", got)
	}

	c.Source.Type = "http"
	if got := c.DetermineSourceType(); got != "http" {
		t.Errorf("expected http source, got %s", got)
	}
}

func TestGetTilePath(t *testing.T) {
	c := validConfig()
	c.Source.BasePath = "/data"
	c.Source.Extension = ".pbf"
	c.Source.Compressed = true
	if got := c.GetTilePath(3, 4, 5); got != "/data/3/4/5.pbf.gz" {
		t.Errorf("unexpected path %s", got)
	}
}
