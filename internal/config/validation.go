// internal/config/validation.go - Configuration validation
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/valpere/tilerender/internal"
)

// Validate validates the configuration structure and values
func Validate(config *Config) error {
	if err := validateSource(config); err != nil {
		return fmt.Errorf("source configuration invalid: %w", err)
	}

	if err := validateCache(&config.Cache); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}

	if err := validateScheduler(&config.Scheduler); err != nil {
		return fmt.Errorf("scheduler configuration invalid: %w", err)
	}

	if err := validateDisplay(&config.Display); err != nil {
		return fmt.Errorf("display configuration invalid: %w", err)
	}

	if err := validateOutput(&config.Output); err != nil {
		return fmt.Errorf("output configuration invalid: %w", err)
	}

	if err := validateLogging(&config.Logging); err != nil {
		return fmt.Errorf("logging configuration invalid: %w", err)
	}

	return nil
}

// validateSource validates tile source parameters
func validateSource(config *Config) error {
	source := &config.Source

	if source.ZoomMin < 0 || source.ZoomMax > 30 || source.ZoomMin > source.ZoomMax {
		return fmt.Errorf("invalid zoom range [%d, %d]", source.ZoomMin, source.ZoomMax)
	}

	if source.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}

	if source.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	if source.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be non-negative")
	}

	if config.DetermineSourceType() == internal.SourceTypeHTTP && source.BaseURL != "" {
		if _, err := url.Parse(source.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if source.Timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
	}

	return nil
}

// validateCache validates cache sizing
func validateCache(config *CacheConfig) error {
	if config.MemoryCapacity < 0 {
		return fmt.Errorf("memory_capacity must be non-negative")
	}

	if config.FileCapacity < 0 {
		return fmt.Errorf("file_capacity must be non-negative")
	}

	if config.FileCapacity > 0 && config.Directory == "" {
		return fmt.Errorf("directory is required when file_capacity is positive")
	}

	return nil
}

// validateScheduler validates job queue settings
func validateScheduler(config *SchedulerConfig) error {
	if config.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive")
	}

	if config.MaxAssigned <= 0 {
		return fmt.Errorf("max_assigned must be positive")
	}

	if config.WakeInterval <= 0 {
		return fmt.Errorf("wake_interval must be positive")
	}

	if config.ZoomPenalty < 0 {
		return fmt.Errorf("zoom_penalty must be non-negative")
	}

	return nil
}

// validateDisplay validates the display model parameters
func validateDisplay(config *DisplayConfig) error {
	if config.TileSize <= 0 {
		return fmt.Errorf("tile_size must be positive")
	}

	if config.DeviceScale <= 0 || config.UserScale <= 0 {
		return fmt.Errorf("scale factors must be positive")
	}

	if config.Overdraw < 1 {
		return fmt.Errorf("overdraw must be at least 1")
	}

	if config.Width < 0 || config.Height < 0 {
		return fmt.Errorf("dimensions must be non-negative")
	}

	return nil
}

// validateOutput validates output configuration parameters
func validateOutput(config *OutputConfig) error {
	validFormats := []string{"png", "jpeg", "geojson"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid format: %s, must be one of %v", config.Format, validFormats)
	}

	if !config.Stdout && config.Directory == "" {
		return fmt.Errorf("directory is required when not using stdout")
	}

	if config.Format == "jpeg" && (config.Quality < 1 || config.Quality > 100) {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", config.Quality)
	}

	return nil
}

// validateLogging validates logging configuration parameters
func validateLogging(config *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	if !contains(validLevels, config.Level) {
		return fmt.Errorf("invalid log level: %s, must be one of %v", config.Level, validLevels)
	}

	validFormats := []string{"text", "json"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid log format: %s, must be one of %v", config.Format, validFormats)
	}

	validOutputs := []string{"stdout", "stderr"}
	if !contains(validOutputs, config.Output) {
		return fmt.Errorf("invalid log output: %s, must be one of %v", config.Output, validOutputs)
	}

	return nil
}

// ValidateLocalTileDirectory checks that the local tile base path is a readable directory
func ValidateLocalTileDirectory(config *Config) error {
	info, err := os.Stat(config.Source.BasePath)
	if err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, "cannot access base_path", err)
	}
	if !info.IsDir() {
		return internal.NewError(internal.ErrorCodeValidation, "base_path is not a directory", nil)
	}
	return nil
}

// contains checks if a string slice contains a specific string (case-insensitive)
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
