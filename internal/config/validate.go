package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KilimcininKorOglu/objstore/internal/storage"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error
	errs = append(errs, validateStoreConfig(&config.Store)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)
	return errs
}

func validateStoreConfig(config *StoreConfig) []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if config.Path == "" {
		add("store.path", "store file path is required")
	}

	if config.MinimumNodeSize != 0 && config.MinimumNodeSize < 2 {
		add("store.minimumNodeSize", "must be at least 2")
	}
	if config.CacheSize < 0 {
		add("store.cacheSize", "must be non-negative")
	}
	if config.Retention < 0 {
		add("store.retention", "must be non-negative")
	}
	if config.WriteConcurrency < 0 {
		add("store.writeConcurrency", "must be non-negative")
	}
	if config.FlushInterval < 0 {
		add("store.flushInterval", "must be non-negative")
	}

	sizes := map[string]uint64{}
	for _, f := range []struct{ field, value string }{
		{"store.minFileSize", config.MinFileSize},
		{"store.maxFileSize", config.MaxFileSize},
		{"store.minRegionSize", config.MinRegionSize},
		{"store.checkpointThreshold", config.CheckpointThreshold},
	} {
		n, err := parseSize(f.value)
		if err != nil {
			add(f.field, "%v", err)
			continue
		}
		sizes[f.field] = n
	}

	if maxSize := sizes["store.maxFileSize"]; maxSize > 0 {
		if maxSize < storage.DataStart {
			add("store.maxFileSize", "must be at least %d bytes", storage.DataStart)
		}
		if minSize := sizes["store.minFileSize"]; minSize > maxSize {
			add("store.minFileSize", "must not exceed store.maxFileSize")
		}
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}
