// Package config provides configuration loading for the object store.
package config

import "time"

// Config holds the complete configuration.
type Config struct {
	Store   StoreConfig `yaml:"store"`
	Logging LogConfig   `yaml:"logging"`
}

// StoreConfig holds store configuration. Sizes are strings such as "64MiB"
// or "1GB".
type StoreConfig struct {
	Path                string        `yaml:"path"`
	MinimumNodeSize     int           `yaml:"minimumNodeSize"`
	CacheSize           int64         `yaml:"cacheSize"`
	Retention           int           `yaml:"retention"`
	MinFileSize         string        `yaml:"minFileSize"`
	MaxFileSize         string        `yaml:"maxFileSize"`
	MinRegionSize       string        `yaml:"minRegionSize"`
	CheckpointThreshold string        `yaml:"checkpointThreshold"`
	FlushInterval       time.Duration `yaml:"flushInterval"`
	WriteConcurrency    int           `yaml:"writeConcurrency"`
	SyncWrites          bool          `yaml:"syncWrites"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
