package config

import "time"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:                "objects.db",
			MinimumNodeSize:     16,
			CacheSize:           1024,
			Retention:           2,
			MinRegionSize:       "32B",
			CheckpointThreshold: "64MiB",
			FlushInterval:       time.Second,
			WriteConcurrency:    4,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
