package config

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/KilimcininKorOglu/objstore/internal/logging"
	"github.com/KilimcininKorOglu/objstore/internal/storage"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Parser errors.
var (
	ErrInvalidYAML  = errors.New("invalid YAML format")
	ErrFileNotFound = errors.New("configuration file not found")
	ErrInvalidSize  = errors.New("invalid size")
)

// LoadConfig loads configuration from a file path.
// It reads the file, substitutes environment variables, parses YAML,
// and applies defaults for missing values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrFileNotFound, "%s", path)
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig parses configuration from YAML data. Unknown keys are
// rejected.
func ParseConfig(data []byte) (*Config, error) {
	data = substituteEnvVars(data)

	config := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Mark(errors.Wrap(err, "parse configuration"), ErrInvalidYAML)
	}
	return config, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		content := string(match[2 : len(match)-1])

		if name, def, ok := strings.Cut(content, ":-"); ok {
			if val := os.Getenv(name); val != "" {
				return []byte(val)
			}
			return []byte(def)
		}
		return []byte(os.Getenv(content))
	})
}

// parseSize parses a size string like "256MB" or "1GiB". An empty string
// is zero.
func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "size %q", s), ErrInvalidSize)
	}
	return n, nil
}

// StoreOptions converts the store section into storage options.
func (c *Config) StoreOptions() (storage.Options, error) {
	sc := c.Store
	opts := storage.DefaultStoreOptions()

	if sc.MinimumNodeSize != 0 {
		opts.MinimumNodeSize = sc.MinimumNodeSize
	}
	opts.CacheSize = sc.CacheSize
	if sc.Retention != 0 {
		opts.Retention = sc.Retention
	}
	if sc.WriteConcurrency != 0 {
		opts.WriteConcurrency = sc.WriteConcurrency
	}
	opts.FlushInterval = sc.FlushInterval
	opts.SyncWrites = sc.SyncWrites

	sizes := []struct {
		field string
		value string
		set   func(uint64)
	}{
		{"store.minFileSize", sc.MinFileSize, func(n uint64) { opts.MinFileSize = n }},
		{"store.maxFileSize", sc.MaxFileSize, func(n uint64) { opts.MaxFileSize = n }},
		{"store.minRegionSize", sc.MinRegionSize, func(n uint64) {
			if n > 0 {
				opts.MinRegionSize = n
			}
		}},
		{"store.checkpointThreshold", sc.CheckpointThreshold, func(n uint64) {
			if n > 0 {
				opts.CheckpointThreshold = int64(n)
			}
		}},
	}
	for _, sz := range sizes {
		n, err := parseSize(sz.value)
		if err != nil {
			return storage.Options{}, errors.Wrap(err, sz.field)
		}
		sz.set(n)
	}

	opts.Logger = logging.New(c.LoggingConfig())
	return opts, nil
}

// LoggingConfig converts the logging section into a logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
