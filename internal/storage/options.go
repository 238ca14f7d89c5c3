package storage

import (
	"os"
	"time"

	"github.com/KilimcininKorOglu/objstore/internal/logging"
	"github.com/KilimcininKorOglu/objstore/internal/storage/directory"
	"github.com/KilimcininKorOglu/objstore/internal/storage/freespace"
	"github.com/cockroachdb/errors"
)

// Defaults for Options.
const (
	DefaultMinimumNodeSize     = directory.DefaultMinimumNodeSize
	DefaultCacheSize           = directory.DefaultCacheSize
	DefaultRetention           = directory.DefaultRetention
	DefaultCheckpointThreshold = 64 << 20
	DefaultWriteConcurrency    = 4
	DefaultMinRegionSize       = freespace.DefaultMinRegionSize

	// GrowthChunk is the granularity in which the physical file grows.
	GrowthChunk = 64 << 10
)

// Options configures a Store.
type Options struct {
	// MinimumNodeSize is the directory B-tree minimum degree. It is fixed
	// when the store is created.
	// Default: 16.
	MinimumNodeSize int

	// CacheSize is the number of demoted directory pages kept in the page
	// cache.
	// Default: 1024.
	CacheSize int64

	// Retention is the number of flushes an untouched directory page stays
	// resident.
	// Default: 2.
	Retention int

	// MinFileSize is the size the file is never shrunk below when created.
	// Default: 0.
	MinFileSize uint64

	// MaxFileSize bounds the used area of the file. Zero means unbounded.
	// Default: 0.
	MaxFileSize uint64

	// MinRegionSize is the smallest free remainder kept as its own region.
	// Default: 32 bytes.
	MinRegionSize uint64

	// CheckpointThreshold is the reserved byte count at which a flush is
	// requested and paced callers start to wait.
	// Default: 64MB.
	CheckpointThreshold int64

	// FlushInterval enables periodic background flushes.
	// Default: 0 (only on request).
	FlushInterval time.Duration

	// WriteConcurrency bounds the number of payload writes in flight during
	// a flush.
	// Default: 4.
	WriteConcurrency int

	// Recovery opens an existing store for replay: reservations are neither
	// paced nor rejected until EndRecovery is called.
	// Default: false.
	Recovery bool

	// SyncWrites forces an fsync after every flush phase, not only at the
	// commit.
	// Default: false.
	SyncWrites bool

	// Logger receives store events.
	// Default: no-op logger.
	Logger logging.Logger

	// OnShutdown is called asynchronously once with the error that made the
	// store unusable.
	OnShutdown func(error)

	// openFile replaces os.OpenFile in tests.
	openFile func(path string, flag int, perm os.FileMode) (file, error)
}

// DefaultStoreOptions returns the default store options.
func DefaultStoreOptions() Options {
	return Options{
		MinimumNodeSize:     DefaultMinimumNodeSize,
		CacheSize:           DefaultCacheSize,
		Retention:           DefaultRetention,
		MinRegionSize:       DefaultMinRegionSize,
		CheckpointThreshold: DefaultCheckpointThreshold,
		WriteConcurrency:    DefaultWriteConcurrency,
	}
}

// Validate fills in defaults and rejects unusable settings.
func (o *Options) Validate() error {
	if o.MinimumNodeSize == 0 {
		o.MinimumNodeSize = DefaultMinimumNodeSize
	}
	if o.MinimumNodeSize < 2 {
		return errors.Wrapf(ErrInvalidNodeSize, "got %d", o.MinimumNodeSize)
	}

	if o.CacheSize < 0 {
		o.CacheSize = 0
	}

	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}

	if o.MinRegionSize == 0 {
		o.MinRegionSize = DefaultMinRegionSize
	}

	if o.CheckpointThreshold <= 0 {
		o.CheckpointThreshold = DefaultCheckpointThreshold
	}

	if o.WriteConcurrency <= 0 {
		o.WriteConcurrency = DefaultWriteConcurrency
	}

	if o.MaxFileSize > 0 && o.MaxFileSize < DataStart {
		return errors.Wrapf(ErrFileTooSmall, "maximum file size %d below %d", o.MaxFileSize, DataStart)
	}
	if o.MaxFileSize > 0 && o.MinFileSize > o.MaxFileSize {
		return errors.Newf("minimum file size %d above maximum %d", o.MinFileSize, o.MaxFileSize)
	}

	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}

	if o.openFile == nil {
		o.openFile = func(path string, flag int, perm os.FileMode) (file, error) {
			return os.OpenFile(path, flag, perm)
		}
	}
	return nil
}

func (o Options) directoryOptions() directory.Options {
	return directory.Options{
		MinimumNodeSize: o.MinimumNodeSize,
		CacheSize:       o.CacheSize,
		Retention:       o.Retention,
	}
}

// WithMinimumNodeSize sets the directory minimum degree.
func (o Options) WithMinimumNodeSize(t int) Options {
	o.MinimumNodeSize = t
	return o
}

// WithCacheSize sets the demoted page cache size.
func (o Options) WithCacheSize(pages int64) Options {
	o.CacheSize = pages
	return o
}

// WithRetention sets the page retention.
func (o Options) WithRetention(flushes int) Options {
	o.Retention = flushes
	return o
}

// WithFileSizeBounds sets the minimum and maximum file size.
func (o Options) WithFileSizeBounds(min, max uint64) Options {
	o.MinFileSize = min
	o.MaxFileSize = max
	return o
}

// WithCheckpointThreshold sets the flush request threshold.
func (o Options) WithCheckpointThreshold(bytes int64) Options {
	o.CheckpointThreshold = bytes
	return o
}

// WithFlushInterval enables periodic flushes.
func (o Options) WithFlushInterval(interval time.Duration) Options {
	o.FlushInterval = interval
	return o
}

// WithRecovery opens the store in recovery mode.
func (o Options) WithRecovery(recovery bool) Options {
	o.Recovery = recovery
	return o
}

// WithSyncWrites enables an fsync after every flush phase.
func (o Options) WithSyncWrites(sync bool) Options {
	o.SyncWrites = sync
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(logger logging.Logger) Options {
	o.Logger = logger
	return o
}

// WithOnShutdown sets the shutdown callback.
func (o Options) WithOnShutdown(fn func(error)) Options {
	o.OnShutdown = fn
	return o
}

// WithWriteConcurrency sets the payload write concurrency.
func (o Options) WithWriteConcurrency(n int) Options {
	o.WriteConcurrency = n
	return o
}
