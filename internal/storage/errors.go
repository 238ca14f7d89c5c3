package storage

import (
	"os"
	"syscall"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/KilimcininKorOglu/objstore/internal/storage/directory"
	"github.com/KilimcininKorOglu/objstore/internal/storage/freespace"
	"github.com/cockroachdb/errors"
)

// Capacity errors.
var (
	// ErrStoreFull is returned when a reservation or an allocation cannot be
	// satisfied within the maximum file size.
	ErrStoreFull = errors.New("store full")

	// ErrFileTooSmall is returned when a maximum file size below the current
	// contents is requested.
	ErrFileTooSmall = errors.New("file size too small for current contents")
)

// I/O errors. Errors returned from file operations are marked with one of
// the first two so callers can tell them apart with errors.Is.
var (
	ErrTransientIO = errors.New("transient I/O failure")
	ErrPermanentIO = errors.New("permanent I/O failure")

	// ErrStoreFailed is returned by every operation once a permanent failure
	// has been seen.
	ErrStoreFailed = errors.New("store failed")
)

// Format errors.
var (
	ErrBadSignature       = errors.New("bad file signature: not an object store")
	ErrCorrupted          = errors.New("store data corrupted")
	ErrUnsupportedVersion = errors.New("unsupported file format version")
)

// Usage errors.
var (
	ErrInvalidNodeSize = btree.ErrInvalidNodeSize
	ErrClosed          = errors.New("store closed")
	ErrObjectExists    = errors.New("object already exists")
	ErrObjectNotFound  = errors.New("object not found")
	ErrStoreMissing    = errors.New("store file missing")
)

// isPermanent reports whether err means the file can no longer be trusted.
func isPermanent(err error) bool {
	return errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, syscall.EBADF) ||
		errors.Is(err, ErrPermanentIO)
}

// ioError wraps a failed file operation and marks it transient or
// permanent. A full device is reported as ErrStoreFull.
func ioError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrapf(err, format, args...)
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return errors.Mark(errors.Mark(wrapped, ErrTransientIO), ErrStoreFull)
	case isPermanent(err):
		return errors.Mark(wrapped, ErrPermanentIO)
	default:
		return errors.Mark(wrapped, ErrTransientIO)
	}
}

// classify maps errors from the index and allocator packages onto the
// store's taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, freespace.ErrExhausted):
		return errors.Mark(err, ErrStoreFull)
	case errors.Is(err, freespace.ErrBelowEnd):
		return errors.Mark(err, ErrFileTooSmall)
	case errors.Is(err, directory.ErrCorruptPage),
		errors.Is(err, freespace.ErrMapTruncated),
		errors.Is(err, freespace.ErrOverlap),
		errors.Is(err, freespace.ErrInconsistent):
		return errors.Mark(err, ErrCorrupted)
	case errors.Is(err, ErrTransientIO), errors.Is(err, ErrPermanentIO):
		return err
	case isPermanent(err):
		return errors.Mark(err, ErrPermanentIO)
	}
	return err
}
