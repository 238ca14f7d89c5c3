package storage

import (
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
)

// file is the subset of *os.File the store needs.
type file interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

// dataFile serializes raw access to the store file. Reads share the lock;
// a write holds it exclusively for the duration of the write call only.
type dataFile struct {
	mu   sync.RWMutex
	f    file
	size uint64
}

func openDataFile(path string, opts Options, create bool) (*dataFile, bool, error) {
	_, err := os.Stat(path)
	exists := err == nil
	if !exists && !errors.Is(err, os.ErrNotExist) {
		return nil, false, ioError(err, "stat %s", path)
	}
	if !exists && !create {
		return nil, false, errors.Wrapf(ErrStoreMissing, "%s", path)
	}

	flags := os.O_RDWR
	if !exists {
		flags |= os.O_CREATE
	}
	f, err := opts.openFile(path, flags, 0644)
	if err != nil {
		return nil, false, ioError(err, "open %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, ioError(err, "stat %s", path)
	}

	return &dataFile{f: f, size: uint64(info.Size())}, exists && info.Size() > 0, nil
}

// ReadAt reads from the file under the shared lock.
func (d *dataFile) ReadAt(p []byte, off int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.f.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, ioError(err, "read %d bytes at %d", len(p), off)
	}
	return n, err
}

// WriteAt writes to the file under the exclusive lock.
func (d *dataFile) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.f.WriteAt(p, off)
	if end := uint64(off) + uint64(n); end > d.size {
		d.size = end
	}
	if err != nil {
		return n, ioError(err, "write %d bytes at %d", len(p), off)
	}
	return n, nil
}

// Sync forces written data to stable storage.
func (d *dataFile) Sync() error {
	return ioError(d.f.Sync(), "sync")
}

// Grow extends the file so that it holds at least end bytes, rounding up
// to GrowthChunk and to floor, but never past limit when limit is set.
func (d *dataFile) Grow(end, floor, limit uint64) error {
	target := max(roundUp(end, GrowthChunk), floor)
	if limit > 0 && target > limit {
		target = max(limit, end)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if target <= d.size {
		return nil
	}
	if err := d.f.Truncate(int64(target)); err != nil {
		return ioError(err, "grow file to %d bytes", target)
	}
	d.size = target
	return nil
}

// Size returns the physical file size.
func (d *dataFile) Size() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.size
}

// Close syncs and closes the file.
func (d *dataFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	syncErr := d.f.Sync()
	closeErr := d.f.Close()
	if syncErr != nil {
		return ioError(syncErr, "sync on close")
	}
	return ioError(closeErr, "close")
}

func roundUp(n, to uint64) uint64 {
	return (n + to - 1) / to * to
}
