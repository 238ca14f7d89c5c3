package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/objstore/internal/logging"
	"github.com/KilimcininKorOglu/objstore/internal/storage/directory"
	"github.com/KilimcininKorOglu/objstore/internal/storage/freespace"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Store is a persistent object store held in a single file.
//
// Lock order: flushMu, releaseMu, dirMu. The staging and admission locks
// are leaves.
type Store struct {
	path string
	opts Options
	log  logging.Logger

	file *dataFile

	// flushMu serializes flushes and file resizes. header is the last
	// committed header.
	flushMu     sync.Mutex
	header      FileHeader
	minFileSize uint64
	boundsDirty bool

	dirMu sync.Mutex
	dir   *directory.Directory

	alloc *freespace.Allocator

	// releaseMu is held shared by readers of payload regions and
	// exclusively while regions are returned to the allocator.
	releaseMu sync.RWMutex

	staging   *staging
	admission *admission

	state    atomic.Int32
	sequence atomic.Uint64
	closed   atomic.Bool
	failOnce sync.Once
	failErr  atomic.Pointer[error]

	flushReq chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup

	stats counters
}

// Open opens the store at path, creating an empty one when the file is
// missing or empty. In recovery mode the store must already exist.
func Open(path string, opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	df, existing, err := openDataFile(path, opts, !opts.Recovery)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:     path,
		opts:     opts,
		log:      opts.Logger.WithFields("store", path),
		file:     df,
		staging:  newStaging(),
		flushReq: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	switch {
	case existing:
		err = s.load()
	case opts.Recovery:
		err = errors.Wrapf(ErrStoreMissing, "%s is empty", path)
	default:
		err = s.initialize()
	}
	if err != nil {
		df.Close()
		return nil, err
	}

	s.sequence.Store(s.header.Sequence)
	s.admission = newAdmission(opts.CheckpointThreshold, opts.Recovery, s.alloc.Available, s.RequestFlush)

	s.wg.Add(1)
	go s.flushLoop()

	s.log.Info("store opened",
		"sequence", s.header.Sequence,
		"objects", s.header.ObjectCount,
		"used", s.header.UsedBytes,
		"recovery", opts.Recovery)
	return s, nil
}

// initialize writes the headers of an empty store.
func (s *Store) initialize() error {
	id := uuid.New()
	h := NewFileHeader(binary.BigEndian.Uint64(id[:8]), s.opts.MinimumNodeSize, s.opts.CacheSize)
	h.MinFileSize = s.opts.MinFileSize
	h.MaxFileSize = s.opts.MaxFileSize
	h.Sequence = 1

	if err := s.file.Grow(DataStart, h.MinFileSize, h.MaxFileSize); err != nil {
		return err
	}
	buf := h.Serialize()
	for slot := range HeaderSlots {
		if _, err := s.file.WriteAt(buf, slotOffset(slot)); err != nil {
			return err
		}
	}
	if err := s.file.Sync(); err != nil {
		return err
	}

	dir, err := directory.New(s.file, s.opts.directoryOptions())
	if err != nil {
		return err
	}

	s.header = *h
	s.minFileSize = h.MinFileSize
	s.alloc = freespace.New(DataStart, h.MaxFileSize, s.opts.MinRegionSize)
	s.dir = dir
	s.log.Info("store created", "id", id.String(), "minimumNodeSize", h.MinimumNodeSize)
	return nil
}

// load reads the newest valid header and rebuilds the allocator and the
// directory from it.
func (s *Store) load() error {
	h, stale, err := s.readHeader()
	if err != nil {
		return err
	}

	// The node size and bounds are properties of the file.
	s.opts.MinimumNodeSize = int(h.MinimumNodeSize)

	regions, err := s.readFreeSpaceMap(h)
	if err != nil {
		return err
	}
	alloc := freespace.New(h.UsedBytes, h.MaxFileSize, s.opts.MinRegionSize)
	if err := alloc.Load(regions, h.UsedBytes); err != nil {
		return classify(err)
	}

	dir, err := directory.Open(s.file, h.DirectoryRoot, int(h.ObjectCount), s.opts.directoryOptions())
	if err != nil {
		return classify(err)
	}

	s.header = *h
	s.minFileSize = h.MinFileSize
	s.alloc = alloc
	s.dir = dir

	// Both slots must hold the chosen header before anything in the file
	// is reused, or a torn write of the next commit could expose an older
	// generation.
	for _, slot := range stale {
		s.log.Warn("repairing header slot", "slot", slot, "sequence", h.Sequence)
		if _, err := s.file.WriteAt(h.Serialize(), slotOffset(slot)); err != nil {
			dir.Close()
			return err
		}
	}
	if len(stale) > 0 {
		if err := s.file.Sync(); err != nil {
			dir.Close()
			return err
		}
	}
	return nil
}

// readHeader returns the valid header with the highest sequence number and
// the slots that do not hold it.
func (s *Store) readHeader() (*FileHeader, []int, error) {
	var (
		best     *FileHeader
		bestSlot int
		valid    [HeaderSlots]*FileHeader
		errs     [HeaderSlots]error
	)

	for slot := range HeaderSlots {
		buf := make([]byte, PageSize)
		n, err := s.file.ReadAt(buf, slotOffset(slot))
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, err
		}
		h := &FileHeader{}
		if err := h.DeserializeAndValidate(buf[:n]); err != nil {
			errs[slot] = err
			s.log.Warn("invalid header slot", "slot", slot, "error", err)
			continue
		}
		valid[slot] = h
		if best == nil || h.Sequence > best.Sequence {
			best, bestSlot = h, slot
		}
	}

	if best == nil {
		for _, err := range errs {
			if !errors.Is(err, ErrBadSignature) {
				return nil, nil, errors.Mark(errors.Wrap(err, "no valid header"), ErrCorrupted)
			}
		}
		return nil, nil, errors.Wrap(ErrBadSignature, s.path)
	}

	var stale []int
	for slot, h := range valid {
		if slot != bestSlot && (h == nil || h.Sequence != best.Sequence) {
			stale = append(stale, slot)
		}
	}
	s.log.Debug("header loaded", "slot", bestSlot, "sequence", best.Sequence)
	return best, stale, nil
}

func (s *Store) readFreeSpaceMap(h *FileHeader) ([]freespace.Extent, error) {
	if h.FreeSpaceCount == 0 {
		return nil, nil
	}
	buf := make([]byte, freespace.MapSize(int(h.FreeSpaceCount)))
	if _, err := s.file.ReadAt(buf, int64(h.FreeSpaceMap.Address)); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read free space map"), ErrCorrupted)
	}
	regions, err := freespace.Decode(buf, h.FreeSpaceCount)
	return regions, classify(err)
}

// =============================================================================
// Objects
// =============================================================================

type putMode int

const (
	modeAdd putMode = iota
	modeReplace
)

// Add stages a new object. It fails with ErrObjectExists when id is already
// present. With durable set the call returns after a flush has persisted
// the object; otherwise it may wait for admission pacing.
func (s *Store) Add(id uint64, payload []byte, durable bool) error {
	return s.put(id, payload, durable, modeAdd)
}

// Replace stages a new payload for an existing object.
func (s *Store) Replace(id uint64, payload []byte, durable bool) error {
	return s.put(id, payload, durable, modeReplace)
}

func (s *Store) put(id uint64, payload []byte, durable bool, mode putMode) error {
	if err := s.usable(); err != nil {
		return err
	}
	if uint64(len(payload)) > MaxObjectSize {
		return errors.Newf("object %d: payload of %d bytes exceeds %d", id, len(payload), uint64(MaxObjectSize))
	}

	exists, err := s.Contains(id)
	if err != nil {
		return err
	}
	switch {
	case mode == modeAdd && exists:
		return errors.Wrapf(ErrObjectExists, "object %d", id)
	case mode == modeReplace && !exists:
		return errors.Wrapf(ErrObjectNotFound, "object %d", id)
	}

	op := stagedOp{payload: bytes.Clone(payload), reserved: s.reservationFor(len(payload))}
	if err := s.stage(id, op); err != nil {
		return err
	}

	if mode == modeAdd {
		s.stats.adds.Add(1)
	} else {
		s.stats.replaces.Add(1)
	}
	return s.settle(durable)
}

// Remove stages the deletion of an object.
func (s *Store) Remove(id uint64, durable bool) error {
	if err := s.usable(); err != nil {
		return err
	}

	exists, err := s.Contains(id)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(ErrObjectNotFound, "object %d", id)
	}

	if err := s.stage(id, stagedOp{deleted: true, reserved: s.reservationFor(0)}); err != nil {
		return err
	}

	s.stats.removes.Add(1)
	return s.settle(durable)
}

func (s *Store) settle(durable bool) error {
	if durable {
		return s.Flush(context.Background())
	}
	s.admission.pace()
	return nil
}

// stage reserves space for op and stages it. The pending set's directory
// reservation is topped up to what rewriting the directory takes once the
// pending and in-flight operations are all in it. dirMu keeps a drain from
// slipping between the top-up and the stage.
func (s *Store) stage(id uint64, op stagedOp) error {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	pending, inflight, held := s.staging.charges()
	dir := max(s.directoryReservation(pending+inflight+1)-held, 0)
	if err := s.admission.reserve(op.reserved + dir); err != nil {
		return err
	}
	if superseded := s.staging.stage(id, op, dir); superseded > 0 {
		_ = s.admission.reserve(-superseded)
	}
	return nil
}

// reservationFor returns the space a staged payload of n bytes may need
// outside the directory: its frame and two free space map entries, one for
// the region it replaces and one for a split free region.
func (s *Store) reservationFor(n int) int64 {
	return int64(framedSize(n) + 2*freespace.EntrySize)
}

// directoryReservation returns the space a flush may need for the directory
// after extra more entries: SpaceRequired plus a free space map entry for
// the region each rewritten page vacates. Callers hold dirMu.
func (s *Store) directoryReservation(extra int) int64 {
	need := s.dir.SpaceRequired(extra)
	pages := need / directory.MaxPageSize(s.opts.MinimumNodeSize)
	return int64(need + pages*freespace.EntrySize)
}

// Reserve adjusts the outstanding space reservation by delta on behalf of a
// collaborator. A positive delta that cannot be satisfied fails with
// ErrStoreFull; with paced set the call also waits while the reservation is
// above the checkpoint threshold.
func (s *Store) Reserve(delta int64, paced bool) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.admission.reserve(delta); err != nil {
		return err
	}
	if paced && delta > 0 {
		s.admission.pace()
	}
	return nil
}

// Get returns the payload of an object, including staged changes.
func (s *Store) Get(id uint64) ([]byte, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	s.stats.gets.Add(1)

	s.releaseMu.RLock()
	defer s.releaseMu.RUnlock()

	area, op, staged, found, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrObjectNotFound, "object %d", id)
	}
	if staged {
		return bytes.Clone(op.payload), nil
	}

	buf := make([]byte, area.Length)
	n, err := s.file.ReadAt(buf, int64(area.Address))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, s.noteIOError(err)
	}
	payload, err := decodeObject(buf[:n])
	if err != nil {
		return nil, errors.Wrapf(err, "object %d", id)
	}
	return payload, nil
}

// Contains reports whether an object exists, including staged changes.
func (s *Store) Contains(id uint64) (bool, error) {
	if err := s.usable(); err != nil {
		return false, err
	}
	_, _, _, found, err := s.locate(id)
	return found, err
}

// locate finds id among staged operations and then in the directory. The
// staged sets are consulted under dirMu so that an entry a running flush
// has already applied is never read before its payload is written.
func (s *Store) locate(id uint64) (directory.StoreArea, stagedOp, bool, bool, error) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	if op, ok := s.staging.lookup(id); ok {
		return directory.StoreArea{}, op, true, !op.deleted, nil
	}
	area, found, err := s.dir.Get(id)
	if err != nil {
		return area, stagedOp{}, false, false, s.noteIOError(classify(err))
	}
	return area, stagedOp{}, false, found, nil
}

// Len returns the number of objects in the directory. Staged changes are
// counted once a flush has applied them.
func (s *Store) Len() int {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	return s.dir.Len()
}

// Identifiers returns the identifiers in the directory in ascending order.
func (s *Store) Identifiers() ([]uint64, error) {
	ids := make([]uint64, 0, s.Len())
	err := s.Ascend(func(id, _ uint64) bool {
		ids = append(ids, id)
		return true
	})
	return ids, err
}

// Ascend calls fn with the identifier and region size of every object in
// the directory in ascending order until fn returns false.
func (s *Store) Ascend(fn func(id, size uint64) bool) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	err := s.dir.Ascend(func(a directory.StoreArea) bool {
		return fn(a.Identifier, a.Length)
	})
	return s.noteIOError(classify(err))
}

// =============================================================================
// Administration
// =============================================================================

// SetFileSizeBounds changes the minimum and maximum file size. A maximum
// below the used size fails with ErrFileTooSmall. The bounds are written
// with the next flush.
func (s *Store) SetFileSizeBounds(minSize, maxSize uint64) error {
	if err := s.usable(); err != nil {
		return err
	}
	if maxSize > 0 && minSize > maxSize {
		return errors.Newf("minimum file size %d above maximum %d", minSize, maxSize)
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if end := s.alloc.End(); maxSize > 0 && maxSize < end {
		return errors.Wrapf(ErrFileTooSmall, "maximum %d below used size %d", maxSize, end)
	}
	if err := s.alloc.SetMax(maxSize); err != nil {
		return classify(err)
	}
	s.minFileSize = minSize
	if err := s.file.Grow(s.alloc.End(), minSize, maxSize); err != nil {
		return s.noteIOError(err)
	}
	s.boundsDirty = true
	s.log.Info("file size bounds changed", "min", minSize, "max", maxSize)
	return nil
}

// UsedBytes returns the end of the used area of the file.
func (s *Store) UsedBytes() uint64 {
	return s.alloc.End()
}

// AllocatedBytes returns the physical size of the file.
func (s *Store) AllocatedBytes() uint64 {
	return s.file.Size()
}

// EndRecovery leaves recovery mode: from now on reservations are paced and
// may be rejected.
func (s *Store) EndRecovery() {
	s.admission.setReplaying(false)
	s.log.Info("recovery finished")
}

// RequestFlush asks the background flusher to run a flush soon.
func (s *Store) RequestFlush() {
	select {
	case s.flushReq <- struct{}{}:
	default:
	}
}

func (s *Store) flushLoop() {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.opts.FlushInterval > 0 {
		ticker := time.NewTicker(s.opts.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.stop:
			return
		case <-tick:
		case <-s.flushReq:
		}
		if err := s.Flush(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Warn("background flush failed", "error", err)
		}
	}
}

// Close flushes staged work, stops the background flusher and closes the
// file.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(s.stop)
	s.wg.Wait()

	var err error
	if s.failure() == nil {
		s.flushMu.Lock()
		err = s.flushLocked(context.Background())
		s.flushMu.Unlock()
	}

	s.admission.close()
	s.dirMu.Lock()
	s.dir.Close()
	s.dirMu.Unlock()

	if cerr := s.file.Close(); cerr != nil {
		err = errors.CombineErrors(err, cerr)
	}
	s.log.Info("store closed", "sequence", s.sequence.Load())
	return err
}

// Path returns the file path of the store.
func (s *Store) Path() string {
	return s.path
}

// StoreID returns the identifier written when the store was created.
func (s *Store) StoreID() uint64 {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.header.StoreID
}

// =============================================================================
// Failure handling
// =============================================================================

func (s *Store) usable() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.failure()
}

func (s *Store) failure() error {
	if p := s.failErr.Load(); p != nil {
		return errors.Mark(*p, ErrStoreFailed)
	}
	return nil
}

// fail puts the store into the failed state and requests a shutdown.
func (s *Store) fail(err error) error {
	s.failOnce.Do(func() {
		s.failErr.Store(&err)
		s.log.Error("store failed", "error", err)
		if s.admission != nil {
			s.admission.close()
		}
		if s.opts.OnShutdown != nil {
			go s.opts.OnShutdown(err)
		}
	})
	return errors.Mark(err, ErrStoreFailed)
}

// noteIOError fails the store on permanent I/O errors and returns err.
func (s *Store) noteIOError(err error) error {
	if err != nil && isPermanent(err) {
		return s.fail(err)
	}
	return err
}
