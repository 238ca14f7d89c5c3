package storage

import (
	"context"
	"slices"
	"time"

	"github.com/KilimcininKorOglu/objstore/internal/logging"
	"github.com/KilimcininKorOglu/objstore/internal/storage/directory"
	"github.com/KilimcininKorOglu/objstore/internal/storage/freespace"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// FlushState is the phase a flush is in.
type FlushState int32

// Flush phases, in order.
const (
	FlushIdle FlushState = iota
	FlushDraining
	FlushReserving
	FlushWriting
	FlushCommitting
	FlushReleasing
)

// String returns the phase name.
func (s FlushState) String() string {
	switch s {
	case FlushIdle:
		return "idle"
	case FlushDraining:
		return "draining"
	case FlushReserving:
		return "reserving"
	case FlushWriting:
		return "writing"
	case FlushCommitting:
		return "committing"
	case FlushReleasing:
		return "releasing"
	default:
		return "unknown"
	}
}

// FlushState returns the phase of the running flush, FlushIdle if none.
func (s *Store) FlushState() FlushState {
	return FlushState(s.state.Load())
}

func (s *Store) setState(state FlushState) {
	s.state.Store(int32(state))
}

// payloadWrite is a staged payload with the region it was given.
type payloadWrite struct {
	id     uint64
	extent freespace.Extent
	frame  []byte
}

// flushPlan is what a flush changes. Nothing in it is visible on disk until
// the header is committed.
type flushPlan struct {
	ops      map[uint64]stagedOp
	reserved int64

	// Allocator state before the flush, restored on abandon.
	regions []freespace.Extent
	end     uint64

	writes  []payloadWrite
	release []freespace.Extent

	mapExtent freespace.Extent
	mapImage  []freespace.Extent
}

// Flush makes every operation staged before the call durable. Staged
// payloads and the changed directory pages are written to free regions,
// the file is synced, and a new header is written to both slots in turn.
// Regions that the previous generation used are freed only after the new
// header is on disk.
//
// A failure before the header write abandons the flush: the staged
// operations are kept for the next attempt. A failure while writing the
// header fails the store.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Store) flushLocked(ctx context.Context) error {
	if err := s.failure(); err != nil {
		return err
	}
	if pending, _ := s.staging.counts(); pending == 0 && !s.boundsDirty {
		return nil
	}

	log := s.log.WithOperationID(logging.GenerateOperationID())
	start := time.Now()
	defer s.setState(FlushIdle)

	s.setState(FlushDraining)
	s.dirMu.Lock()
	ops, dirReserved := s.staging.drain()
	s.dirMu.Unlock()
	plan := &flushPlan{
		ops:      ops,
		reserved: dirReserved,
		regions:  s.alloc.Regions(),
		end:      s.alloc.End(),
	}
	for _, op := range plan.ops {
		plan.reserved += op.reserved
	}
	log.Debug("flush started", "operations", len(plan.ops), "reserved", plan.reserved)

	if err := s.apply(plan); err != nil {
		return s.abandon(log, plan, err)
	}

	s.setState(FlushReserving)
	pages, err := s.reserve(plan)
	if err != nil {
		return s.abandon(log, plan, err)
	}

	s.setState(FlushWriting)
	written, err := s.writeGeneration(ctx, plan)
	if err != nil {
		return s.abandon(log, plan, err)
	}

	s.setState(FlushCommitting)
	if err := s.commit(plan); err != nil {
		return err
	}

	s.setState(FlushReleasing)
	s.releaseMu.Lock()
	err = s.alloc.Release(plan.release)
	s.releaseMu.Unlock()
	if err != nil {
		// The header is committed; an allocator that disagrees with it can
		// no longer be trusted.
		return s.fail(classify(err))
	}

	s.staging.finish()
	s.boundsDirty = false
	_ = s.admission.reserve(-plan.reserved)

	elapsed := time.Since(start)
	s.stats.flushes.Add(1)
	s.stats.bytesWritten.Add(written)
	s.stats.lastFlushNanos.Store(int64(elapsed))
	s.stats.totalFlushNanos.Add(int64(elapsed))
	log.Info("flush committed",
		"sequence", s.header.Sequence,
		"operations", len(plan.ops),
		"pages", pages,
		"written", written,
		"released", len(plan.release),
		"duration", elapsed)
	return nil
}

// apply puts the drained operations into the directory and gives every
// payload a region. Replaced and deleted regions are only scheduled for
// release.
func (s *Store) apply(plan *flushPlan) error {
	ids := make([]uint64, 0, len(plan.ops))
	for id := range plan.ops {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	for _, id := range ids {
		op := plan.ops[id]
		if op.deleted {
			old, found, err := s.dir.Delete(id)
			if err != nil {
				return classify(err)
			}
			if found {
				plan.release = append(plan.release, old.Extent())
			}
			continue
		}

		frame := encodeObject(op.payload)
		ext, err := s.alloc.Allocate(uint64(len(frame)))
		if err != nil {
			return errors.Wrapf(classify(err), "object %d", id)
		}
		old, replaced, err := s.dir.Put(directory.StoreArea{Identifier: id, Address: ext.Address, Length: ext.Length})
		if err != nil {
			return classify(err)
		}
		if replaced {
			plan.release = append(plan.release, old.Extent())
		}
		plan.writes = append(plan.writes, payloadWrite{id: id, extent: ext, frame: frame})
	}
	return nil
}

// reserve gives the changed directory pages and the free space map their
// regions. The map describes the free space as it will be after the
// release, so it is sized for the worst case before its own allocation.
func (s *Store) reserve(plan *flushPlan) (int, error) {
	s.dirMu.Lock()
	pages, err := s.dir.ReserveSpace(s.alloc)
	if err == nil {
		plan.release = append(plan.release, s.dir.TakeObsolete()...)
	}
	s.dirMu.Unlock()
	if err != nil {
		return 0, classify(err)
	}

	if s.header.FreeSpaceMap.Length > 0 {
		plan.release = append(plan.release, s.header.FreeSpaceMap)
	}

	count := s.alloc.Count() + len(plan.release)
	if count > 0 {
		ext, err := s.alloc.Allocate(freespace.MapSize(count))
		if err != nil {
			return pages, errors.Wrap(classify(err), "free space map")
		}
		plan.mapExtent = ext
	}
	plan.mapImage = s.alloc.Image(plan.release)
	if len(plan.mapImage) > count {
		return pages, errors.AssertionFailedf("free space map of %d entries sized for %d", len(plan.mapImage), count)
	}
	return pages, nil
}

// writeGeneration writes payloads, directory pages and the map to their new
// regions and syncs the file. It returns the number of bytes written.
func (s *Store) writeGeneration(ctx context.Context, plan *flushPlan) (uint64, error) {
	if err := s.file.Grow(s.alloc.End(), s.minFileSize, s.alloc.Max()); err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WriteConcurrency)
	var written uint64
	for _, w := range plan.writes {
		written += uint64(len(w.frame))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := s.file.WriteAt(w.frame, int64(w.extent.Address))
			return errors.Wrapf(err, "object %d", w.id)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if s.opts.SyncWrites {
		if err := s.file.Sync(); err != nil {
			return 0, err
		}
	}

	s.dirMu.Lock()
	_, pageBytes, err := s.dir.Write(s.file)
	s.dirMu.Unlock()
	if err != nil {
		return 0, err
	}
	written += pageBytes

	if plan.mapExtent.Length > 0 {
		buf := make([]byte, plan.mapExtent.Length)
		freespace.Encode(buf, plan.mapImage)
		if _, err := s.file.WriteAt(buf, int64(plan.mapExtent.Address)); err != nil {
			return 0, errors.Wrap(err, "free space map")
		}
		written += uint64(len(buf))
	}

	// Everything the new header references must be durable before either
	// slot points at it.
	if err := s.file.Sync(); err != nil {
		return 0, err
	}
	return written, nil
}

// commit writes the new header to each slot in turn. Once the first slot
// write has started the previous generation may be gone, so any failure
// here is fatal.
func (s *Store) commit(plan *flushPlan) error {
	h := s.header
	s.dirMu.Lock()
	h.DirectoryRoot = s.dir.Root()
	h.ObjectCount = uint64(s.dir.Len())
	s.dirMu.Unlock()
	h.FreeSpaceMap = plan.mapExtent
	h.FreeSpaceCount = uint64(len(plan.mapImage))
	h.Sequence++
	h.UsedBytes = s.alloc.End()
	h.MinFileSize = s.minFileSize
	h.MaxFileSize = s.alloc.Max()

	buf := h.Serialize()
	for slot := range HeaderSlots {
		if _, err := s.file.WriteAt(buf, slotOffset(slot)); err != nil {
			return s.fail(errors.Wrapf(err, "write header slot %d", slot))
		}
		if err := s.file.Sync(); err != nil {
			return s.fail(errors.Wrapf(err, "sync header slot %d", slot))
		}
	}

	s.header = h
	s.sequence.Store(h.Sequence)
	return nil
}

// abandon throws away the in-memory effects of a failed flush: the
// directory is reopened from the committed root, the allocator is put back
// and the drained operations are staged again.
func (s *Store) abandon(log logging.Logger, plan *flushPlan, cause error) error {
	s.stats.abandoned.Add(1)

	s.dirMu.Lock()
	s.dir.Close()
	dir, err := directory.Open(s.file, s.header.DirectoryRoot, int(s.header.ObjectCount), s.opts.directoryOptions())
	if err == nil {
		s.dir = dir
	}
	s.dirMu.Unlock()

	if err == nil {
		err = s.alloc.Load(plan.regions, plan.end)
	}

	if superseded := s.staging.restore(); superseded > 0 {
		_ = s.admission.reserve(-superseded)
	}

	if err != nil {
		return s.fail(errors.CombineErrors(cause, errors.Wrap(err, "reload after abandoned flush")))
	}
	if isPermanent(cause) {
		return s.fail(cause)
	}

	log.Warn("flush abandoned", "error", cause, "operations", len(plan.ops))
	return errors.Wrap(cause, "flush abandoned")
}
