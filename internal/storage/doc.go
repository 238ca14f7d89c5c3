// Package storage implements a persistent object store: variable-length
// payloads addressed by 64-bit identifiers, kept in a single file that is
// never left inconsistent by a crash.
//
// # File Layout
//
// The file starts with two header slots of PageSize bytes each. Both hold
// the same FileHeader once a flush has completed; the slot with the highest
// valid sequence number wins when they differ. Everything after DataStart
// is carved into regions by the free space allocator:
//
//   - object payloads, framed with their length and a CRC-32
//   - directory pages, the nodes of a B-tree keyed by identifier
//   - the free space map, the list of free regions at commit time
//   - free regions
//
// # Flushes
//
// Add, Replace and Remove only stage work in memory. A flush writes staged
// payloads and every changed directory page to free regions, never over
// data the committed header references, then writes the new header to
// slot 0 and slot 1 with a sync after each. The regions the previous
// generation used are freed only after that:
//
//	s, err := storage.Open("objects.db", storage.DefaultStoreOptions())
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if err := s.Add(42, payload, false); err != nil {
//	    return err
//	}
//	if err := s.Flush(ctx); err != nil {
//	    return err
//	}
//
// Flushes run on request, when outstanding reservations cross
// CheckpointThreshold, on FlushInterval, for durable writes and on Close.
//
// # Admission
//
// Every staged operation reserves a pessimistic estimate of the space its
// flush may need. A reservation that cannot fit the maximum file size is
// rejected with ErrStoreFull; while reservations exceed the checkpoint
// threshold, callers are paced until a flush catches up. Stores opened for
// recovery accept everything until EndRecovery.
//
// # Errors
//
// I/O errors are marked ErrTransientIO or ErrPermanentIO. A failed flush
// that has not touched a header slot is abandoned and its work stays
// staged. A permanent error or a failure during the header write puts the
// store into the failed state: every later call returns ErrStoreFailed and
// Options.OnShutdown is invoked.
package storage
