package storage

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

type counters struct {
	adds            atomic.Uint64
	replaces        atomic.Uint64
	removes         atomic.Uint64
	gets            atomic.Uint64
	flushes         atomic.Uint64
	abandoned       atomic.Uint64
	bytesWritten    atomic.Uint64
	lastFlushNanos  atomic.Int64
	totalFlushNanos atomic.Int64
}

// Stats is a point-in-time view of the store.
type Stats struct {
	State    FlushState
	Sequence uint64
	Objects  int

	UsedBytes      uint64
	AllocatedBytes uint64
	FreeBytes      uint64
	FreeRegions    int
	Reserved       int64

	Pending  int
	Inflight int

	Adds     uint64
	Replaces uint64
	Removes  uint64
	Gets     uint64

	Flushes          uint64
	AbandonedFlushes uint64
	BytesWritten     uint64
	LastFlush        time.Duration
	TotalFlush       time.Duration

	PacedWaits uint64
	Rejections uint64

	PageLoads     uint64
	CacheHits     uint64
	ResidentPages int
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	st := Stats{
		State:            s.FlushState(),
		Sequence:         s.sequence.Load(),
		UsedBytes:        s.alloc.End(),
		AllocatedBytes:   s.file.Size(),
		FreeBytes:        s.alloc.FreeBytes(),
		FreeRegions:      s.alloc.Count(),
		Adds:             s.stats.adds.Load(),
		Replaces:         s.stats.replaces.Load(),
		Removes:          s.stats.removes.Load(),
		Gets:             s.stats.gets.Load(),
		Flushes:          s.stats.flushes.Load(),
		AbandonedFlushes: s.stats.abandoned.Load(),
		BytesWritten:     s.stats.bytesWritten.Load(),
		LastFlush:        time.Duration(s.stats.lastFlushNanos.Load()),
		TotalFlush:       time.Duration(s.stats.totalFlushNanos.Load()),
	}
	st.Pending, st.Inflight = s.staging.counts()
	st.Reserved, st.PacedWaits, st.Rejections = s.admission.snapshot()

	s.dirMu.Lock()
	ds := s.dir.Stats()
	st.Objects = s.dir.Len()
	s.dirMu.Unlock()
	st.PageLoads, st.CacheHits, st.ResidentPages = ds.PageLoads, ds.CacheHits, ds.ResidentPages
	return st
}

// String formats the stats for humans.
func (st Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sequence:        %d (%s)\n", st.Sequence, st.State)
	fmt.Fprintf(&b, "objects:         %s\n", humanize.Comma(int64(st.Objects)))
	fmt.Fprintf(&b, "used:            %s of %s allocated\n", humanize.IBytes(st.UsedBytes), humanize.IBytes(st.AllocatedBytes))
	fmt.Fprintf(&b, "free:            %s in %d regions\n", humanize.IBytes(st.FreeBytes), st.FreeRegions)
	fmt.Fprintf(&b, "reserved:        %s\n", humanize.IBytes(uint64(max(st.Reserved, 0))))
	fmt.Fprintf(&b, "staged:          %d pending, %d in flight\n", st.Pending, st.Inflight)
	fmt.Fprintf(&b, "operations:      %d adds, %d replaces, %d removes, %d gets\n", st.Adds, st.Replaces, st.Removes, st.Gets)
	fmt.Fprintf(&b, "flushes:         %d (%d abandoned), %s written, last took %s, %s in total\n",
		st.Flushes, st.AbandonedFlushes, humanize.IBytes(st.BytesWritten), st.LastFlush, st.TotalFlush)
	fmt.Fprintf(&b, "admission:       %d paced waits, %d rejections\n", st.PacedWaits, st.Rejections)
	fmt.Fprintf(&b, "directory pages: %d resident, %d loads, %d cache hits\n", st.ResidentPages, st.PageLoads, st.CacheHits)
	return b.String()
}
