package storage

import (
	"fmt"
	"io"
	"slices"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/KilimcininKorOglu/objstore/internal/storage/directory"
	"github.com/KilimcininKorOglu/objstore/internal/storage/freespace"
	"github.com/cockroachdb/errors"
)

// Report is the result of Validate.
type Report struct {
	Sequence    uint64
	UsedBytes   uint64
	Objects     int
	Pages       int
	Height      int
	FreeRegions int
	FreeBytes   uint64

	// Problems lists every inconsistency found.
	Problems []string
}

// OK reports whether no problem was found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

func (r *Report) problemf(format string, args ...interface{}) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// span is a used or free part of the file.
type span struct {
	freespace.Extent
	what string
}

// Validate checks the committed generation on disk against itself and
// against the in-memory state. Every byte below the used size must belong
// to exactly one of: the header slots, a directory page, an object
// payload, the free space map or a free region. Payload checksums are
// verified. Staged operations are not considered.
func (s *Store) Validate() (*Report, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	h := s.header
	r := &Report{Sequence: h.Sequence, UsedBytes: h.UsedBytes}
	spans := []span{{Extent: freespace.Extent{Address: 0, Length: DataStart}, what: "header"}}

	err := directory.Walk(s.file, h.DirectoryRoot, int(h.MinimumNodeSize), func(loc btree.Location, page *directory.Page, depth int) error {
		r.Pages++
		r.Height = max(r.Height, depth+1)
		spans = append(spans, span{Extent: freespace.Extent{Address: loc.Address, Length: loc.Length}, what: "page"})
		for _, area := range page.Entries {
			r.Objects++
			spans = append(spans, span{Extent: area.Extent(), what: fmt.Sprintf("object %d", area.Identifier)})
			if err := s.checkPayload(area); err != nil {
				if !errors.Is(err, ErrCorrupted) {
					return err
				}
				r.problemf("object %d: %v", area.Identifier, err)
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, directory.ErrCorruptPage) {
			return nil, s.noteIOError(err)
		}
		r.problemf("directory: %v", err)
	}

	if h.FreeSpaceMap.Length > 0 {
		spans = append(spans, span{Extent: h.FreeSpaceMap, what: "free space map"})
	}

	regions := s.alloc.Regions()
	r.FreeRegions = len(regions)
	for _, e := range regions {
		r.FreeBytes += e.Length
		spans = append(spans, span{Extent: e, what: "free"})
	}

	checkTiling(r, spans, h.UsedBytes)

	onDisk, err := s.readFreeSpaceMap(&h)
	switch {
	case err != nil:
		r.problemf("free space map: %v", err)
	case !slices.Equal(onDisk, regions):
		r.problemf("free space map holds %d regions, allocator %d", len(onDisk), len(regions))
	}

	if uint64(r.Objects) != h.ObjectCount {
		r.problemf("header counts %d objects, directory holds %d", h.ObjectCount, r.Objects)
	}
	if end := s.alloc.End(); end != h.UsedBytes {
		r.problemf("header used size %d, allocator end %d", h.UsedBytes, end)
	}
	if err := s.alloc.Validate(); err != nil {
		r.problemf("allocator: %v", err)
	}

	s.dirMu.Lock()
	if n := s.dir.Len(); n != r.Objects {
		r.problemf("directory holds %d objects in memory, %d on disk", n, r.Objects)
	}
	err = s.dir.Validate()
	s.dirMu.Unlock()
	if err != nil {
		r.problemf("directory: %v", err)
	}

	return r, nil
}

func (s *Store) checkPayload(area directory.StoreArea) error {
	buf := make([]byte, area.Length)
	n, err := s.file.ReadAt(buf, int64(area.Address))
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	_, err = decodeObject(buf[:n])
	return err
}

// checkTiling reports gaps and overlaps between spans and a mismatch of
// their end with used.
func checkTiling(r *Report, spans []span, used uint64) {
	slices.SortFunc(spans, func(a, b span) int {
		switch {
		case a.Address < b.Address:
			return -1
		case a.Address > b.Address:
			return 1
		}
		return 0
	})

	var end uint64
	prev := "start of file"
	for _, sp := range spans {
		switch {
		case sp.Address > end:
			r.problemf("gap of %d bytes at %d after %s", sp.Address-end, end, prev)
		case sp.Address < end:
			r.problemf("%s at %d overlaps %s ending at %d", sp.what, sp.Address, prev, end)
		}
		if sp.End() > end {
			end, prev = sp.End(), sp.what
		}
	}
	if end != used {
		r.problemf("spans end at %d, used size is %d", end, used)
	}
}
