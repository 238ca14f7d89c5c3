package freespace

import (
	"encoding/binary"
	"slices"

	"github.com/cockroachdb/errors"
)

// EntrySize is the encoded size of one free-space map entry.
const EntrySize = 16

// ErrMapTruncated is returned when a map image is shorter than its count.
var ErrMapTruncated = errors.New("freespace: map image truncated")

// MapSize returns the bytes needed to encode count entries.
func MapSize(count int) uint64 {
	return uint64(count) * EntrySize
}

// Encode writes the extents as little-endian {address, length} pairs into
// buf, which must hold MapSize(len(extents)) bytes.
func Encode(buf []byte, extents []Extent) {
	for i, e := range extents {
		off := i * EntrySize
		binary.LittleEndian.PutUint64(buf[off:], e.Address)
		binary.LittleEndian.PutUint64(buf[off+8:], e.Length)
	}
}

// Decode reads count entries from buf.
func Decode(buf []byte, count uint64) ([]Extent, error) {
	if uint64(len(buf)) < count*EntrySize {
		return nil, errors.Wrapf(ErrMapTruncated, "%d entries need %d bytes, have %d", count, count*EntrySize, len(buf))
	}
	out := make([]Extent, count)
	for i := range out {
		off := i * EntrySize
		out[i] = Extent{
			Address: binary.LittleEndian.Uint64(buf[off:]),
			Length:  binary.LittleEndian.Uint64(buf[off+8:]),
		}
	}
	return out, nil
}

// Merge combines two address-ordered lists of disjoint extents into one,
// coalescing extents that touch. Zero-length extents are dropped.
func Merge(a, b []Extent) []Extent {
	out := make([]Extent, 0, len(a)+len(b))
	push := func(e Extent) {
		if e.Length == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].End() == e.Address {
			out[n-1].Length += e.Length
			return
		}
		out = append(out, e)
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Address <= b[j].Address {
			push(a[i])
			i++
		} else {
			push(b[j])
			j++
		}
	}
	for ; i < len(a); i++ {
		push(a[i])
	}
	for ; j < len(b); j++ {
		push(b[j])
	}
	return out
}

// sortExtents returns the extents ordered by address, copying only when the
// input is out of order.
func sortExtents(extents []Extent) []Extent {
	byAddress := func(x, y Extent) int {
		switch {
		case x.Address < y.Address:
			return -1
		case x.Address > y.Address:
			return 1
		}
		return 0
	}
	if slices.IsSortedFunc(extents, byAddress) {
		return extents
	}
	sorted := slices.Clone(extents)
	slices.SortFunc(sorted, byAddress)
	return sorted
}
