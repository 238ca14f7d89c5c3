package freespace

import (
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
)

// DefaultMinRegionSize is the smallest remainder worth keeping as a separate
// free region.
const DefaultMinRegionSize = 32

// degree of the size-ordered view.
const sizeViewDegree = 16

// Allocator errors.
var (
	// ErrExhausted is returned when an allocation would grow the used area
	// beyond the maximum.
	ErrExhausted = errors.New("freespace: maximum file size reached")

	// ErrBelowEnd is returned when a maximum below the current end is set.
	ErrBelowEnd = errors.New("freespace: maximum below used size")

	// ErrOverlap is returned when a released range overlaps free space or
	// lies beyond the used area.
	ErrOverlap = errors.New("freespace: released range overlaps free space")

	// ErrInconsistent is returned by Validate.
	ErrInconsistent = errors.New("freespace: inconsistent free space views")
)

// Allocator hands out byte ranges of a single file. Allocate and Release are
// called by one goroutine at a time; the read-only accessors may be called
// concurrently with them.
type Allocator struct {
	mu sync.RWMutex

	head   *Region
	tail   *Region
	bySize *btree.BTreeG[*Region]

	free      uint64
	end       uint64
	max       uint64
	minRegion uint64
}

// New creates an allocator whose used area ends at end, with no free
// regions. A max of zero leaves the used area unbounded.
func New(end, max, minRegion uint64) *Allocator {
	if minRegion == 0 {
		minRegion = DefaultMinRegionSize
	}
	return &Allocator{
		bySize:    btree.NewG(sizeViewDegree, lessBySize),
		end:       end,
		max:       max,
		minRegion: minRegion,
	}
}

// Allocate returns a range of at least length bytes.
func (a *Allocator) Allocate(length uint64) (Extent, error) {
	if length == 0 {
		return Extent{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var fit *Region
	a.bySize.AscendGreaterOrEqual(&Region{Length: length}, func(r *Region) bool {
		fit = r
		return false
	})

	if fit != nil {
		if fit.Length-length < a.minRegion {
			a.remove(fit)
			return fit.Extent(), nil
		}
		a.resize(fit, fit.Address, fit.Length-length)
		return Extent{Address: fit.End(), Length: length}, nil
	}

	return a.extendLocked(length)
}

// extendLocked allocates at the end of the used area, absorbing a free
// region that touches the end.
func (a *Allocator) extendLocked(length uint64) (Extent, error) {
	address := a.end
	var absorbed *Region
	if a.tail != nil && a.tail.End() == a.end {
		absorbed = a.tail
		address = absorbed.Address
	}

	end := address + length
	if a.max > 0 && end > a.max {
		return Extent{}, errors.Wrapf(ErrExhausted, "need %d bytes at %d, maximum is %d", length, address, a.max)
	}

	if absorbed != nil {
		a.remove(absorbed)
	}
	a.end = end
	return Extent{Address: address, Length: length}, nil
}

// Release returns a batch of ranges to the free space. The batch is merged
// in address order; each range is coalesced with adjacent free regions.
// Zero-length ranges are ignored. Overlapping ranges are rejected before
// anything is changed.
//
// The end of the used area never moves back: a released range at the end
// stays a free region, and the next allocation that grows the used area
// starts from it.
func (a *Allocator) Release(batch []Extent) error {
	sorted := sortExtents(batch)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkReleaseLocked(sorted); err != nil {
		return err
	}

	var prev *Region
	for _, e := range sorted {
		if e.Length == 0 {
			continue
		}
		next := a.head
		if prev != nil {
			next = prev.next
		}
		for next != nil && next.Address < e.Address {
			prev, next = next, next.next
		}

		switch {
		case prev != nil && prev.End() == e.Address:
			length := prev.Length + e.Length
			if next != nil && e.End() == next.Address {
				length += next.Length
				a.remove(next)
			}
			a.resize(prev, prev.Address, length)
		case next != nil && e.End() == next.Address:
			a.resize(next, e.Address, next.Length+e.Length)
			prev = next
		default:
			r := &Region{Address: e.Address, Length: e.Length}
			a.insert(prev, r)
			prev = r
		}
	}
	return nil
}

// checkReleaseLocked verifies that no range of a sorted batch overlaps
// another range of the batch, a free region or the area beyond the end.
func (a *Allocator) checkReleaseLocked(sorted []Extent) error {
	r := a.head
	var last Extent
	for _, e := range sorted {
		if e.Length == 0 {
			continue
		}
		if e.End() > a.end {
			return errors.Wrapf(ErrOverlap, "range %d+%d beyond used size %d", e.Address, e.Length, a.end)
		}
		if last.Length > 0 && last.End() > e.Address {
			return errors.Wrapf(ErrOverlap, "ranges %d+%d and %d+%d", last.Address, last.Length, e.Address, e.Length)
		}
		last = e
		for r != nil && r.End() <= e.Address {
			r = r.next
		}
		if r != nil && r.Address < e.End() {
			return errors.Wrapf(ErrOverlap, "range %d+%d overlaps free region %d+%d", e.Address, e.Length, r.Address, r.Length)
		}
	}
	return nil
}

// Load replaces the allocator state with the given free ranges and end.
func (a *Allocator) Load(regions []Extent, end uint64) error {
	a.mu.Lock()
	a.head, a.tail = nil, nil
	a.bySize.Clear(false)
	a.free = 0
	a.end = end
	a.mu.Unlock()

	return a.Release(regions)
}

// Regions returns the free regions in address order.
func (a *Allocator) Regions() []Extent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Extent, 0, a.bySize.Len())
	for r := a.head; r != nil; r = r.next {
		out = append(out, r.Extent())
	}
	return out
}

// Image returns the free regions as they will be once pending has been
// released, without changing the allocator.
func (a *Allocator) Image(pending []Extent) []Extent {
	return Merge(a.Regions(), sortExtents(pending))
}

// Count returns the number of free regions.
func (a *Allocator) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bySize.Len()
}

// FreeBytes returns the total size of all free regions.
func (a *Allocator) FreeBytes() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.free
}

// End returns the end of the used area.
func (a *Allocator) End() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.end
}

// Max returns the maximum end, zero when unbounded.
func (a *Allocator) Max() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.max
}

// SetMax changes the maximum end. Zero removes the bound.
func (a *Allocator) SetMax(max uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if max > 0 && max < a.end {
		return errors.Wrapf(ErrBelowEnd, "maximum %d, used %d", max, a.end)
	}
	a.max = max
	return nil
}

// Available returns the number of bytes that can still be allocated: all
// free regions plus the room left below the maximum.
func (a *Allocator) Available() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.max == 0 {
		return math.MaxUint64
	}
	return a.free + (a.max - a.end)
}

// Largest returns the length of the largest free region.
func (a *Allocator) Largest() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if r, ok := a.bySize.Max(); ok {
		return r.Length
	}
	return 0
}
