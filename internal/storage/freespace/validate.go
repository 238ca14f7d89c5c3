package freespace

import "github.com/cockroachdb/errors"

// Validate checks that the address list and the size view describe the same
// disjoint, non-touching regions inside the used area.
func (a *Allocator) Validate() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var (
		count int
		total uint64
		prev  *Region
	)
	for r := a.head; r != nil; r = r.next {
		if r.prev != prev {
			return errors.Wrapf(ErrInconsistent, "broken back link at %d", r.Address)
		}
		if r.Length == 0 {
			return errors.Wrapf(ErrInconsistent, "empty region at %d", r.Address)
		}
		if prev != nil && prev.End() >= r.Address {
			if prev.End() == r.Address {
				return errors.Wrapf(ErrInconsistent, "regions %d+%d and %d+%d touch", prev.Address, prev.Length, r.Address, r.Length)
			}
			return errors.Wrapf(ErrInconsistent, "regions %d+%d and %d+%d overlap", prev.Address, prev.Length, r.Address, r.Length)
		}
		if r.End() > a.end {
			return errors.Wrapf(ErrInconsistent, "region %d+%d beyond used size %d", r.Address, r.Length, a.end)
		}
		if !a.bySize.Has(r) {
			return errors.Wrapf(ErrInconsistent, "region %d+%d missing from size view", r.Address, r.Length)
		}
		count++
		total += r.Length
		prev = r
	}

	if prev != a.tail {
		return errors.Wrapf(ErrInconsistent, "tail does not match the last region")
	}
	if count != a.bySize.Len() {
		return errors.Wrapf(ErrInconsistent, "address list holds %d regions, size view %d", count, a.bySize.Len())
	}
	if total != a.free {
		return errors.Wrapf(ErrInconsistent, "regions sum to %d bytes, counter says %d", total, a.free)
	}
	return nil
}
