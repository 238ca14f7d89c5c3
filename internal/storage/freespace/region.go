package freespace

// Extent is a byte range of the file.
type Extent struct {
	Address uint64
	Length  uint64
}

// End returns the first address after the extent.
func (e Extent) End() uint64 {
	return e.Address + e.Length
}

// Region is a free range linked into the address list.
type Region struct {
	Address uint64
	Length  uint64

	prev *Region
	next *Region
}

// End returns the first address after the region.
func (r *Region) End() uint64 {
	return r.Address + r.Length
}

// Extent returns a copy of the region's range.
func (r *Region) Extent() Extent {
	return Extent{Address: r.Address, Length: r.Length}
}

// lessBySize orders regions by length, then address.
func lessBySize(a, b *Region) bool {
	if a.Length != b.Length {
		return a.Length < b.Length
	}
	return a.Address < b.Address
}

// linkAfter inserts r after p, or at the head when p is nil.
func (a *Allocator) linkAfter(p, r *Region) {
	r.prev = p
	if p == nil {
		r.next = a.head
		a.head = r
	} else {
		r.next = p.next
		p.next = r
	}
	if r.next != nil {
		r.next.prev = r
	} else {
		a.tail = r
	}
}

func (a *Allocator) unlink(r *Region) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		a.head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		a.tail = r.prev
	}
	r.prev, r.next = nil, nil
}

// insert adds r to both views after p.
func (a *Allocator) insert(p, r *Region) {
	a.linkAfter(p, r)
	a.bySize.ReplaceOrInsert(r)
	a.free += r.Length
}

// remove drops r from both views.
func (a *Allocator) remove(r *Region) {
	a.bySize.Delete(r)
	a.unlink(r)
	a.free -= r.Length
}

// resize changes r's range, keeping the size view keyed correctly.
func (a *Allocator) resize(r *Region, address, length uint64) {
	a.bySize.Delete(r)
	a.free -= r.Length
	r.Address, r.Length = address, length
	a.free += r.Length
	a.bySize.ReplaceOrInsert(r)
}
