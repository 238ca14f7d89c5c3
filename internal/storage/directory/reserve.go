package directory

import (
	"io"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/KilimcininKorOglu/objstore/internal/storage/freespace"
	"github.com/cockroachdb/errors"
)

// Allocator hands out file regions for pages.
type Allocator interface {
	Allocate(length uint64) (freespace.Extent, error)
}

// ReserveSpace gives every modified resident page a new region and returns
// the number of pages that moved. Children are visited before their parent
// so that a moved child marks its parent modified. The regions the moved
// pages occupied before are added to the obsolete list.
//
// Clean pages lose one unit of retention per call; at zero they are
// demoted. The root is never demoted.
//
// On failure some pages may already have new locations; nothing has been
// written, so the caller discards the directory and reopens it from the
// last committed root.
func (d *Directory) ReserveSpace(alloc Allocator) (int, error) {
	return d.reserve(d.tree.Root(), alloc, true)
}

func (d *Directory) reserve(l *Link, alloc Allocator, root bool) (int, error) {
	n := l.Node
	if n == nil {
		return 0, nil
	}

	moved := 0
	if !n.Leaf {
		for _, child := range n.Children {
			before := child.Loc
			m, err := d.reserve(child, alloc, false)
			if err != nil {
				return moved, err
			}
			if child.Loc != before {
				n.Modified = true
			}
			moved += m
		}
	}

	if !n.Modified {
		if l.Loc.IsZero() {
			return moved, errors.AssertionFailedf("directory: clean page without a location")
		}
		l.Retention--
		if !root && l.Retention <= 0 {
			d.pager.demote(l)
		}
		return moved, nil
	}

	ext, err := alloc.Allocate(encodedSize(n))
	if err != nil {
		return moved, errors.Wrap(err, "directory: reserve page")
	}
	if !l.Loc.IsZero() {
		d.pager.obsolete = append(d.pager.obsolete, l.Loc)
	}
	l.Loc = btree.Location{Address: ext.Address, Length: ext.Length}
	l.Retention = d.pager.retention
	return moved + 1, nil
}

// TakeObsolete returns the regions of pages that are no longer part of the
// tree and clears the list.
func (d *Directory) TakeObsolete() []freespace.Extent {
	out := make([]freespace.Extent, len(d.pager.obsolete))
	for i, loc := range d.pager.obsolete {
		out[i] = freespace.Extent{Address: loc.Address, Length: loc.Length}
	}
	d.pager.obsolete = d.pager.obsolete[:0]
	return out
}

// ObsoleteCount returns the number of regions TakeObsolete would return.
func (d *Directory) ObsoleteCount() int {
	return len(d.pager.obsolete)
}

// SpaceRequired returns an upper bound on the bytes needed to rewrite the
// whole directory after extra more entries are added. It assumes every page
// is a full internal page and that every node holds only the minimum number
// of entries, and costs no I/O.
func (d *Directory) SpaceRequired(extra int) uint64 {
	t := d.opts.MinimumNodeSize
	entries := uint64(d.tree.Len() + max(extra, 0))
	pages := entries/uint64(t-1) + 2
	return pages * MaxPageSize(t)
}

// Write stores every modified resident page at the location ReserveSpace
// gave it, children before parents, and clears the modified flags.
func (d *Directory) Write(w io.WriterAt) (pages int, bytes uint64, err error) {
	err = d.write(d.tree.Root(), w, &pages, &bytes)
	return pages, bytes, err
}

func (d *Directory) write(l *Link, w io.WriterAt, pages *int, bytes *uint64) error {
	n := l.Node
	if n == nil {
		return nil
	}
	if !n.Leaf {
		for _, child := range n.Children {
			if err := d.write(child, w, pages, bytes); err != nil {
				return err
			}
		}
	}
	if !n.Modified {
		return nil
	}

	buf := encodePage(n)
	if uint64(len(buf)) > l.Loc.Length {
		return errors.AssertionFailedf("directory: page of %d bytes reserved %d", len(buf), l.Loc.Length)
	}
	if _, err := w.WriteAt(buf, int64(l.Loc.Address)); err != nil {
		return errors.Wrapf(err, "directory: write page at %d", l.Loc.Address)
	}
	n.Modified = false
	*pages++
	*bytes += uint64(len(buf))
	return nil
}
