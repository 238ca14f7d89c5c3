package directory

import (
	"io"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/cockroachdb/errors"
)

// WalkFunc is called for every page found by Walk with the page's location,
// its decoded content and its depth below the root.
type WalkFunc func(loc btree.Location, page *Page, depth int) error

// Walk visits every page reachable from root by reading the file directly,
// ignoring anything held in memory. Pages are visited parent first. It is
// used to check what a committed header actually references.
func Walk(r io.ReaderAt, root btree.Location, t int, fn WalkFunc) error {
	if root.IsZero() {
		return nil
	}
	if t < 2 {
		return errors.Wrapf(btree.ErrInvalidNodeSize, "got %d", t)
	}
	return walk(r, root, 2*t-1, 0, fn)
}

func walk(r io.ReaderAt, loc btree.Location, maxEntries, depth int, fn WalkFunc) error {
	page, err := ReadPage(r, loc, maxEntries)
	if err != nil {
		return err
	}
	if err := fn(loc, page, depth); err != nil {
		return err
	}
	for _, child := range page.Children() {
		if err := walk(r, child, maxEntries, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}
