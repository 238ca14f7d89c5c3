// Package btree provides the ordered index used by the object store directory.
package btree

import "github.com/cockroachdb/errors"

// Pager resolves links to nodes and is told when a link leaves the tree.
type Pager[K, V any] interface {
	// Resolve returns the node behind l, making it resident if needed.
	// It is called on every access, so pagers may use it to track recency.
	Resolve(l *Link[K, V]) (*Node[K, V], error)

	// Discard is called when l has been removed from the tree by a merge or
	// a root collapse. The node's entries have already moved elsewhere.
	Discard(l *Link[K, V])
}

// MemoryPager is the pager of a purely in-memory tree: every link is
// resident and discarded links need no bookkeeping.
type MemoryPager[K, V any] struct{}

// Resolve returns the resident node behind l.
func (MemoryPager[K, V]) Resolve(l *Link[K, V]) (*Node[K, V], error) {
	if l.Node == nil {
		return nil, errors.AssertionFailedf("btree: link at %d+%d is not resident", l.Loc.Address, l.Loc.Length)
	}
	return l.Node, nil
}

// Discard does nothing.
func (MemoryPager[K, V]) Discard(*Link[K, V]) {}
