// Package btree provides the ordered index used by the object store directory.
package btree

import (
	"cmp"

	"github.com/cockroachdb/errors"
)

// Tree errors.
var (
	// ErrInvalidNodeSize is returned when the minimum node size is below 2.
	ErrInvalidNodeSize = errors.New("btree: minimum node size must be at least 2")

	// ErrInvalidTree is returned by Validate when a structural property
	// does not hold.
	ErrInvalidTree = errors.New("btree: invalid tree")
)

// Tree is a B-tree mapping keys of type K to values of type V.
// A Tree is not safe for concurrent use.
type Tree[K, V any] struct {
	root  *Link[K, V]
	t     int
	cmp   func(a, b K) int
	pager Pager[K, V]
	count int
}

// New creates an empty tree with minimum node size t. Keys are ordered by
// compare. A nil pager keeps every node in memory.
func New[K, V any](t int, compare func(a, b K) int, pager Pager[K, V]) (*Tree[K, V], error) {
	if t < 2 {
		return nil, errors.Wrapf(ErrInvalidNodeSize, "got %d", t)
	}
	if pager == nil {
		pager = MemoryPager[K, V]{}
	}
	root := NewLeaf[K, V](2*t - 1)
	root.Modified = true
	return &Tree[K, V]{
		root:  &Link[K, V]{Node: root},
		t:     t,
		cmp:   compare,
		pager: pager,
	}, nil
}

// NewOrdered creates an empty in-memory tree over a naturally ordered key.
func NewOrdered[K cmp.Ordered, V any](t int) (*Tree[K, V], error) {
	return New[K, V](t, cmp.Compare[K], nil)
}

// Restore rebuilds a tree around an existing root link, typically one that
// only carries the on-disk location of a previously written root.
func Restore[K, V any](t int, compare func(a, b K) int, pager Pager[K, V], root *Link[K, V], count int) (*Tree[K, V], error) {
	if root == nil {
		return New(t, compare, pager)
	}
	if t < 2 {
		return nil, errors.Wrapf(ErrInvalidNodeSize, "got %d", t)
	}
	if pager == nil {
		pager = MemoryPager[K, V]{}
	}
	return &Tree[K, V]{
		root:  root,
		t:     t,
		cmp:   compare,
		pager: pager,
		count: count,
	}, nil
}

// Root returns the link to the root node.
func (t *Tree[K, V]) Root() *Link[K, V] {
	return t.root
}

// Len returns the number of entries in the tree.
func (t *Tree[K, V]) Len() int {
	return t.count
}

// MinimumNodeSize returns t.
func (t *Tree[K, V]) MinimumNodeSize() int {
	return t.t
}

// MaxKeys returns the largest number of entries a node may hold.
func (t *Tree[K, V]) MaxKeys() int {
	return 2*t.t - 1
}

// MinKeys returns the smallest number of entries a non-root node may hold.
func (t *Tree[K, V]) MinKeys() int {
	return t.t - 1
}

// Height returns the number of levels in the tree. An empty tree has
// height 1.
func (t *Tree[K, V]) Height() (int, error) {
	height := 1
	n, err := t.pager.Resolve(t.root)
	for err == nil && !n.Leaf {
		height++
		n, err = t.pager.Resolve(n.Children[0])
	}
	return height, err
}

func (t *Tree[K, V]) resolve(l *Link[K, V]) (*Node[K, V], error) {
	return t.pager.Resolve(l)
}
