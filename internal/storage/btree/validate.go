// Package btree provides the ordered index used by the object store directory.
package btree

import "github.com/cockroachdb/errors"

// Validate checks the structural properties of the whole tree: node
// occupancy, child counts, key order across levels, uniform leaf depth and
// the entry count. Every node is resolved, so on a paged tree this reads
// the entire index.
func (t *Tree[K, V]) Validate() error {
	v := validator[K, V]{tree: t, leafDepth: -1}
	if err := v.walk(t.root, 0, nil, nil); err != nil {
		return err
	}
	if v.count != t.count {
		return errors.Wrapf(ErrInvalidTree, "tree holds %d entries but counts %d", v.count, t.count)
	}
	return nil
}

type validator[K, V any] struct {
	tree      *Tree[K, V]
	leafDepth int
	count     int
}

func (v *validator[K, V]) walk(l *Link[K, V], depth int, low, high *K) error {
	t := v.tree
	n, err := t.resolve(l)
	if err != nil {
		return err
	}

	keys := len(n.Keys)
	if keys != len(n.Values) {
		return errors.Wrapf(ErrInvalidTree, "node at depth %d has %d keys and %d values", depth, keys, len(n.Values))
	}
	if keys > t.MaxKeys() {
		return errors.Wrapf(ErrInvalidTree, "node at depth %d holds %d entries, more than %d", depth, keys, t.MaxKeys())
	}
	if depth > 0 && keys < t.MinKeys() {
		return errors.Wrapf(ErrInvalidTree, "node at depth %d holds %d entries, fewer than %d", depth, keys, t.MinKeys())
	}

	for i := range n.Keys {
		if i > 0 && t.cmp(n.Keys[i-1], n.Keys[i]) >= 0 {
			return errors.Wrapf(ErrInvalidTree, "keys out of order at depth %d index %d", depth, i)
		}
		if low != nil && t.cmp(*low, n.Keys[i]) >= 0 {
			return errors.Wrapf(ErrInvalidTree, "key at depth %d index %d not above its separator", depth, i)
		}
		if high != nil && t.cmp(n.Keys[i], *high) >= 0 {
			return errors.Wrapf(ErrInvalidTree, "key at depth %d index %d not below its separator", depth, i)
		}
	}
	v.count += keys

	if n.Leaf {
		if len(n.Children) != 0 {
			return errors.Wrapf(ErrInvalidTree, "leaf at depth %d has %d children", depth, len(n.Children))
		}
		if v.leafDepth < 0 {
			v.leafDepth = depth
		} else if v.leafDepth != depth {
			return errors.Wrapf(ErrInvalidTree, "leaf at depth %d, expected %d", depth, v.leafDepth)
		}
		return nil
	}

	if len(n.Children) != keys+1 {
		return errors.Wrapf(ErrInvalidTree, "internal node at depth %d has %d keys and %d children", depth, keys, len(n.Children))
	}
	if depth == 0 && keys == 0 {
		return errors.Wrapf(ErrInvalidTree, "internal root has no entries")
	}

	for i, child := range n.Children {
		lo, hi := low, high
		if i > 0 {
			lo = &n.Keys[i-1]
		}
		if i < keys {
			hi = &n.Keys[i]
		}
		if err := v.walk(child, depth+1, lo, hi); err != nil {
			return err
		}
	}
	return nil
}
