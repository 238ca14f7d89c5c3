// Package btree provides the ordered index used by the object store directory.
package btree

// frame is one level of an in-order walk. pos is the index of the entry to
// yield next, or, while a child is being walked, the index of that child.
type frame[K, V any] struct {
	node *Node[K, V]
	pos  int
}

// Iterator walks the tree in ascending key order. The tree must not be
// modified while an iterator is in use.
type Iterator[K, V any] struct {
	tree    *Tree[K, V]
	stack   []frame[K, V]
	started bool
	err     error
}

// Iterator returns an iterator positioned before the smallest entry.
func (t *Tree[K, V]) Iterator() *Iterator[K, V] {
	return &Iterator[K, V]{tree: t}
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator[K, V]) Next() bool {
	if it.err != nil {
		return false
	}

	if !it.started {
		it.started = true
		if err := it.descend(it.tree.root); err != nil {
			it.err = err
			return false
		}
	} else if len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		top.pos++
		if !top.node.Leaf {
			if err := it.descend(top.node.Children[top.pos]); err != nil {
				it.err = err
				return false
			}
		}
	}

	for len(it.stack) > 0 {
		top := it.stack[len(it.stack)-1]
		if top.pos < len(top.node.Keys) {
			return true
		}
		it.stack = it.stack[:len(it.stack)-1]
	}
	return false
}

// descend pushes the leftmost path of the subtree behind l.
func (it *Iterator[K, V]) descend(l *Link[K, V]) error {
	for {
		n, err := it.tree.resolve(l)
		if err != nil {
			return err
		}
		it.stack = append(it.stack, frame[K, V]{node: n})
		if n.Leaf {
			return nil
		}
		l = n.Children[0]
	}
}

// Key returns the key of the current entry.
func (it *Iterator[K, V]) Key() K {
	top := it.stack[len(it.stack)-1]
	return top.node.Keys[top.pos]
}

// Value returns the value of the current entry.
func (it *Iterator[K, V]) Value() V {
	top := it.stack[len(it.stack)-1]
	return top.node.Values[top.pos]
}

// Path returns the position of the current entry as the index taken at each
// level from the root down. The last element is the entry's index within
// its node; the ones before it are child indices.
func (it *Iterator[K, V]) Path() []int {
	path := make([]int, len(it.stack))
	for i, f := range it.stack {
		path[i] = f.pos
	}
	return path
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator[K, V]) Err() error {
	return it.err
}

// Ascend calls fn for every entry in ascending key order until fn returns
// false.
func (t *Tree[K, V]) Ascend(fn func(key K, value V) bool) error {
	it := t.Iterator()
	for it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Err()
}

// Keys returns every key in ascending order.
func (t *Tree[K, V]) Keys() ([]K, error) {
	keys := make([]K, 0, t.count)
	err := t.Ascend(func(key K, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys, err
}
