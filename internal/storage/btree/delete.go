// Package btree provides the ordered index used by the object store directory.
package btree

// Delete removes key from the tree and returns the value it held.
//
// Before descending into a child the child is topped up to at least t
// entries by borrowing from a sibling or merging with one, so removing the
// entry never leaves a node below the minimum. When the root ends up with
// no entries and a single child, that child becomes the new root.
func (t *Tree[K, V]) Delete(key K) (V, bool, error) {
	var zero V

	root, err := t.resolve(t.root)
	if err != nil {
		return zero, false, err
	}

	value, found, err := t.delete(root, key)
	if err != nil {
		return zero, false, err
	}
	if found {
		t.count--
	}

	if len(root.Keys) == 0 && !root.Leaf {
		old := t.root
		t.root = root.Children[0]
		t.pager.Discard(old)
	}

	return value, found, nil
}

func (t *Tree[K, V]) delete(n *Node[K, V], key K) (V, bool, error) {
	var zero V

	for {
		i, found := n.find(key, t.cmp)

		if n.Leaf {
			if !found {
				return zero, false, nil
			}
			_, value := n.removeAt(i)
			n.Modified = true
			return value, true, nil
		}

		if found {
			return t.deleteInternal(n, i)
		}

		child, err := t.ensureSurplus(n, i)
		if err != nil {
			return zero, false, err
		}
		n = child
	}
}

// deleteInternal removes the entry at index i of the internal node n.
func (t *Tree[K, V]) deleteInternal(n *Node[K, V], i int) (V, bool, error) {
	var zero V
	removed := n.Values[i]

	left, err := t.resolve(n.Children[i])
	if err != nil {
		return zero, false, err
	}
	if len(left.Keys) > t.MinKeys() {
		key, value, err := t.maxEntry(left)
		if err != nil {
			return zero, false, err
		}
		n.Keys[i], n.Values[i] = key, value
		n.Modified = true
		if _, _, err := t.delete(left, key); err != nil {
			return zero, false, err
		}
		return removed, true, nil
	}

	right, err := t.resolve(n.Children[i+1])
	if err != nil {
		return zero, false, err
	}
	if len(right.Keys) > t.MinKeys() {
		key, value, err := t.minEntry(right)
		if err != nil {
			return zero, false, err
		}
		n.Keys[i], n.Values[i] = key, value
		n.Modified = true
		if _, _, err := t.delete(right, key); err != nil {
			return zero, false, err
		}
		return removed, true, nil
	}

	// Both neighbours are minimal: pull the entry down into a merged node
	// and remove it from there.
	key := n.Keys[i]
	t.merge(n, i, left, right)
	if _, _, err := t.delete(left, key); err != nil {
		return zero, false, err
	}
	return removed, true, nil
}

// ensureSurplus makes sure the child at index i of n holds more than the
// minimum number of entries and returns the node to descend into, which is
// the left node of a merge when the child had to be merged into it.
func (t *Tree[K, V]) ensureSurplus(n *Node[K, V], i int) (*Node[K, V], error) {
	child, err := t.resolve(n.Children[i])
	if err != nil {
		return nil, err
	}
	if len(child.Keys) > t.MinKeys() {
		return child, nil
	}

	var left, right *Node[K, V]
	if i > 0 {
		if left, err = t.resolve(n.Children[i-1]); err != nil {
			return nil, err
		}
		if len(left.Keys) > t.MinKeys() {
			t.rotateRight(n, i, left, child)
			return child, nil
		}
	}
	if i < len(n.Children)-1 {
		if right, err = t.resolve(n.Children[i+1]); err != nil {
			return nil, err
		}
		if len(right.Keys) > t.MinKeys() {
			t.rotateLeft(n, i, child, right)
			return child, nil
		}
	}

	if right != nil {
		t.merge(n, i, child, right)
		return child, nil
	}
	t.merge(n, i-1, left, child)
	return left, nil
}

// rotateRight moves the separator at i-1 down into child and the last entry
// of its left sibling up into the parent.
func (t *Tree[K, V]) rotateRight(n *Node[K, V], i int, left, child *Node[K, V]) {
	child.insertAt(0, n.Keys[i-1], n.Values[i-1])

	last := len(left.Keys) - 1
	n.Keys[i-1], n.Values[i-1] = left.removeAt(last)

	if !left.Leaf {
		moved := left.removeChildAt(len(left.Children) - 1)
		child.insertChildAt(0, moved)
	}

	n.Modified, left.Modified, child.Modified = true, true, true
}

// rotateLeft moves the separator at i down into child and the first entry of
// its right sibling up into the parent.
func (t *Tree[K, V]) rotateLeft(n *Node[K, V], i int, child, right *Node[K, V]) {
	child.Keys = append(child.Keys, n.Keys[i])
	child.Values = append(child.Values, n.Values[i])

	n.Keys[i], n.Values[i] = right.removeAt(0)

	if !right.Leaf {
		moved := right.removeChildAt(0)
		child.Children = append(child.Children, moved)
	}

	n.Modified, right.Modified, child.Modified = true, true, true
}

// merge folds the separator at i and the child at i+1 into the child at i.
// The right child's link leaves the tree.
func (t *Tree[K, V]) merge(n *Node[K, V], i int, left, right *Node[K, V]) {
	left.Keys = append(left.Keys, n.Keys[i])
	left.Values = append(left.Values, n.Values[i])
	left.Keys = append(left.Keys, right.Keys...)
	left.Values = append(left.Values, right.Values...)
	if !left.Leaf {
		left.Children = append(left.Children, right.Children...)
	}

	n.removeAt(i)
	gone := n.removeChildAt(i + 1)

	left.Modified, n.Modified = true, true
	t.pager.Discard(gone)
}
