// Package btree provides the ordered index used by the object store directory.
package btree

// Insert stores value under key. If the key was already present its value is
// replaced and the previous value is returned with replaced set.
//
// Full nodes met on the way down are split before descending, so the leaf
// that receives the entry always has room.
func (t *Tree[K, V]) Insert(key K, value V) (prev V, replaced bool, err error) {
	root, err := t.resolve(t.root)
	if err != nil {
		return prev, false, err
	}

	if len(root.Keys) == t.MaxKeys() {
		grown := NewInternal[K, V](t.MaxKeys())
		grown.Modified = true
		grown.Children = append(grown.Children, t.root)
		t.root = &Link[K, V]{Node: grown}
		t.splitChild(grown, 0, root)
		root = grown
	}

	prev, replaced, err = t.insertNonFull(root, key, value)
	if err == nil && !replaced {
		t.count++
	}
	return prev, replaced, err
}

// insertNonFull inserts into the subtree rooted at n, which has room for at
// least one more entry.
func (t *Tree[K, V]) insertNonFull(n *Node[K, V], key K, value V) (V, bool, error) {
	var zero V

	for {
		i, found := n.find(key, t.cmp)
		if found {
			prev := n.Values[i]
			n.Keys[i] = key
			n.Values[i] = value
			n.Modified = true
			return prev, true, nil
		}

		if n.Leaf {
			n.insertAt(i, key, value)
			n.Modified = true
			return zero, false, nil
		}

		child, err := t.resolve(n.Children[i])
		if err != nil {
			return zero, false, err
		}

		if len(child.Keys) == t.MaxKeys() {
			t.splitChild(n, i, child)

			// The promoted median now sits at n.Keys[i].
			switch c := t.cmp(key, n.Keys[i]); {
			case c == 0:
				prev := n.Values[i]
				n.Keys[i] = key
				n.Values[i] = value
				return prev, true, nil
			case c > 0:
				i++
			}
			if child, err = t.resolve(n.Children[i]); err != nil {
				return zero, false, err
			}
		}

		n = child
	}
}

// splitChild splits the full child at index i of parent around its median.
// The median moves up into parent and the upper half becomes a new sibling
// at index i+1.
func (t *Tree[K, V]) splitChild(parent *Node[K, V], i int, child *Node[K, V]) {
	mid := t.t - 1

	var right *Node[K, V]
	if child.Leaf {
		right = NewLeaf[K, V](t.MaxKeys())
	} else {
		right = NewInternal[K, V](t.MaxKeys())
	}
	right.Modified = true

	right.Keys = append(right.Keys, child.Keys[mid+1:]...)
	right.Values = append(right.Values, child.Values[mid+1:]...)
	if !child.Leaf {
		right.Children = append(right.Children, child.Children[mid+1:]...)
		clear(child.Children[mid+1:])
		child.Children = child.Children[:mid+1]
	}

	medianKey, medianValue := child.Keys[mid], child.Values[mid]
	clear(child.Keys[mid:])
	clear(child.Values[mid:])
	child.Keys = child.Keys[:mid]
	child.Values = child.Values[:mid]
	child.Modified = true

	parent.insertAt(i, medianKey, medianValue)
	parent.insertChildAt(i+1, &Link[K, V]{Node: right})
	parent.Modified = true
}
