// Package btree provides the ordered index used by the object store directory.
package btree

// Get returns the value stored under key.
func (t *Tree[K, V]) Get(key K) (V, bool, error) {
	var zero V

	n, err := t.resolve(t.root)
	if err != nil {
		return zero, false, err
	}

	for {
		i, found := n.find(key, t.cmp)
		if found {
			return n.Values[i], true, nil
		}
		if n.Leaf {
			return zero, false, nil
		}
		if n, err = t.resolve(n.Children[i]); err != nil {
			return zero, false, err
		}
	}
}

// Has reports whether key is present.
func (t *Tree[K, V]) Has(key K) (bool, error) {
	_, found, err := t.Get(key)
	return found, err
}

// Min returns the smallest entry in the tree.
func (t *Tree[K, V]) Min() (K, V, bool, error) {
	var zk K
	var zv V
	if t.count == 0 {
		return zk, zv, false, nil
	}
	n, err := t.resolve(t.root)
	if err != nil {
		return zk, zv, false, err
	}
	k, v, err := t.minEntry(n)
	return k, v, err == nil, err
}

// Max returns the largest entry in the tree.
func (t *Tree[K, V]) Max() (K, V, bool, error) {
	var zk K
	var zv V
	if t.count == 0 {
		return zk, zv, false, nil
	}
	n, err := t.resolve(t.root)
	if err != nil {
		return zk, zv, false, err
	}
	k, v, err := t.maxEntry(n)
	return k, v, err == nil, err
}

// minEntry returns the leftmost entry of the subtree rooted at n.
func (t *Tree[K, V]) minEntry(n *Node[K, V]) (K, V, error) {
	var err error
	for !n.Leaf {
		if n, err = t.resolve(n.Children[0]); err != nil {
			var zk K
			var zv V
			return zk, zv, err
		}
	}
	return n.Keys[0], n.Values[0], nil
}

// maxEntry returns the rightmost entry of the subtree rooted at n.
func (t *Tree[K, V]) maxEntry(n *Node[K, V]) (K, V, error) {
	var err error
	for !n.Leaf {
		if n, err = t.resolve(n.Children[len(n.Children)-1]); err != nil {
			var zk K
			var zv V
			return zk, zv, err
		}
	}
	last := len(n.Keys) - 1
	return n.Keys[last], n.Values[last], nil
}
