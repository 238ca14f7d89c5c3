// Package btree provides the ordered index used by the object store directory.
package btree

// Location is the external position of a node that is not resident in
// memory. The tree never interprets it; pagers use it to find the node
// again. A zero Length means the node has never been written.
type Location struct {
	Address uint64
	Length  uint64
}

// IsZero reports whether the location refers to nothing.
func (l Location) IsZero() bool {
	return l.Length == 0
}

// End returns the first address after the location.
func (l Location) End() uint64 {
	return l.Address + l.Length
}

// Link references a node from its parent, or from the tree for the root.
//
// A link is in one of three states:
//   - resident: Node is set
//   - on disk: Node is nil and Cached is false, the node lives at Loc
//   - cached: Node is nil and Cached is true, a pager-owned cache may still
//     hold the decoded node for Loc
type Link[K, V any] struct {
	Node      *Node[K, V]
	Loc       Location
	Cached    bool
	Retention int
}

// Resident reports whether the linked node is held in memory.
func (l *Link[K, V]) Resident() bool {
	return l.Node != nil
}

// Node is a single tree node. For internal nodes
// len(Children) == len(Keys)+1 and Children[i] holds the keys that sort
// before Keys[i].
type Node[K, V any] struct {
	Keys     []K
	Values   []V
	Children []*Link[K, V]
	Leaf     bool

	// Modified is set whenever an insert or delete touches the node and is
	// cleared by whoever persists it.
	Modified bool
}

// NewLeaf creates an empty leaf node with room for capacity entries.
func NewLeaf[K, V any](capacity int) *Node[K, V] {
	return &Node[K, V]{
		Keys:   make([]K, 0, capacity),
		Values: make([]V, 0, capacity),
		Leaf:   true,
	}
}

// NewInternal creates an empty internal node with room for capacity entries.
func NewInternal[K, V any](capacity int) *Node[K, V] {
	return &Node[K, V]{
		Keys:     make([]K, 0, capacity),
		Values:   make([]V, 0, capacity),
		Children: make([]*Link[K, V], 0, capacity+1),
	}
}

// KeyCount returns the number of entries in the node.
func (n *Node[K, V]) KeyCount() int {
	return len(n.Keys)
}

// find returns the index of key in the node, or the index of the child to
// descend into when the key is absent.
func (n *Node[K, V]) find(key K, cmp func(a, b K) int) (int, bool) {
	low, high := 0, len(n.Keys)
	for low < high {
		mid := int(uint(low+high) >> 1)
		switch c := cmp(n.Keys[mid], key); {
		case c < 0:
			low = mid + 1
		case c > 0:
			high = mid
		default:
			return mid, true
		}
	}
	return low, false
}

func (n *Node[K, V]) insertAt(i int, key K, value V) {
	var zk K
	var zv V
	n.Keys = append(n.Keys, zk)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = key
	n.Values = append(n.Values, zv)
	copy(n.Values[i+1:], n.Values[i:])
	n.Values[i] = value
}

func (n *Node[K, V]) removeAt(i int) (K, V) {
	key, value := n.Keys[i], n.Values[i]
	var zk K
	var zv V
	copy(n.Keys[i:], n.Keys[i+1:])
	n.Keys[len(n.Keys)-1] = zk
	n.Keys = n.Keys[:len(n.Keys)-1]
	copy(n.Values[i:], n.Values[i+1:])
	n.Values[len(n.Values)-1] = zv
	n.Values = n.Values[:len(n.Values)-1]
	return key, value
}

func (n *Node[K, V]) insertChildAt(i int, l *Link[K, V]) {
	n.Children = append(n.Children, nil)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = l
}

func (n *Node[K, V]) removeChildAt(i int) *Link[K, V] {
	l := n.Children[i]
	copy(n.Children[i:], n.Children[i+1:])
	n.Children[len(n.Children)-1] = nil
	n.Children = n.Children[:len(n.Children)-1]
	return l
}
