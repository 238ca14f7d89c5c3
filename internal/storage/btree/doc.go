// Package btree implements the ordered index underneath the object store
// directory: a classic multi-way B-tree with a configurable minimum node
// size t.
//
// # Overview
//
// Every node other than the root holds between t-1 and 2t-1 entries, the
// root holds at most 2t-1, and all leaves sit at the same depth. The tree
// keeps a single value per key: inserting an existing key replaces its
// value and returns the previous one.
//
//   - Insert splits full nodes on the way down, so a split never has to be
//     undone on the way back up.
//   - Delete only descends into children that can lose an entry, borrowing
//     from or merging with a sibling beforehand.
//   - Iteration is in key order and reports the position path of the
//     current entry.
//
// # Links and Pagers
//
// Children are referenced through a Link. A link may hold the node itself
// or only an external Location; the tree asks its Pager to resolve a link
// before every use and tells it when a link is dropped by a merge or a
// root collapse. The in-memory pager resolves resident links only, the
// directory package supplies a pager that loads nodes from disk.
//
// # Usage
//
//	tree, err := btree.NewOrdered[uint64, string](16)
//	if err != nil {
//	    return err
//	}
//	prev, replaced, err := tree.Insert(42, "answer")
//	value, found, err := tree.Get(42)
//
//	it := tree.Iterator()
//	for it.Next() {
//	    fmt.Println(it.Key(), it.Value(), it.Path())
//	}
//	if err := it.Err(); err != nil {
//	    return err
//	}
package btree
