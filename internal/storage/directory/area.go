package directory

import (
	"cmp"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/KilimcininKorOglu/objstore/internal/storage/freespace"
)

// StoreArea locates a stored object. In an encoded internal page the entry
// also carries the location of its left child page.
type StoreArea struct {
	Identifier   uint64
	Address      uint64
	Length       uint64
	ChildAddress uint64
	ChildLength  uint64
}

// Extent returns the object's byte range.
func (a StoreArea) Extent() freespace.Extent {
	return freespace.Extent{Address: a.Address, Length: a.Length}
}

// Child returns the location of the entry's left child page.
func (a StoreArea) Child() btree.Location {
	return btree.Location{Address: a.ChildAddress, Length: a.ChildLength}
}

// Node is a directory node.
type Node = btree.Node[uint64, StoreArea]

// Link is a reference to a directory node.
type Link = btree.Link[uint64, StoreArea]

func compareIdentifiers(a, b uint64) int {
	return cmp.Compare(a, b)
}
