// Package directory implements the on-disk index of the object store: a
// B-tree from object identifiers to StoreArea records whose nodes are
// stored as pages in the data file.
//
// # Pages
//
// Each node is encoded as one page:
//
//	entryCount  int32
//	leaf        uint8
//	entries     entryCount × {identifier, address, length uint64}
//	            internal nodes add {childAddress, childLength uint64}
//	            to every entry, the left child of that entry
//	trailer     internal nodes only: {childAddress, childLength uint64}
//	checksum    uint32, CRC-32 (IEEE) of everything before it
//
// All integers are little-endian. A page may sit in a larger region than
// it needs; the entry count determines where it ends.
//
// # Copy on write
//
// Pages are never rewritten in place. ReserveSpace gives every modified
// page a new region and records its previous region as obsolete; a parent
// whose child moved is itself modified, so changes ripple up to the root.
// The caller releases the obsolete regions only after the header pointing
// at the new root is durable.
//
// # Residency
//
// Children are loaded on first access. A clean page that has not been
// touched for Retention flushes is demoted: its node moves into a
// ristretto cache and the link keeps only the page location. A later
// access takes the node back from the cache or, if it was evicted, reads
// it from disk again.
package directory
