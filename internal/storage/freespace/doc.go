// Package freespace tracks the unused byte ranges of the object store file.
//
// Free regions are held in two views at once: a doubly linked list ordered
// by address, used to find neighbours when coalescing, and a
// github.com/google/btree ordered set keyed by (length, address), used to
// find the smallest region that satisfies an allocation.
//
// Allocation is best-fit. A region whose remainder would be smaller than
// the minimum region size is handed out whole, so callers may receive more
// than they asked for. When no region fits, the allocator extends the end
// of the used area up to an optional maximum.
//
// Regions are returned in batches, once per flush, with Release. The batch
// is merged against the address list in a single pass and every released
// range is coalesced with its neighbours, so no two free regions ever
// touch.
package freespace
