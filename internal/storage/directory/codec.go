package directory

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/cockroachdb/errors"
)

// Page layout sizes.
const (
	pageHeaderSize    = 5
	leafEntrySize     = 24
	internalEntrySize = 40
	childEntrySize    = 16
	checksumSize      = 4
)

// ErrCorruptPage is returned when a page fails to decode.
var ErrCorruptPage = errors.New("directory: corrupt page")

// PageSize returns the encoded size of a node with count entries.
func PageSize(count int, leaf bool) uint64 {
	if leaf {
		return pageHeaderSize + uint64(count)*leafEntrySize + checksumSize
	}
	return pageHeaderSize + uint64(count)*internalEntrySize + childEntrySize + checksumSize
}

// MaxPageSize returns the encoded size of a full internal node for minimum
// node size t, the largest page a directory can produce.
func MaxPageSize(t int) uint64 {
	return PageSize(2*t-1, false)
}

func encodedSize(n *Node) uint64 {
	return PageSize(len(n.Keys), n.Leaf)
}

// encodePage encodes n. Child links must already carry their final
// locations.
func encodePage(n *Node) []byte {
	buf := make([]byte, encodedSize(n))

	binary.LittleEndian.PutUint32(buf[0:], uint32(len(n.Keys)))
	if n.Leaf {
		buf[4] = 1
	}

	off := pageHeaderSize
	for i, area := range n.Values {
		binary.LittleEndian.PutUint64(buf[off:], n.Keys[i])
		binary.LittleEndian.PutUint64(buf[off+8:], area.Address)
		binary.LittleEndian.PutUint64(buf[off+16:], area.Length)
		off += leafEntrySize
		if !n.Leaf {
			off = putChild(buf, off, n.Children[i].Loc)
		}
	}
	if !n.Leaf {
		off = putChild(buf, off, n.Children[len(n.Keys)].Loc)
	}

	binary.LittleEndian.PutUint32(buf[off:], crc32.ChecksumIEEE(buf[:off]))
	return buf
}

func putChild(buf []byte, off int, loc btree.Location) int {
	binary.LittleEndian.PutUint64(buf[off:], loc.Address)
	binary.LittleEndian.PutUint64(buf[off+8:], loc.Length)
	return off + childEntrySize
}

// Page is a decoded directory page.
type Page struct {
	Leaf     bool
	Entries  []StoreArea
	Trailing btree.Location
}

// Children returns the child page locations of an internal page in order.
func (p *Page) Children() []btree.Location {
	if p.Leaf {
		return nil
	}
	out := make([]btree.Location, 0, len(p.Entries)+1)
	for _, e := range p.Entries {
		out = append(out, e.Child())
	}
	return append(out, p.Trailing)
}

// DecodePage decodes a page image. maxEntries bounds the entry count.
func DecodePage(buf []byte, maxEntries int) (*Page, error) {
	if len(buf) < pageHeaderSize+checksumSize {
		return nil, errors.Wrapf(ErrCorruptPage, "page of %d bytes", len(buf))
	}

	count := binary.LittleEndian.Uint32(buf[0:])
	leaf := buf[4] == 1
	if buf[4] > 1 {
		return nil, errors.Wrapf(ErrCorruptPage, "leaf flag %d", buf[4])
	}
	if int64(count) > int64(maxEntries) {
		return nil, errors.Wrapf(ErrCorruptPage, "%d entries, at most %d allowed", count, maxEntries)
	}

	size := PageSize(int(count), leaf)
	if uint64(len(buf)) < size {
		return nil, errors.Wrapf(ErrCorruptPage, "%d entries need %d bytes, have %d", count, size, len(buf))
	}
	body := size - checksumSize
	if got, want := crc32.ChecksumIEEE(buf[:body]), binary.LittleEndian.Uint32(buf[body:]); got != want {
		return nil, errors.Wrapf(ErrCorruptPage, "checksum %08x, expected %08x", got, want)
	}

	p := &Page{Leaf: leaf, Entries: make([]StoreArea, count)}
	off := pageHeaderSize
	for i := range p.Entries {
		e := &p.Entries[i]
		e.Identifier = binary.LittleEndian.Uint64(buf[off:])
		e.Address = binary.LittleEndian.Uint64(buf[off+8:])
		e.Length = binary.LittleEndian.Uint64(buf[off+16:])
		off += leafEntrySize
		if !leaf {
			e.ChildAddress = binary.LittleEndian.Uint64(buf[off:])
			e.ChildLength = binary.LittleEndian.Uint64(buf[off+8:])
			off += childEntrySize
			if e.ChildLength == 0 {
				return nil, errors.Wrapf(ErrCorruptPage, "entry %d has no child page", i)
			}
		}
	}
	if !leaf {
		p.Trailing = btree.Location{
			Address: binary.LittleEndian.Uint64(buf[off:]),
			Length:  binary.LittleEndian.Uint64(buf[off+8:]),
		}
		if p.Trailing.IsZero() {
			return nil, errors.Wrapf(ErrCorruptPage, "missing trailing child page")
		}
	}
	return p, nil
}

// node turns a decoded page into a tree node whose children are on disk.
func (p *Page) node(capacity int) *Node {
	var n *Node
	if p.Leaf {
		n = btree.NewLeaf[uint64, StoreArea](capacity)
	} else {
		n = btree.NewInternal[uint64, StoreArea](capacity)
	}
	for _, e := range p.Entries {
		n.Keys = append(n.Keys, e.Identifier)
		n.Values = append(n.Values, StoreArea{Identifier: e.Identifier, Address: e.Address, Length: e.Length})
	}
	for _, loc := range p.Children() {
		n.Children = append(n.Children, &Link{Loc: loc})
	}
	return n
}
