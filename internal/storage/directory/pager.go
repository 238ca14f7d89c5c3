package directory

import (
	"io"
	"sync/atomic"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto/v2"
)

// pager loads directory pages on demand and keeps demoted ones in a
// ristretto cache keyed by page address.
type pager struct {
	r          io.ReaderAt
	cache      *ristretto.Cache[uint64, *Node]
	retention  int
	maxEntries int

	obsolete []btree.Location

	loads     atomic.Uint64
	cacheHits atomic.Uint64
}

func newPager(r io.ReaderAt, t int, cacheSize int64, retention int) (*pager, error) {
	p := &pager{
		r:          r,
		retention:  retention,
		maxEntries: 2*t - 1,
	}
	if cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, *Node]{
			NumCounters:        cacheSize * 10,
			MaxCost:            cacheSize,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, errors.Wrap(err, "directory: create page cache")
		}
		p.cache = cache
	}
	return p, nil
}

// Resolve implements btree.Pager.
func (p *pager) Resolve(l *Link) (*Node, error) {
	l.Retention = p.retention
	if l.Node != nil {
		return l.Node, nil
	}

	if l.Cached {
		l.Cached = false
		if p.cache != nil {
			if n, ok := p.cache.Get(l.Loc.Address); ok {
				p.cache.Del(l.Loc.Address)
				p.cacheHits.Add(1)
				l.Node = n
				return n, nil
			}
		}
	}

	n, err := p.load(l.Loc)
	if err != nil {
		return nil, err
	}
	l.Node = n
	return n, nil
}

// Discard implements btree.Pager. The page's region becomes obsolete.
func (p *pager) Discard(l *Link) {
	if l.Cached && p.cache != nil {
		p.cache.Del(l.Loc.Address)
	}
	if !l.Loc.IsZero() {
		p.obsolete = append(p.obsolete, l.Loc)
	}
	l.Node, l.Cached, l.Loc = nil, false, btree.Location{}
}

// demote drops the strong reference to a clean page.
func (p *pager) demote(l *Link) {
	if p.cache != nil {
		p.cache.Set(l.Loc.Address, l.Node, 1)
		l.Cached = true
	}
	l.Node = nil
}

func (p *pager) load(loc btree.Location) (*Node, error) {
	if loc.IsZero() {
		return nil, errors.AssertionFailedf("directory: load of unwritten page")
	}
	page, err := ReadPage(p.r, loc, p.maxEntries)
	if err != nil {
		return nil, err
	}
	p.loads.Add(1)
	return page.node(p.maxEntries), nil
}

func (p *pager) close() {
	if p.cache != nil {
		p.cache.Close()
	}
}

// ReadPage reads and decodes the page at loc.
func ReadPage(r io.ReaderAt, loc btree.Location, maxEntries int) (*Page, error) {
	buf := make([]byte, loc.Length)
	n, err := r.ReadAt(buf, int64(loc.Address))
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		return nil, errors.Wrapf(err, "directory: read page at %d+%d", loc.Address, loc.Length)
	}
	page, err := DecodePage(buf[:n], maxEntries)
	if err != nil {
		return nil, errors.Wrapf(err, "page at %d+%d", loc.Address, loc.Length)
	}
	return page, nil
}
