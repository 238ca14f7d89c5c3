package directory

import (
	"io"

	"github.com/KilimcininKorOglu/objstore/internal/storage/btree"
	"github.com/cockroachdb/errors"
)

// Defaults for Options.
const (
	DefaultMinimumNodeSize = 16
	DefaultCacheSize       = 1024
	DefaultRetention       = 2
)

// Options configures a Directory.
type Options struct {
	// MinimumNodeSize is the B-tree minimum degree t.
	MinimumNodeSize int

	// CacheSize is the number of demoted pages the cache may hold. Zero
	// disables the cache, so demoted pages are read from disk again.
	CacheSize int64

	// Retention is the number of flushes a clean, untouched page stays
	// resident.
	Retention int
}

func (o Options) withDefaults() Options {
	if o.MinimumNodeSize == 0 {
		o.MinimumNodeSize = DefaultMinimumNodeSize
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	return o
}

// Directory maps object identifiers to StoreArea records. It is not safe for
// concurrent use; even lookups may load pages.
type Directory struct {
	tree  *btree.Tree[uint64, StoreArea]
	pager *pager
	opts  Options
}

// New creates an empty directory that reads pages from r.
func New(r io.ReaderAt, opts Options) (*Directory, error) {
	return Open(r, btree.Location{}, 0, opts)
}

// Open attaches to a directory whose root page is at root and which holds
// count entries. A zero root creates an empty directory. No page is read
// until it is needed.
func Open(r io.ReaderAt, root btree.Location, count int, opts Options) (*Directory, error) {
	opts = opts.withDefaults()
	if opts.MinimumNodeSize < 2 {
		return nil, errors.Wrapf(btree.ErrInvalidNodeSize, "got %d", opts.MinimumNodeSize)
	}

	p, err := newPager(r, opts.MinimumNodeSize, opts.CacheSize, opts.Retention)
	if err != nil {
		return nil, err
	}

	var rootLink *Link
	if !root.IsZero() {
		rootLink = &Link{Loc: root}
	}
	tree, err := btree.Restore[uint64, StoreArea](opts.MinimumNodeSize, compareIdentifiers, p, rootLink, count)
	if err != nil {
		p.close()
		return nil, err
	}

	return &Directory{tree: tree, pager: p, opts: opts}, nil
}

// Close releases the page cache.
func (d *Directory) Close() {
	d.pager.close()
}

// Get returns the area stored for id.
func (d *Directory) Get(id uint64) (StoreArea, bool, error) {
	return d.tree.Get(id)
}

// Put stores area under its identifier and returns the area it replaced.
// The caller owns the replaced area's region.
func (d *Directory) Put(area StoreArea) (StoreArea, bool, error) {
	area.ChildAddress, area.ChildLength = 0, 0
	return d.tree.Insert(area.Identifier, area)
}

// Delete removes id and returns its area.
func (d *Directory) Delete(id uint64) (StoreArea, bool, error) {
	return d.tree.Delete(id)
}

// Len returns the number of objects in the directory.
func (d *Directory) Len() int {
	return d.tree.Len()
}

// Ascend calls fn for every area in identifier order until fn returns
// false.
func (d *Directory) Ascend(fn func(StoreArea) bool) error {
	return d.tree.Ascend(func(_ uint64, area StoreArea) bool {
		return fn(area)
	})
}

// Iterator returns an identifier-ordered iterator that also reports the
// position path of every entry.
func (d *Directory) Iterator() *btree.Iterator[uint64, StoreArea] {
	return d.tree.Iterator()
}

// Root returns the location of the root page. It is zero until the
// directory has been written once.
func (d *Directory) Root() btree.Location {
	return d.tree.Root().Loc
}

// MinimumNodeSize returns the B-tree minimum degree.
func (d *Directory) MinimumNodeSize() int {
	return d.opts.MinimumNodeSize
}

// Height returns the number of levels, loading the leftmost path.
func (d *Directory) Height() (int, error) {
	return d.tree.Height()
}

// Validate checks the balance and order of the whole tree, loading every
// page.
func (d *Directory) Validate() error {
	return d.tree.Validate()
}

// Stats describes page residency.
type Stats struct {
	PageLoads     uint64
	CacheHits     uint64
	ResidentPages int
	Obsolete      int
}

// Stats returns residency counters.
func (d *Directory) Stats() Stats {
	return Stats{
		PageLoads:     d.pager.loads.Load(),
		CacheHits:     d.pager.cacheHits.Load(),
		ResidentPages: countResident(d.tree.Root()),
		Obsolete:      len(d.pager.obsolete),
	}
}

func countResident(l *Link) int {
	if l.Node == nil {
		return 0
	}
	count := 1
	for _, c := range l.Node.Children {
		count += countResident(c)
	}
	return count
}
