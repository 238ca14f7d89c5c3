package freespace

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWithRegion returns an allocator whose used area is [0, size) and
// entirely free.
func newWithRegion(t *testing.T, size uint64) *Allocator {
	t.Helper()
	a := New(size, 0, DefaultMinRegionSize)
	require.NoError(t, a.Release([]Extent{{Address: 0, Length: size}}))
	return a
}

// =============================================================================
// Allocate Tests
// =============================================================================

func TestAllocateCarvesSuffix(t *testing.T) {
	a := newWithRegion(t, 1000)

	e, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, Extent{Address: 900, Length: 100}, e)
	assert.Equal(t, []Extent{{0, 900}}, a.Regions())
	assert.Equal(t, uint64(900), a.FreeBytes())
	assert.NoError(t, a.Validate())
}

func TestAllocateConsumesSmallRemainder(t *testing.T) {
	a := newWithRegion(t, 120)

	e, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, Extent{Address: 0, Length: 120}, e)
	assert.Empty(t, a.Regions())
	assert.Equal(t, 0, a.Count())
}

func TestAllocateBestFit(t *testing.T) {
	a := New(10000, 0, 8)
	require.NoError(t, a.Release([]Extent{
		{Address: 0, Length: 500},
		{Address: 1000, Length: 120},
		{Address: 2000, Length: 300},
	}))

	e, err := a.Allocate(110)
	require.NoError(t, err)
	// 120 is the smallest region that fits; the 10 byte remainder is kept
	// because it is above the minimum.
	assert.Equal(t, Extent{Address: 1010, Length: 110}, e)
	assert.Contains(t, a.Regions(), Extent{Address: 1000, Length: 10})
	assert.NoError(t, a.Validate())
}

func TestAllocateZero(t *testing.T) {
	a := New(4096, 0, 0)
	e, err := a.Allocate(0)
	require.NoError(t, err)
	assert.Equal(t, Extent{}, e)
	assert.Equal(t, uint64(4096), a.End())
}

func TestAllocateExtends(t *testing.T) {
	a := New(8192, 0, 0)

	e, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, Extent{Address: 8192, Length: 100}, e)
	assert.Equal(t, uint64(8292), a.End())
}

func TestAllocateExtendsThroughTail(t *testing.T) {
	a := New(1000, 0, 0)
	require.NoError(t, a.Release([]Extent{{Address: 950, Length: 50}}))

	e, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, Extent{Address: 950, Length: 100}, e)
	assert.Equal(t, uint64(1050), a.End())
	assert.Empty(t, a.Regions())
}

func TestAllocateRespectsMax(t *testing.T) {
	a := New(1000, 1100, 0)

	_, err := a.Allocate(100)
	require.NoError(t, err)

	_, err = a.Allocate(1)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, uint64(1100), a.End())
}

// =============================================================================
// Release Tests
// =============================================================================

func TestReleaseRoundTrip(t *testing.T) {
	a := newWithRegion(t, 1000)
	before := a.Regions()

	e, err := a.Allocate(300)
	require.NoError(t, err)
	require.NoError(t, a.Release([]Extent{e}))

	assert.Equal(t, before, a.Regions())
	assert.NoError(t, a.Validate())
}

func TestReleaseAfterGrowthKeepsEnd(t *testing.T) {
	a := New(1000, 0, 0)

	e, err := a.Allocate(100)
	require.NoError(t, err)
	require.NoError(t, a.Release([]Extent{e}))
	assert.Equal(t, uint64(1100), a.End())
	assert.Equal(t, []Extent{{1000, 100}}, a.Regions())

	again, err := a.Allocate(150)
	require.NoError(t, err)
	assert.Equal(t, Extent{Address: 1000, Length: 150}, again)
	assert.Equal(t, uint64(1150), a.End())
	assert.Empty(t, a.Regions())
	assert.NoError(t, a.Validate())
}

func TestReleaseCoalescesExample(t *testing.T) {
	a := newWithRegion(t, 300)

	first, err := a.Allocate(100)
	require.NoError(t, err)
	second, err := a.Allocate(100)
	require.NoError(t, err)
	third, err := a.Allocate(100)
	require.NoError(t, err)
	require.Empty(t, a.Regions())

	require.NoError(t, a.Release([]Extent{first, third}))
	assert.Equal(t, []Extent{{0, 100}, {200, 100}}, a.Regions())

	require.NoError(t, a.Release([]Extent{second}))
	assert.Equal(t, []Extent{{0, 300}}, a.Regions())
	assert.NoError(t, a.Validate())
}

func TestReleaseCoalescesWithRemainder(t *testing.T) {
	a := newWithRegion(t, 1000)

	var got []Extent
	for range 3 {
		e, err := a.Allocate(100)
		require.NoError(t, err)
		got = append(got, e)
	}

	// The third allocation sits right above the remainder, so releasing it
	// grows the remainder instead of leaving a separate region.
	require.NoError(t, a.Release([]Extent{got[0], got[2]}))
	assert.Equal(t, []Extent{{0, 800}, {900, 100}}, a.Regions())

	require.NoError(t, a.Release([]Extent{got[1]}))
	assert.Equal(t, []Extent{{0, 1000}}, a.Regions())
	assert.Equal(t, 1, a.Count())
}

func TestReleaseBothNeighbours(t *testing.T) {
	a := New(1000, 0, 0)
	require.NoError(t, a.Release([]Extent{{0, 100}, {200, 100}, {400, 100}}))

	require.NoError(t, a.Release([]Extent{{100, 100}, {300, 100}}))
	assert.Equal(t, []Extent{{0, 500}}, a.Regions())
	assert.NoError(t, a.Validate())
}

func TestReleaseUnsortedBatch(t *testing.T) {
	a := New(1000, 0, 0)
	require.NoError(t, a.Release([]Extent{{600, 50}, {100, 50}, {150, 50}, {0, 0}}))
	assert.Equal(t, []Extent{{100, 100}, {600, 50}}, a.Regions())
}

func TestReleaseRejectsOverlap(t *testing.T) {
	a := New(1000, 0, 0)
	require.NoError(t, a.Release([]Extent{{100, 100}}))

	tests := []struct {
		name  string
		batch []Extent
	}{
		{"free region", []Extent{{150, 10}}},
		{"straddles start", []Extent{{50, 60}}},
		{"within batch", []Extent{{300, 50}, {320, 50}}},
		{"beyond end", []Extent{{990, 20}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Release(tt.batch)
			assert.ErrorIs(t, err, ErrOverlap)
			assert.Equal(t, []Extent{{100, 100}}, a.Regions())
		})
	}
}

// =============================================================================
// Bounds Tests
// =============================================================================

func TestSetMax(t *testing.T) {
	a := New(1000, 0, 0)
	assert.Equal(t, uint64(math.MaxUint64), a.Available())

	assert.ErrorIs(t, a.SetMax(999), ErrBelowEnd)
	require.NoError(t, a.SetMax(2000))
	require.NoError(t, a.Release([]Extent{{0, 100}}))
	assert.Equal(t, uint64(1100), a.Available())
	assert.Equal(t, uint64(2000), a.Max())
}

func TestLoad(t *testing.T) {
	a := New(0, 0, 0)
	require.NoError(t, a.Load([]Extent{{100, 50}, {150, 50}, {500, 10}}, 1000))

	assert.Equal(t, uint64(1000), a.End())
	assert.Equal(t, []Extent{{100, 100}, {500, 10}}, a.Regions())
	assert.Equal(t, uint64(100), a.Largest())
	assert.NoError(t, a.Validate())
}

// =============================================================================
// Randomized Tests
// =============================================================================

func TestRandomAllocateRelease(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	a := New(0, 0, 16)
	var live []Extent

	for i := range 2000 {
		if len(live) > 0 && rng.IntN(2) == 0 {
			n := 1 + rng.IntN(min(len(live), 8))
			rng.Shuffle(len(live), func(x, y int) { live[x], live[y] = live[y], live[x] })
			require.NoError(t, a.Release(live[:n]), "step %d", i)
			live = live[n:]
		} else {
			e, err := a.Allocate(uint64(1 + rng.IntN(500)))
			require.NoError(t, err)
			live = append(live, e)
		}
		require.NoError(t, a.Validate(), "step %d", i)
	}

	var used uint64
	for _, e := range live {
		used += e.Length
	}
	assert.Equal(t, a.End(), used+a.FreeBytes())
}
