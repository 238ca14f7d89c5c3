package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Search Tests
// =============================================================================

func TestGet(t *testing.T) {
	tree := newTestTree(t, 2)
	for k := 1; k <= 50; k++ {
		_, _, err := tree.Insert(k*3, k)
		require.NoError(t, err)
	}

	v, found, err := tree.Get(30)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 10, v)

	_, found, err = tree.Get(31)
	require.NoError(t, err)
	assert.False(t, found)

	has, err := tree.Has(150)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMinMax(t *testing.T) {
	tree := newTestTree(t, 2)

	_, _, ok, err := tree.Min()
	require.NoError(t, err)
	assert.False(t, ok)

	for _, k := range []int{50, 10, 90, 30, 70} {
		_, _, err := tree.Insert(k, -k)
		require.NoError(t, err)
	}

	k, v, ok, err := tree.Min()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, k)
	assert.Equal(t, -10, v)

	k, _, ok, err = tree.Max()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 90, k)
}

// =============================================================================
// Iterator Tests
// =============================================================================

func TestIteratorOrderAndPath(t *testing.T) {
	tree := newTestTree(t, 2)
	for _, k := range []int{1, 2, 3, 4} {
		_, _, err := tree.Insert(k, k*10)
		require.NoError(t, err)
	}
	// Root [2], children [1] and [3 4].
	want := []struct {
		key  int
		path []int
	}{
		{1, []int{0, 0}},
		{2, []int{0}},
		{3, []int{1, 0}},
		{4, []int{1, 1}},
	}

	it := tree.Iterator()
	for _, w := range want {
		require.True(t, it.Next())
		assert.Equal(t, w.key, it.Key())
		assert.Equal(t, w.key*10, it.Value())
		assert.Equal(t, w.path, it.Path(), "key %d", w.key)
	}
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func TestIteratorEmpty(t *testing.T) {
	tree := newTestTree(t, 2)
	it := tree.Iterator()
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func TestAscendStops(t *testing.T) {
	tree := newTestTree(t, 3)
	for k := range 100 {
		_, _, err := tree.Insert(k, k)
		require.NoError(t, err)
	}

	var seen []int
	err := tree.Ascend(func(key, _ int) bool {
		seen = append(seen, key)
		return key < 9
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestValidateDetectsDisorder(t *testing.T) {
	tree := newTestTree(t, 2)
	for _, k := range []int{1, 2, 3} {
		_, _, err := tree.Insert(k, k)
		require.NoError(t, err)
	}
	root := tree.Root().Node
	root.Keys[0], root.Keys[1] = root.Keys[1], root.Keys[0]

	assert.ErrorIs(t, tree.Validate(), ErrInvalidTree)
}

func TestValidateDetectsCountMismatch(t *testing.T) {
	tree := newTestTree(t, 2)
	_, _, err := tree.Insert(1, 1)
	require.NoError(t, err)
	tree.count = 5

	assert.ErrorIs(t, tree.Validate(), ErrInvalidTree)
}
