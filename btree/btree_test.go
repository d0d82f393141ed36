package btree

import (
	"bytes"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchdb/buffer"
	"latchdb/disk"
	"latchdb/txn"
)

func newTestBPM(t *testing.T, poolSize int) *buffer.BufferPoolManager {
	t.Helper()
	path := t.TempDir() + "/" + uuid.NewString() + ".db"
	dm, err := disk.NewManager(path)
	require.NoError(t, err)
	t.Cleanup(func() { dm.ShutDown(); os.Remove(path) })
	return buffer.NewBufferPoolManager(poolSize, 2, dm)
}

func newTestTree(t *testing.T, leafMax, internalMax int) *BPlusTree[int64] {
	t.Helper()
	bpm := newTestBPM(t, 64)
	tree, err := NewBPlusTree[int64](bpm, Int64KeySerializer{}, Options{LeafMaxSize: leafMax, InternalMaxSize: internalMax})
	require.NoError(t, err)
	return tree
}

func rid(n int64) txn.RID { return txn.RID{PageID: n, SlotIdx: int32(n % 7)} }

func TestBPlusTree_InsertAndGetValueRoundTrip(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	for i := int64(0); i < 30; i++ {
		require.NoError(t, tree.Insert(i, rid(i)))
	}
	for i := int64(0); i < 30; i++ {
		v, ok, err := tree.GetValue(i)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rid(i), v)
	}

	_, ok, err := tree.GetValue(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBPlusTree_InsertDuplicateKeyFails(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.Insert(1, rid(1)))
	assert.ErrorIs(t, tree.Insert(1, rid(2)), ErrKeyExists)
}

// TestBPlusTree_SplitsCascadeThroughMultipleLevels forces a small node
// capacity so inserting a modest number of keys drives several rounds
// of leaf and internal splits, including at least one new root.
func TestBPlusTree_SplitsCascadeThroughMultipleLevels(t *testing.T) {
	tree := newTestTree(t, 3, 3)

	n := int64(200)
	order := rand.Perm(int(n))
	for _, i := range order {
		require.NoError(t, tree.Insert(int64(i), rid(int64(i))))
	}

	for i := int64(0); i < n; i++ {
		v, ok, err := tree.GetValue(i)
		require.NoError(t, err)
		require.True(t, ok, "key %d missing after inserts", i)
		assert.Equal(t, rid(i), v)
	}
}

func TestBPlusTree_DeleteRemovesKey(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, tree.Insert(i, rid(i)))
	}

	require.NoError(t, tree.Delete(5))
	_, ok, err := tree.GetValue(5)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, i := range []int64{0, 1, 2, 3, 4, 6, 7, 8, 9} {
		_, ok, err := tree.GetValue(i)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestBPlusTree_DeleteUnknownKeyFails(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.Insert(1, rid(1)))
	assert.ErrorIs(t, tree.Delete(404), ErrKeyNotFound)
}

// TestBPlusTree_DeleteCascadesMergesAndRedistributes drives small nodes
// through enough deletes to force both redistribution and merging at
// leaf and internal levels.
func TestBPlusTree_DeleteCascadesMergesAndRedistributes(t *testing.T) {
	tree := newTestTree(t, 3, 3)

	n := int64(150)
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, rid(i)))
	}

	order := rand.Perm(int(n))
	deleted := make(map[int64]bool)
	for _, i := range order[:100] {
		require.NoError(t, tree.Delete(int64(i)))
		deleted[int64(i)] = true
	}

	for i := int64(0); i < n; i++ {
		_, ok, err := tree.GetValue(i)
		require.NoError(t, err)
		assert.Equal(t, !deleted[i], ok, "key %d", i)
	}
}

func TestBPlusTree_DepthGrowsAndShrinksWithRootSplitsAndMerges(t *testing.T) {
	tree := newTestTree(t, 3, 3)

	depth, err := tree.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "a fresh tree is a lone root leaf")

	n := int64(200)
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, rid(i)))
	}
	grown, err := tree.Depth()
	require.NoError(t, err)
	assert.Greater(t, grown, 1, "200 inserts at leaf/internal max 3 must split the root at least once")

	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Delete(i))
	}
	shrunk, err := tree.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, shrunk, "deleting every key must collapse the root back to a lone leaf")
}

func TestBPlusTree_ConcurrentInsertsAllSucceed(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	n := 200
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			errs <- tree.Insert(i, rid(i))
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := int64(0); i < int64(n); i++ {
		_, ok, err := tree.GetValue(i)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestBPlusTree_IteratorScansInOrder(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	keys := []int64{5, 1, 9, 3, 7, 2, 8, 4, 6, 0}
	for _, k := range keys {
		require.NoError(t, tree.Insert(k, rid(k)))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()

	var got []int64
	for it.Valid() {
		got = append(got, it.Key())
		it.Next()
	}
	assert.True(t, it.IsEnd())
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestBPlusTree_IteratorBeginAtSeeksToKey(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	for _, k := range []int64{0, 2, 4, 6, 8, 10} {
		require.NoError(t, tree.Insert(k, rid(k)))
	}

	it, err := tree.BeginAt(5)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Valid())
	assert.Equal(t, int64(6), it.Key())
}

func TestBPlusTree_EndIsSentinel(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.Insert(1, rid(1)))

	it := tree.End()
	assert.False(t, it.Valid())
	assert.True(t, it.IsEnd())
}

func TestBPlusTree_Draw(t *testing.T) {
	tree := newTestTree(t, 3, 3)
	for i := int64(0); i < 20; i++ {
		require.NoError(t, tree.Insert(i, rid(i)))
	}

	var buf bytes.Buffer
	require.NoError(t, tree.Draw(&buf))
	assert.Contains(t, buf.String(), "leaf")
}

func TestBPlusTree_DefaultOptionsFillsPage(t *testing.T) {
	opts := DefaultOptions(8)
	assert.Greater(t, opts.LeafMaxSize, 4)
	assert.Greater(t, opts.InternalMaxSize, 4)
}
