package btree

import (
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"burrow-db/buffer"
	"burrow-db/logging"
	"burrow-db/pagefile"
	"burrow-db/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, leafOrder int32, nodeOrder int32) (*Index, *buffer.Pool, Options) {
	t.Helper()
	logger := logging.CreateSilentLogger()

	pool, err := buffer.NewPool(logger, 16)
	require.Nil(t, err)

	opts := DefaultOptions("listings", 0)
	opts.Dir = t.TempDir()
	opts.LeafOrder = leafOrder
	opts.NodeOrder = nodeOrder

	ix, indexName, err := NewIndex(logger, pool, opts)
	require.Nil(t, err)
	assert.Equal(t, "listings.0", indexName)
	return ix, pool, opts
}

func ridFor(key int32) record.ID {
	return record.ID{PageNo: pagefile.PageID(key), SlotNo: uint16(key % 7)}
}

// drains a scan over [low, high] and returns the visited rids
func scanRange(t *testing.T, ix *Index, low int32, lowOp Operator, high int32, highOp Operator) []record.ID {
	t.Helper()
	require.Nil(t, ix.StartScan(low, lowOp, high, highOp))
	rids := []record.ID{}
	for {
		rid, err := ix.ScanNext()
		if err != nil {
			assert.ErrorIs(t, err, ErrIndexScanCompleted)
			break
		}
		rids = append(rids, rid)
	}
	require.Nil(t, ix.EndScan())
	return rids
}

func TestEmptyIndexScan(t *testing.T) {
	ix, _, _ := newTestIndex(t, 4, 4)
	defer ix.Close()

	require.Nil(t, ix.StartScan(0, GTE, 100, LTE))
	_, err := ix.ScanNext()
	assert.ErrorIs(t, err, ErrIndexScanCompleted)
	require.Nil(t, ix.EndScan())
}

func TestSingleLeafScan(t *testing.T) {
	ix, _, _ := newTestIndex(t, 8, 8)
	defer ix.Close()

	for _, key := range []int32{5, 1, 3, 2, 4} {
		require.Nil(t, ix.InsertEntry(key, ridFor(key)))
	}

	rids := scanRange(t, ix, 2, GTE, 4, LTE)
	assert.Equal(t, []record.ID{ridFor(2), ridFor(3), ridFor(4)}, rids)
}

func TestForcedLeafSplit(t *testing.T) {
	ix, pool, _ := newTestIndex(t, 4, 4)
	defer ix.Close()

	for key := int32(1); key <= 5; key++ {
		require.Nil(t, ix.InsertEntry(key, ridFor(key)))
	}

	// the fifth insert splits the initial root leaf
	assert.False(t, ix.rootIsLeaf())

	rootRef, err := pool.ReadPage(ix.file, ix.rootPageNo)
	require.Nil(t, err)
	root := decodeNonLeaf(rootRef.Bytes(), ix.nodeOrder)
	assert.Equal(t, int32(1), root.keyNum)
	assert.Equal(t, int32(1), root.level)
	assert.Equal(t, int32(3), root.keys[0], "promoted key is the new leaf's first key")
	leftPageNo, rightPageNo := root.children[0], root.children[1]
	require.Nil(t, rootRef.Release(false))

	leftRef, err := pool.ReadPage(ix.file, leftPageNo)
	require.Nil(t, err)
	left := decodeLeaf(leftRef.Bytes(), ix.leafOrder)
	assert.Equal(t, []int32{1, 2}, left.keys[:left.keyNum])
	assert.Equal(t, rightPageNo, left.rightSibPageNo, "leaves are sibling linked")
	require.Nil(t, leftRef.Release(false))

	rightRef, err := pool.ReadPage(ix.file, rightPageNo)
	require.Nil(t, err)
	right := decodeLeaf(rightRef.Bytes(), ix.leafOrder)
	assert.Equal(t, []int32{3, 4, 5}, right.keys[:right.keyNum])
	assert.Equal(t, pagefile.InvalidPageID, right.rightSibPageNo)
	require.Nil(t, rightRef.Release(false))

	rids := scanRange(t, ix, 1, GTE, 5, LTE)
	assert.Len(t, rids, 5)
}

func TestSplitCascadeToRoot(t *testing.T) {
	ix, pool, _ := newTestIndex(t, 4, 4)
	defer ix.Close()

	for key := int32(1); key <= 21; key++ {
		require.Nil(t, ix.InsertEntry(key, ridFor(key)))
	}

	// the tree must have grown past a single non leaf level
	rootRef, err := pool.ReadPage(ix.file, ix.rootPageNo)
	require.Nil(t, err)
	root := decodeNonLeaf(rootRef.Bytes(), ix.nodeOrder)
	assert.Equal(t, int32(0), root.level, "root children are internal nodes")
	require.Nil(t, rootRef.Release(false))

	rids := scanRange(t, ix, 1, GTE, 21, LTE)
	require.Len(t, rids, 21)
	for i, rid := range rids {
		assert.Equal(t, ridFor(int32(i+1)), rid)
	}
}

func TestRandomKeysFullScan(t *testing.T) {
	ix, _, _ := newTestIndex(t, 4, 4)
	defer ix.Close()

	rng := rand.New(rand.NewSource(564))
	keys := make([]int32, 300)
	for i := range keys {
		keys[i] = int32(i)*3 - 450
	}
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	for _, key := range keys {
		require.Nil(t, ix.InsertEntry(key, ridFor(key)))
	}

	sorted := append([]int32{}, keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rids := scanRange(t, ix, sorted[0], GTE, sorted[len(sorted)-1], LTE)
	require.Len(t, rids, len(keys))
	for i, rid := range rids {
		assert.Equal(t, ridFor(sorted[i]), rid)
	}

	// strict bounds drop the endpoints
	rids = scanRange(t, ix, sorted[0], GT, sorted[len(sorted)-1], LT)
	assert.Len(t, rids, len(keys)-2)
}

func TestDuplicateKeys(t *testing.T) {
	// default orders keep all duplicates inside one leaf
	ix, _, _ := newTestIndex(t, 0, 0)
	defer ix.Close()

	for i := int32(0); i < 10; i++ {
		require.Nil(t, ix.InsertEntry(7, record.ID{PageNo: pagefile.PageID(i + 1), SlotNo: 0}))
		require.Nil(t, ix.InsertEntry(i*100, ridFor(i*100)))
	}

	rids, err := ix.Lookup(7)
	require.Nil(t, err)
	assert.Len(t, rids, 10)

	_, err = ix.Lookup(8)
	assert.ErrorIs(t, err, ErrNoSuchKeyFound)
}

func TestScanErrors(t *testing.T) {
	ix, _, _ := newTestIndex(t, 4, 4)
	defer ix.Close()

	assert.ErrorIs(t, ix.StartScan(0, LT, 10, LTE), ErrBadOpcodes)
	assert.ErrorIs(t, ix.StartScan(0, GTE, 10, GT), ErrBadOpcodes)
	assert.ErrorIs(t, ix.StartScan(10, GTE, 0, LTE), ErrBadScanRange)

	_, err := ix.ScanNext()
	assert.ErrorIs(t, err, ErrScanNotInitialized)
	assert.ErrorIs(t, ix.EndScan(), ErrScanNotInitialized)
}

func TestReopenExistingIndex(t *testing.T) {
	logger := logging.CreateSilentLogger()
	pool, err := buffer.NewPool(logger, 16)
	require.Nil(t, err)

	opts := DefaultOptions("listings", 0)
	opts.Dir = t.TempDir()
	opts.LeafOrder = 4
	opts.NodeOrder = 4

	ix, _, err := NewIndex(logger, pool, opts)
	require.Nil(t, err)
	for key := int32(1); key <= 50; key++ {
		require.Nil(t, ix.InsertEntry(key, ridFor(key)))
	}
	require.Nil(t, ix.Close())

	// reopening must pick up the persisted root, not rebuild
	ix, _, err = NewIndex(logger, pool, opts)
	require.Nil(t, err)
	rids := scanRange(t, ix, 1, GTE, 50, LTE)
	assert.Len(t, rids, 50)
	require.Nil(t, ix.Close())

	// a mismatching geometry is rejected
	bad := opts
	bad.LeafOrder = 8
	_, _, err = NewIndex(logger, pool, bad)
	assert.ErrorIs(t, err, ErrBadIndexInfo)
}

func TestBuildFromRelation(t *testing.T) {
	logger := logging.CreateSilentLogger()
	pool, err := buffer.NewPool(logger, 16)
	require.Nil(t, err)
	dir := t.TempDir()

	// tuples carry the key as an int32 at byte offset 4
	relationPath := filepath.Join(dir, "listings")
	relation, err := record.NewHeapFile(logger, pool, relationPath, 12)
	require.Nil(t, err)

	tuple := make([]byte, 12)
	for key := int32(0); key < 40; key++ {
		binary.LittleEndian.PutUint32(tuple[4:8], uint32(key*2))
		_, err := relation.Append(tuple)
		require.Nil(t, err)
	}
	require.Nil(t, relation.Close())

	opts := DefaultOptions("listings", 4)
	opts.Dir = dir
	opts.RelationFile = relationPath
	opts.LeafOrder = 4
	opts.NodeOrder = 4

	ix, indexName, err := NewIndex(logger, pool, opts)
	require.Nil(t, err)
	assert.Equal(t, "listings.4", indexName)
	defer ix.Close()

	rids := scanRange(t, ix, 0, GTE, 100, LTE)
	assert.Len(t, rids, 40)

	rids, err = ix.Lookup(10)
	require.Nil(t, err)
	assert.Len(t, rids, 1)
}

func TestIndexOptionValidation(t *testing.T) {
	logger := logging.CreateSilentLogger()
	pool, err := buffer.NewPool(logger, 16)
	require.Nil(t, err)

	opts := DefaultOptions("listings", 0)
	opts.Dir = t.TempDir()
	opts.LeafOrder = 1
	_, _, err = NewIndex(logger, pool, opts)
	assert.NotNil(t, err, "leaf order below 2 must be rejected")

	opts = DefaultOptions("a_relation_name_way_beyond_twenty_bytes", 0)
	opts.Dir = t.TempDir()
	_, _, err = NewIndex(logger, pool, opts)
	assert.NotNil(t, err)
}
