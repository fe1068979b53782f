package btree

import (
	"burrow-db/pagefile"
	"burrow-db/record"
)

// StartScan positions a range scan at the first candidate entry. The leaf
// under the cursor stays pinned until the scan moves past it or ends.
// A scan already in progress is ended first.
func (ix *Index) StartScan(low int32, lowOp Operator, high int32, highOp Operator) error {
	if (lowOp != GT && lowOp != GTE) || (highOp != LT && highOp != LTE) {
		return ErrBadOpcodes
	}
	if low > high {
		return ErrBadScanRange
	}
	if ix.scanExecuting {
		if err := ix.EndScan(); err != nil {
			return err
		}
	}

	leafPageNo, err := ix.findLeafPage(low)
	if err != nil {
		return err
	}
	ref, err := ix.pool.ReadPage(ix.file, leafPageNo)
	if err != nil {
		return err
	}

	ix.lowVal = low
	ix.highVal = high
	ix.lowOp = lowOp
	ix.highOp = highOp
	ix.currentRef = ref
	ix.nextEntry = ix.firstEntry(decodeLeaf(ref.Bytes(), ix.leafOrder))
	ix.scanExecuting = true
	return nil
}

// ScanNext yields the next record id in range. ErrIndexScanCompleted once
// the range or the sibling chain is exhausted.
func (ix *Index) ScanNext() (record.ID, error) {
	if !ix.scanExecuting {
		return record.ID{}, ErrScanNotInitialized
	}

	node := decodeLeaf(ix.currentRef.Bytes(), ix.leafOrder)

	if ix.nextEntry >= node.keyNum {
		if node.rightSibPageNo == pagefile.InvalidPageID {
			return record.ID{}, ErrIndexScanCompleted
		}
		if err := ix.currentRef.Release(false); err != nil {
			return record.ID{}, err
		}
		ref, err := ix.pool.ReadPage(ix.file, node.rightSibPageNo)
		if err != nil {
			ix.currentRef = nil
			ix.scanExecuting = false
			return record.ID{}, err
		}
		ix.currentRef = ref
		ix.nextEntry = 0
		node = decodeLeaf(ref.Bytes(), ix.leafOrder)
	}

	key := node.keys[ix.nextEntry]
	if ix.highOp == LT && key >= ix.highVal {
		return record.ID{}, ErrIndexScanCompleted
	}
	if ix.highOp == LTE && key > ix.highVal {
		return record.ID{}, ErrIndexScanCompleted
	}

	rid := node.rids[ix.nextEntry]
	ix.nextEntry++
	return rid, nil
}

// EndScan unpins the current leaf and resets the scan state.
func (ix *Index) EndScan() error {
	if !ix.scanExecuting {
		return ErrScanNotInitialized
	}
	err := ix.currentRef.Release(false)
	ix.currentRef = nil
	ix.nextEntry = 0
	ix.lowVal = 0
	ix.highVal = 0
	ix.scanExecuting = false
	return err
}

// Lookup returns every record id stored under key. Inserts place a new
// entry ahead of existing equal keys, so within a leaf the most recently
// inserted id comes first. ErrNoSuchKeyFound when the key is absent.
func (ix *Index) Lookup(key int32) ([]record.ID, error) {
	leafPageNo, err := ix.findLeafPage(key)
	if err != nil {
		return nil, err
	}

	var rids []record.ID
	for leafPageNo != pagefile.InvalidPageID {
		ref, err := ix.pool.ReadPage(ix.file, leafPageNo)
		if err != nil {
			return nil, err
		}
		node := decodeLeaf(ref.Bytes(), ix.leafOrder)

		idx := lowerBound(node.keys[:node.keyNum], key)
		past := false
		for ; idx < node.keyNum; idx++ {
			if node.keys[idx] != key {
				past = true
				break
			}
			rids = append(rids, node.rids[idx])
		}
		// matches can continue on the right sibling only if this leaf
		// was drained without passing the key
		next := pagefile.InvalidPageID
		if !past && node.keyNum > 0 && node.keys[node.keyNum-1] == key {
			next = node.rightSibPageNo
		}
		if err := ref.Release(false); err != nil {
			return nil, err
		}
		leafPageNo = next
	}

	if len(rids) == 0 {
		return nil, ErrNoSuchKeyFound
	}
	return rids, nil
}

// findLeafPage descends from the root to the leaf that may hold key. Inner
// nodes are unpinned as soon as their child is chosen; the returned leaf
// is not pinned here.
func (ix *Index) findLeafPage(key int32) (pagefile.PageID, error) {
	if ix.rootIsLeaf() {
		return ix.rootPageNo, nil
	}

	pageNo := ix.rootPageNo
	for {
		ref, err := ix.pool.ReadPage(ix.file, pageNo)
		if err != nil {
			return pagefile.InvalidPageID, err
		}
		node := decodeNonLeaf(ref.Bytes(), ix.nodeOrder)

		// first child whose separator exceeds the key, last child otherwise
		child := node.children[node.keyNum]
		for i := int32(0); i < node.keyNum; i++ {
			if key < node.keys[i] {
				child = node.children[i]
				break
			}
		}
		atLevelOne := node.level == 1
		if err := ref.Release(false); err != nil {
			return pagefile.InvalidPageID, err
		}

		if atLevelOne {
			return child, nil
		}
		pageNo = child
	}
}

// firstEntry finds the smallest in-range entry index of the scan's first
// leaf, or keyNum to force a sibling hop on the first ScanNext.
func (ix *Index) firstEntry(node *leafNode) int32 {
	for i := int32(0); i < node.keyNum; i++ {
		if ix.lowOp == GT && ix.lowVal < node.keys[i] {
			return i
		}
		if ix.lowOp == GTE && ix.lowVal <= node.keys[i] {
			return i
		}
	}
	return node.keyNum
}
