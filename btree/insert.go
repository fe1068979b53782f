package btree

import (
	"burrow-db/pagefile"
	"burrow-db/record"
)

// InsertEntry adds key -> rid to the tree. Duplicate keys are allowed.
//
// The descent is top down, split propagation bottom up: each level reports
// the new sibling's page id and the key to install in its parent, or page
// id 0 when it absorbed the insert. A report surviving past the root grows
// the tree by one level.
func (ix *Index) InsertEntry(key int32, rid record.ID) error {
	rootWasLeaf := ix.rootIsLeaf()
	splitPageNo, splitKey, err := ix.insertAt(ix.rootPageNo, rootWasLeaf, key, rid)
	if err != nil {
		return err
	}
	if splitPageNo == pagefile.InvalidPageID {
		return nil
	}
	return ix.splitRoot(splitKey, ix.rootPageNo, splitPageNo, rootWasLeaf)
}

func (ix *Index) insertAt(pageNo pagefile.PageID, isLeaf bool, key int32, rid record.ID) (pagefile.PageID, int32, error) {
	if isLeaf {
		return ix.insertAtLeaf(pageNo, key, rid)
	}

	ref, err := ix.pool.ReadPage(ix.file, pageNo)
	if err != nil {
		return pagefile.InvalidPageID, 0, err
	}
	node := decodeNonLeaf(ref.Bytes(), ix.nodeOrder)

	childIdx := lowerBound(node.keys[:node.keyNum], key)
	childSplit, childKey, err := ix.insertAt(node.children[childIdx], node.level == 1, key, rid)
	if err != nil {
		ref.Release(false)
		return pagefile.InvalidPageID, 0, err
	}

	// child absorbed the insert
	if childSplit == pagefile.InvalidPageID {
		return pagefile.InvalidPageID, 0, ref.Release(false)
	}

	insertIdx := lowerBound(node.keys[:node.keyNum], childKey)

	// room for the separator, no split at this level
	if node.keyNum < ix.nodeOrder {
		insertIntoNonLeaf(node, insertIdx, childKey, childSplit)
		encodeNonLeaf(ref.Bytes(), node)
		return pagefile.InvalidPageID, 0, ref.Release(true)
	}

	newRef, err := ix.pool.AllocPage(ix.file)
	if err != nil {
		ref.Release(false)
		return pagefile.InvalidPageID, 0, err
	}
	newPageNo := newRef.PageNo()
	newNode := newNonLeafNode(ix.nodeOrder)

	// left half keeps mid separators, the suffix moves right
	mid := ix.nodeOrder / 2
	splitNonLeaf(node, newNode, mid)

	if insertIdx < mid {
		insertIntoNonLeaf(node, insertIdx, childKey, childSplit)
	} else {
		insertIntoShiftedNonLeaf(newNode, insertIdx-mid, childKey, childSplit)
	}

	// the new right node starts in shifted form (as many children as
	// keys); promoting its first key to the parent restores the k+1
	// children invariant
	promoted := popFirstKey(newNode)

	encodeNonLeaf(ref.Bytes(), node)
	encodeNonLeaf(newRef.Bytes(), newNode)
	if err := ref.Release(true); err != nil {
		newRef.Release(true)
		return pagefile.InvalidPageID, 0, err
	}
	if err := newRef.Release(true); err != nil {
		return pagefile.InvalidPageID, 0, err
	}
	return newPageNo, promoted, nil
}

func (ix *Index) insertAtLeaf(pageNo pagefile.PageID, key int32, rid record.ID) (pagefile.PageID, int32, error) {
	ref, err := ix.pool.ReadPage(ix.file, pageNo)
	if err != nil {
		return pagefile.InvalidPageID, 0, err
	}
	node := decodeLeaf(ref.Bytes(), ix.leafOrder)

	insertIdx := lowerBound(node.keys[:node.keyNum], key)

	if node.keyNum < ix.leafOrder {
		insertIntoLeaf(node, insertIdx, key, rid)
		encodeLeaf(ref.Bytes(), node)
		return pagefile.InvalidPageID, 0, ref.Release(true)
	}

	newRef, err := ix.pool.AllocPage(ix.file)
	if err != nil {
		ref.Release(false)
		return pagefile.InvalidPageID, 0, err
	}
	newPageNo := newRef.PageNo()
	newNode := newLeafNode(ix.leafOrder)

	// left half keeps mid keys, the suffix moves into the new right leaf;
	// the insert lands in whichever half owns its position
	mid := ix.leafOrder / 2
	splitLeaf(node, newNode, newPageNo, mid)

	if insertIdx < mid {
		insertIntoLeaf(node, insertIdx, key, rid)
	} else {
		insertIntoLeaf(newNode, insertIdx-mid, key, rid)
	}

	splitKey := newNode.keys[0]

	encodeLeaf(ref.Bytes(), node)
	encodeLeaf(newRef.Bytes(), newNode)
	if err := ref.Release(true); err != nil {
		newRef.Release(true)
		return pagefile.InvalidPageID, 0, err
	}
	if err := newRef.Release(true); err != nil {
		return pagefile.InvalidPageID, 0, err
	}
	return newPageNo, splitKey, nil
}

// splitRoot grows the tree: a fresh non leaf root with one separator and
// the old root / new sibling as its two children.
func (ix *Index) splitRoot(key int32, left pagefile.PageID, right pagefile.PageID, leftWasLeaf bool) error {
	rootRef, err := ix.pool.AllocPage(ix.file)
	if err != nil {
		return err
	}
	newRoot := newNonLeafNode(ix.nodeOrder)
	newRoot.keyNum = 1
	newRoot.keys[0] = key
	newRoot.children[0] = left
	newRoot.children[1] = right
	if leftWasLeaf {
		newRoot.level = 1
	}
	encodeNonLeaf(rootRef.Bytes(), newRoot)

	newRootPageNo := rootRef.PageNo()
	if err := rootRef.Release(true); err != nil {
		return err
	}
	ix.rootPageNo = newRootPageNo

	// persist the root change in the meta page
	metaRef, err := ix.pool.ReadPage(ix.file, ix.headerPageNo)
	if err != nil {
		return err
	}
	meta := decodeMeta(metaRef.Bytes())
	meta.rootPageNo = newRootPageNo
	encodeMeta(metaRef.Bytes(), meta)
	return metaRef.Release(true)
}

func insertIntoLeaf(node *leafNode, idx int32, key int32, rid record.ID) {
	copy(node.keys[idx+1:node.keyNum+1], node.keys[idx:node.keyNum])
	copy(node.rids[idx+1:node.keyNum+1], node.rids[idx:node.keyNum])
	node.keys[idx] = key
	node.rids[idx] = rid
	node.keyNum++
}

// splitLeaf moves the suffix of node into newNode and links newNode into
// the sibling chain right of node.
func splitLeaf(node *leafNode, newNode *leafNode, newPageNo pagefile.PageID, leftLen int32) {
	rightLen := node.keyNum - leftLen

	copy(newNode.keys[:rightLen], node.keys[leftLen:node.keyNum])
	copy(newNode.rids[:rightLen], node.rids[leftLen:node.keyNum])
	for i := leftLen; i < node.keyNum; i++ {
		node.keys[i] = 0
		node.rids[i] = record.ID{}
	}

	node.keyNum = leftLen
	newNode.keyNum = rightLen

	newNode.rightSibPageNo = node.rightSibPageNo
	node.rightSibPageNo = newPageNo
}

// insertIntoNonLeaf installs a separator into a node in standard form
// (keyNum+1 children): keys shift from idx, children from idx+1.
func insertIntoNonLeaf(node *nonLeafNode, idx int32, key int32, pageNo pagefile.PageID) {
	copy(node.keys[idx+1:node.keyNum+1], node.keys[idx:node.keyNum])
	copy(node.children[idx+2:node.keyNum+2], node.children[idx+1:node.keyNum+1])
	node.keys[idx] = key
	node.children[idx+1] = pageNo
	node.keyNum++
}

// insertIntoShiftedNonLeaf installs a separator into a freshly split right
// node, which still has as many children as keys: both arrays shift from
// idx.
func insertIntoShiftedNonLeaf(node *nonLeafNode, idx int32, key int32, pageNo pagefile.PageID) {
	copy(node.keys[idx+1:node.keyNum+1], node.keys[idx:node.keyNum])
	copy(node.children[idx+1:node.keyNum+1], node.children[idx:node.keyNum])
	node.keys[idx] = key
	node.children[idx] = pageNo
	node.keyNum++
}

// splitNonLeaf moves the key suffix and the child pointers right of it
// into newNode, leaving newNode in shifted form (children[i] belongs to
// keys[i]) until popFirstKey restores the standard form.
func splitNonLeaf(node *nonLeafNode, newNode *nonLeafNode, leftLen int32) {
	rightLen := node.keyNum - leftLen

	copy(newNode.keys[:rightLen], node.keys[leftLen:node.keyNum])
	copy(newNode.children[:rightLen], node.children[leftLen+1:node.keyNum+1])
	for i := leftLen; i < node.keyNum; i++ {
		node.keys[i] = 0
		node.children[i+1] = pagefile.InvalidPageID
	}

	newNode.level = node.level
	node.keyNum = leftLen
	newNode.keyNum = rightLen
}

// popFirstKey removes and returns the first key of a shifted right node.
// The key moves up to the parent as the separator; the child it bounded
// stays as children[0].
func popFirstKey(node *nonLeafNode) int32 {
	key := node.keys[0]
	copy(node.keys[0:node.keyNum-1], node.keys[1:node.keyNum])
	node.keys[node.keyNum-1] = 0
	node.keyNum--
	return key
}
