package btree

import (
	"encoding/binary"

	"burrow-db/pagefile"
	"burrow-db/record"
)

/*
On-disk node layouts, little endian, no implicit padding. The serialized
form is authoritative; nodes are decoded into memory, mutated, and encoded
back into the pinned page before the page is released dirty.

Meta page (first page of the index file)
┌──────────────────────────────────────────────────────────────┐
| relationName (20byte, NUL padded)                            |
| attrByteOffset (4byte) | attrType (4byte)                    |
| rootPageNo (4byte) | initialRootPageNo (4byte)               |
| leafOrder (4byte) | nodeOrder (4byte)                        |
└──────────────────────────────────────────────────────────────┘

Leaf
┌──────────────────────────────────────────────────────────────┐
| keyNum (4byte) | rightSibPageNo (4byte)                      |
| keys   (leafOrder * 4byte)                                   |
| rids   (leafOrder * 8byte)                                   |
└──────────────────────────────────────────────────────────────┘

Non leaf
┌──────────────────────────────────────────────────────────────┐
| level (4byte) | keyNum (4byte)                               |
| keys     (nodeOrder * 4byte)                                 |
| children ((nodeOrder+1) * 4byte)                             |
└──────────────────────────────────────────────────────────────┘
*/

const relationNameSize = 20

// Largest orders for which one node still fits a page.
const (
	MaxLeafOrder = int32((pagefile.PageSize - 8) / (4 + record.IDSize))
	MaxNodeOrder = int32((pagefile.PageSize - 12) / 8)
)

const (
	metaNameOffset     = 0
	metaAttrOffOffset  = 20
	metaAttrTypeOffset = 24
	metaRootOffset     = 28
	metaInitRootOffset = 32
	metaLeafOrdOffset  = 36
	metaNodeOrdOffset  = 40
)

type indexMeta struct {
	relationName      string
	attrByteOffset    int32
	attrType          AttrType
	rootPageNo        pagefile.PageID
	initialRootPageNo pagefile.PageID
	leafOrder         int32
	nodeOrder         int32
}

func decodeMeta(buffer []byte) *indexMeta {
	name := buffer[metaNameOffset : metaNameOffset+relationNameSize]
	end := 0
	for end < relationNameSize && name[end] != 0 {
		end++
	}
	return &indexMeta{
		relationName:      string(name[:end]),
		attrByteOffset:    int32(binary.LittleEndian.Uint32(buffer[metaAttrOffOffset:])),
		attrType:          AttrType(binary.LittleEndian.Uint32(buffer[metaAttrTypeOffset:])),
		rootPageNo:        pagefile.PageID(binary.LittleEndian.Uint32(buffer[metaRootOffset:])),
		initialRootPageNo: pagefile.PageID(binary.LittleEndian.Uint32(buffer[metaInitRootOffset:])),
		leafOrder:         int32(binary.LittleEndian.Uint32(buffer[metaLeafOrdOffset:])),
		nodeOrder:         int32(binary.LittleEndian.Uint32(buffer[metaNodeOrdOffset:])),
	}
}

func encodeMeta(buffer []byte, meta *indexMeta) {
	for i := 0; i < relationNameSize; i++ {
		buffer[metaNameOffset+i] = 0
	}
	copy(buffer[metaNameOffset:metaNameOffset+relationNameSize], meta.relationName)
	binary.LittleEndian.PutUint32(buffer[metaAttrOffOffset:], uint32(meta.attrByteOffset))
	binary.LittleEndian.PutUint32(buffer[metaAttrTypeOffset:], uint32(meta.attrType))
	binary.LittleEndian.PutUint32(buffer[metaRootOffset:], uint32(meta.rootPageNo))
	binary.LittleEndian.PutUint32(buffer[metaInitRootOffset:], uint32(meta.initialRootPageNo))
	binary.LittleEndian.PutUint32(buffer[metaLeafOrdOffset:], uint32(meta.leafOrder))
	binary.LittleEndian.PutUint32(buffer[metaNodeOrdOffset:], uint32(meta.nodeOrder))
}

const (
	leafKeyNumOffset   = 0
	leafRightSibOffset = 4
	leafKeysOffset     = 8
)

type leafNode struct {
	order          int32
	keyNum         int32
	rightSibPageNo pagefile.PageID
	keys           []int32
	rids           []record.ID
}

func newLeafNode(order int32) *leafNode {
	return &leafNode{
		order: order,
		keys:  make([]int32, order),
		rids:  make([]record.ID, order),
	}
}

func decodeLeaf(buffer []byte, order int32) *leafNode {
	node := newLeafNode(order)
	node.keyNum = int32(binary.LittleEndian.Uint32(buffer[leafKeyNumOffset:]))
	node.rightSibPageNo = pagefile.PageID(binary.LittleEndian.Uint32(buffer[leafRightSibOffset:]))
	ridsOffset := leafKeysOffset + 4*int(order)
	for i := int32(0); i < node.keyNum; i++ {
		node.keys[i] = int32(binary.LittleEndian.Uint32(buffer[leafKeysOffset+4*int(i):]))
		node.rids[i] = record.GetID(buffer[ridsOffset+record.IDSize*int(i):])
	}
	return node
}

func encodeLeaf(buffer []byte, node *leafNode) {
	binary.LittleEndian.PutUint32(buffer[leafKeyNumOffset:], uint32(node.keyNum))
	binary.LittleEndian.PutUint32(buffer[leafRightSibOffset:], uint32(node.rightSibPageNo))
	ridsOffset := leafKeysOffset + 4*int(node.order)
	for i := int32(0); i < node.order; i++ {
		binary.LittleEndian.PutUint32(buffer[leafKeysOffset+4*int(i):], uint32(node.keys[i]))
		record.PutID(buffer[ridsOffset+record.IDSize*int(i):], node.rids[i])
	}
}

const (
	nonLeafLevelOffset  = 0
	nonLeafKeyNumOffset = 4
	nonLeafKeysOffset   = 8
)

type nonLeafNode struct {
	order  int32
	level  int32
	keyNum int32
	keys   []int32
	// children[i] roots the subtree left of keys[i]; children[keyNum]
	// roots the rightmost subtree
	children []pagefile.PageID
}

func newNonLeafNode(order int32) *nonLeafNode {
	return &nonLeafNode{
		order:    order,
		keys:     make([]int32, order),
		children: make([]pagefile.PageID, order+1),
	}
}

func decodeNonLeaf(buffer []byte, order int32) *nonLeafNode {
	node := newNonLeafNode(order)
	node.level = int32(binary.LittleEndian.Uint32(buffer[nonLeafLevelOffset:]))
	node.keyNum = int32(binary.LittleEndian.Uint32(buffer[nonLeafKeyNumOffset:]))
	childrenOffset := nonLeafKeysOffset + 4*int(order)
	for i := int32(0); i <= node.keyNum; i++ {
		if i < node.keyNum {
			node.keys[i] = int32(binary.LittleEndian.Uint32(buffer[nonLeafKeysOffset+4*int(i):]))
		}
		node.children[i] = pagefile.PageID(binary.LittleEndian.Uint32(buffer[childrenOffset+4*int(i):]))
	}
	return node
}

func encodeNonLeaf(buffer []byte, node *nonLeafNode) {
	binary.LittleEndian.PutUint32(buffer[nonLeafLevelOffset:], uint32(node.level))
	binary.LittleEndian.PutUint32(buffer[nonLeafKeyNumOffset:], uint32(node.keyNum))
	childrenOffset := nonLeafKeysOffset + 4*int(node.order)
	for i := int32(0); i <= node.order; i++ {
		if i < node.order {
			binary.LittleEndian.PutUint32(buffer[nonLeafKeysOffset+4*int(i):], uint32(node.keys[i]))
		}
		binary.LittleEndian.PutUint32(buffer[childrenOffset+4*int(i):], uint32(node.children[i]))
	}
}

// lowerBound returns the first index whose key is >= key, or len(keys).
func lowerBound(keys []int32, key int32) int32 {
	lo, hi := int32(0), int32(len(keys))
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
