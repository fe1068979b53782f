package btree

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"burrow-db/buffer"
	"burrow-db/pagefile"
	"burrow-db/record"

	"github.com/phuslu/log"
)

// AttrType is the type of the indexed attribute. Only fixed width signed
// 32 bit integers are supported.
type AttrType int32

const (
	IntType AttrType = iota
	DoubleType
	StringType
)

// Operator bounds a range scan.
type Operator int

const (
	LT Operator = iota
	LTE
	GTE
	GT
)

var (
	// ErrBadIndexInfo means an existing index file does not match the
	// relation, attribute or node geometry it was opened with.
	ErrBadIndexInfo = fmt.Errorf("index metadata mismatch")
	// ErrBadOpcodes rejects scan bounds other than GT/GTE below, LT/LTE above.
	ErrBadOpcodes = fmt.Errorf("invalid scan operators")
	// ErrBadScanRange rejects scans whose low bound exceeds the high bound.
	ErrBadScanRange = fmt.Errorf("invalid scan range")
	// ErrScanNotInitialized is raised by ScanNext and EndScan without a
	// running scan.
	ErrScanNotInitialized = fmt.Errorf("no scan in progress")
	// ErrIndexScanCompleted ends a range scan. Expected, not a failure.
	ErrIndexScanCompleted = fmt.Errorf("index scan completed")
	// ErrNoSuchKeyFound is raised by Lookup when the key is absent.
	ErrNoSuchKeyFound = fmt.Errorf("no such key in index")
)

type Options struct {
	RelationName   string
	AttrByteOffset int32
	AttrType       AttrType
	// Dir is where the index file lives
	Dir string
	// RelationFile optionally names a relation heap file to bulk load
	// from when the index is first built
	RelationFile string
	// LeafOrder / NodeOrder override the page derived maxima. Mostly for
	// tests that want small fan out; must be at least 2.
	LeafOrder int32
	NodeOrder int32
}

func DefaultOptions(relationName string, attrByteOffset int32) Options {
	return Options{
		RelationName:   relationName,
		AttrByteOffset: attrByteOffset,
		AttrType:       IntType,
		Dir:            ".",
		LeafOrder:      MaxLeafOrder,
		NodeOrder:      MaxNodeOrder,
	}
}

/*
Index is a disk resident B+ tree over int32 keys. Every node access goes
through the buffer pool; the index itself only holds page ids and borrows
pinned page buffers for the duration of a use.

Whether the root is a leaf is tracked through the meta page equality
rootPageNo == initialRootPageNo: the initial root is the original leaf, and
the first split replaces the root with a non leaf for good. Descents carry
an explicit isLeaf flag derived from that equality and from the level bit
of level one nodes; node bytes are never sniffed to classify a page.
*/
type Index struct {
	logger *log.Logger
	pool   *buffer.Pool
	file   *pagefile.File

	relationName   string
	attrByteOffset int32
	attrType       AttrType
	leafOrder      int32
	nodeOrder      int32

	headerPageNo      pagefile.PageID
	rootPageNo        pagefile.PageID
	initialRootPageNo pagefile.PageID

	// scan state
	scanExecuting bool
	nextEntry     int32
	currentRef    *buffer.PageRef
	lowVal        int32
	highVal       int32
	lowOp         Operator
	highOp        Operator
}

// IndexName derives the index file name from the relation and the indexed
// attribute's byte offset.
func IndexName(relationName string, attrByteOffset int32) string {
	return fmt.Sprintf("%s.%d", relationName, attrByteOffset)
}

// NewIndex opens the index for relationName/attrByteOffset, building it
// from the relation file when no index file exists yet. Returns the index
// and the index file name.
func NewIndex(logger *log.Logger, pool *buffer.Pool, opts Options) (*Index, string, error) {
	if opts.AttrType != IntType {
		return nil, "", fmt.Errorf("unsupported attribute type %d", opts.AttrType)
	}
	if len(opts.RelationName) >= relationNameSize {
		return nil, "", fmt.Errorf("relation name %q longer than %d bytes", opts.RelationName, relationNameSize-1)
	}
	if opts.LeafOrder == 0 {
		opts.LeafOrder = MaxLeafOrder
	}
	if opts.NodeOrder == 0 {
		opts.NodeOrder = MaxNodeOrder
	}
	// the split length formula degenerates below order 2
	if opts.LeafOrder < 2 || opts.LeafOrder > MaxLeafOrder {
		return nil, "", fmt.Errorf("leaf order %d out of range [2, %d]", opts.LeafOrder, MaxLeafOrder)
	}
	if opts.NodeOrder < 2 || opts.NodeOrder > MaxNodeOrder {
		return nil, "", fmt.Errorf("node order %d out of range [2, %d]", opts.NodeOrder, MaxNodeOrder)
	}

	indexName := IndexName(opts.RelationName, opts.AttrByteOffset)
	path := filepath.Join(opts.Dir, indexName)

	ix := &Index{
		logger:         logger,
		pool:           pool,
		relationName:   opts.RelationName,
		attrByteOffset: opts.AttrByteOffset,
		attrType:       opts.AttrType,
		leafOrder:      opts.LeafOrder,
		nodeOrder:      opts.NodeOrder,
	}

	if pagefile.Exists(path) {
		if err := ix.open(path); err != nil {
			return nil, "", err
		}
		return ix, indexName, nil
	}
	if err := ix.build(path, opts.RelationFile); err != nil {
		return nil, "", err
	}
	return ix, indexName, nil
}

// open loads an existing index file and verifies its meta page against the
// constructor arguments.
func (ix *Index) open(path string) error {
	file, err := pagefile.Open(ix.logger, path)
	if err != nil {
		return err
	}
	ix.file = file
	ix.headerPageNo = file.FirstPageNo()

	ref, err := ix.pool.ReadPage(file, ix.headerPageNo)
	if err != nil {
		file.Close()
		return err
	}
	meta := decodeMeta(ref.Bytes())
	if err := ref.Release(false); err != nil {
		file.Close()
		return err
	}

	if meta.relationName != ix.relationName ||
		meta.attrByteOffset != ix.attrByteOffset ||
		meta.attrType != ix.attrType ||
		meta.leafOrder != ix.leafOrder ||
		meta.nodeOrder != ix.nodeOrder {
		file.Close()
		ix.logger.Error().Str("index", path).Msg("index metadata does not match arguments")
		return ErrBadIndexInfo
	}

	ix.rootPageNo = meta.rootPageNo
	ix.initialRootPageNo = meta.initialRootPageNo
	return nil
}

// build creates the index file with its meta page and an empty leaf root,
// then bulk loads from the relation file when one is named.
func (ix *Index) build(path string, relationFile string) error {
	file, err := pagefile.Create(ix.logger, path)
	if err != nil {
		return err
	}
	ix.file = file

	metaRef, err := ix.pool.AllocPage(file)
	if err != nil {
		file.Remove()
		return err
	}
	ix.headerPageNo = metaRef.PageNo()

	rootRef, err := ix.pool.AllocPage(file)
	if err != nil {
		metaRef.Release(false)
		file.Remove()
		return err
	}
	ix.rootPageNo = rootRef.PageNo()
	ix.initialRootPageNo = ix.rootPageNo

	encodeLeaf(rootRef.Bytes(), newLeafNode(ix.leafOrder))
	encodeMeta(metaRef.Bytes(), &indexMeta{
		relationName:      ix.relationName,
		attrByteOffset:    ix.attrByteOffset,
		attrType:          ix.attrType,
		rootPageNo:        ix.rootPageNo,
		initialRootPageNo: ix.initialRootPageNo,
		leafOrder:         ix.leafOrder,
		nodeOrder:         ix.nodeOrder,
	})

	if err := rootRef.Release(true); err != nil {
		return err
	}
	if err := metaRef.Release(true); err != nil {
		return err
	}

	ix.logger.Debug().Str("index", path).Msg("built new index file")

	if relationFile == "" {
		return nil
	}
	return ix.bulkLoad(relationFile)
}

// bulkLoad drains the relation scanner, extracting the key at the indexed
// byte offset from every tuple.
func (ix *Index) bulkLoad(relationFile string) error {
	scan, err := record.NewFileScan(ix.logger, ix.pool, relationFile)
	if err != nil {
		return err
	}
	defer scan.Close()

	count := 0
	for {
		tuple, rid, err := scan.Next()
		if err == record.ErrEOF {
			break
		}
		if err != nil {
			return err
		}
		key := int32(binary.LittleEndian.Uint32(tuple[ix.attrByteOffset : ix.attrByteOffset+4]))
		if err := ix.InsertEntry(key, rid); err != nil {
			return err
		}
		count++
	}
	ix.logger.Debug().Str("relation", relationFile).Int("entries", count).Msg("bulk loaded index")
	return nil
}

// rootIsLeaf is the "is the root still the original leaf" predicate.
func (ix *Index) rootIsLeaf() bool {
	return ix.rootPageNo == ix.initialRootPageNo
}

// Close ends any running scan, flushes the index file through the pool and
// closes the file handle. The index file is not removed.
func (ix *Index) Close() error {
	if ix.scanExecuting {
		if err := ix.EndScan(); err != nil {
			return err
		}
	}
	if err := ix.pool.FlushFile(ix.file); err != nil {
		ix.logger.Error().Err(err).Str("index", ix.file.Name()).Msg("failed to flush index file")
		return err
	}
	return ix.file.Close()
}
