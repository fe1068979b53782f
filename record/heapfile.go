package record

import (
	"encoding/binary"
	"fmt"

	"burrow-db/buffer"
	"burrow-db/pagefile"

	"github.com/phuslu/log"
)

/*
Heap page of a relation file. Tuples are fixed width, appended in slot order.

┌──────────────────────────────────────────────────────────────┐
| slotCount (2byte) | tupleLen (2byte)                         |
|--------------------------------------------------------------|
| tuple 0 | tuple 1 | ......                                   |
└──────────────────────────────────────────────────────────────┘
*/
const heapPageHeaderSize = 4

var (
	ErrTupleTooLarge = fmt.Errorf("tuple larger than heap page capacity")
	ErrTupleLen      = fmt.Errorf("tuple length does not match relation")
)

// HeapFile is an append-only relation of fixed width tuples. Every page
// access goes through the buffer pool.
type HeapFile struct {
	logger     *log.Logger
	pool       *buffer.Pool
	file       *pagefile.File
	tupleLen   uint16
	lastPageNo pagefile.PageID
}

// NewHeapFile opens the relation at path, creating it when absent.
func NewHeapFile(logger *log.Logger, pool *buffer.Pool, path string, tupleLen uint16) (*HeapFile, error) {
	if tupleLen == 0 || uint32(tupleLen) > pagefile.PageSize-heapPageHeaderSize {
		return nil, ErrTupleTooLarge
	}

	var file *pagefile.File
	var err error
	if pagefile.Exists(path) {
		file, err = pagefile.Open(logger, path)
	} else {
		file, err = pagefile.Create(logger, path)
	}
	if err != nil {
		return nil, err
	}

	hf := &HeapFile{
		logger:   logger,
		pool:     pool,
		file:     file,
		tupleLen: tupleLen,
	}

	// pick up the append position from an existing relation
	for pageNo, err := file.NextPageNo(0); err == nil; pageNo, err = file.NextPageNo(pageNo) {
		hf.lastPageNo = pageNo
	}
	return hf, nil
}

func (hf *HeapFile) pageCapacity() uint16 {
	return uint16((pagefile.PageSize - heapPageHeaderSize) / uint32(hf.tupleLen))
}

// Append stores one tuple and returns its record id.
func (hf *HeapFile) Append(tuple []byte) (ID, error) {
	if len(tuple) != int(hf.tupleLen) {
		return ID{}, ErrTupleLen
	}

	var ref *buffer.PageRef
	var err error
	if hf.lastPageNo != pagefile.InvalidPageID {
		ref, err = hf.pool.ReadPage(hf.file, hf.lastPageNo)
		if err != nil {
			return ID{}, err
		}
		if slotCount(ref.Bytes()) >= hf.pageCapacity() {
			if err := ref.Release(false); err != nil {
				return ID{}, err
			}
			ref = nil
		}
	}
	if ref == nil {
		ref, err = hf.pool.AllocPage(hf.file)
		if err != nil {
			return ID{}, err
		}
		hf.lastPageNo = ref.PageNo()
		binary.LittleEndian.PutUint16(ref.Bytes()[2:4], hf.tupleLen)
	}

	page := ref.Bytes()
	slot := slotCount(page)
	offset := heapPageHeaderSize + int(slot)*int(hf.tupleLen)
	copy(page[offset:offset+int(hf.tupleLen)], tuple)
	binary.LittleEndian.PutUint16(page[0:2], slot+1)

	rid := ID{PageNo: ref.PageNo(), SlotNo: slot}
	if err := ref.Release(true); err != nil {
		return ID{}, err
	}
	return rid, nil
}

func (hf *HeapFile) File() *pagefile.File {
	return hf.file
}

func (hf *HeapFile) Name() string {
	return hf.file.Name()
}

func (hf *HeapFile) TupleLen() uint16 {
	return hf.tupleLen
}

// Close flushes the relation's pages out of the pool and closes the file.
func (hf *HeapFile) Close() error {
	if err := hf.pool.FlushFile(hf.file); err != nil {
		hf.logger.Error().Err(err).Str("file", hf.file.Name()).Msg("failed to flush relation")
		return err
	}
	return hf.file.Close()
}

func slotCount(page []byte) uint16 {
	return binary.LittleEndian.Uint16(page[0:2])
}
