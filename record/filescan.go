package record

import (
	"encoding/binary"

	"burrow-db/buffer"
	"burrow-db/pagefile"

	"github.com/phuslu/log"
)

// ErrEOF signals a drained FileScan.
var ErrEOF = pagefile.ErrEOF

// FileScan is a one-shot forward iterator over a relation heap file. The
// page under the cursor stays pinned between Next calls; advancing to the
// next page or closing the scan drops the pin.
type FileScan struct {
	logger        *log.Logger
	pool          *buffer.Pool
	file          *pagefile.File
	ownsFile      bool
	currentRef    *buffer.PageRef
	currentPageNo pagefile.PageID
	nextSlot      uint16
	done          bool
}

// NewFileScan opens a scan over the relation at path.
func NewFileScan(logger *log.Logger, pool *buffer.Pool, path string) (*FileScan, error) {
	file, err := pagefile.Open(logger, path)
	if err != nil {
		return nil, err
	}
	return &FileScan{
		logger:   logger,
		pool:     pool,
		file:     file,
		ownsFile: true,
	}, nil
}

// NewHeapFileScan scans an already open relation without taking ownership
// of the underlying file handle.
func NewHeapFileScan(logger *log.Logger, pool *buffer.Pool, hf *HeapFile) *FileScan {
	return &FileScan{
		logger: logger,
		pool:   pool,
		file:   hf.File(),
	}
}

// Next yields the next tuple and its record id, ErrEOF once the relation
// is exhausted. The returned bytes are a copy and stay valid after the
// scan moves on.
func (fs *FileScan) Next() ([]byte, ID, error) {
	if fs.done {
		return nil, ID{}, ErrEOF
	}

	for {
		if fs.currentRef == nil {
			pageNo, err := fs.file.NextPageNo(fs.currentPageNo)
			if err != nil {
				fs.done = true
				return nil, ID{}, ErrEOF
			}
			ref, err := fs.pool.ReadPage(fs.file, pageNo)
			if err != nil {
				return nil, ID{}, err
			}
			fs.currentRef = ref
			fs.currentPageNo = pageNo
			fs.nextSlot = 0
		}

		page := fs.currentRef.Bytes()
		slots := binary.LittleEndian.Uint16(page[0:2])
		tupleLen := binary.LittleEndian.Uint16(page[2:4])

		if fs.nextSlot < slots {
			offset := heapPageHeaderSize + int(fs.nextSlot)*int(tupleLen)
			tuple := make([]byte, tupleLen)
			copy(tuple, page[offset:offset+int(tupleLen)])
			rid := ID{PageNo: fs.currentPageNo, SlotNo: fs.nextSlot}
			fs.nextSlot++
			return tuple, rid, nil
		}

		// page drained, move to its successor
		if err := fs.currentRef.Release(false); err != nil {
			return nil, ID{}, err
		}
		fs.currentRef = nil
	}
}

// Close drops any held pin and, for scans opened by path, the file handle.
func (fs *FileScan) Close() error {
	fs.done = true
	if fs.currentRef != nil {
		if err := fs.currentRef.Release(false); err != nil {
			return err
		}
		fs.currentRef = nil
	}
	if fs.ownsFile {
		return fs.file.Close()
	}
	return nil
}
