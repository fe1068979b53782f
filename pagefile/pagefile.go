package pagefile

import (
	"encoding/binary"
	"fmt"
	"os"

	"burrow-db/utils/checksums"
	"burrow-db/utils/freelist"

	"github.com/phuslu/log"
	"github.com/pkg/errors"
)

const PageSize = uint32(4096)

// one header block in front of the page area
const headerSize = PageSize

// header block layout
const (
	headerCRCOffset     = 0
	headerMagicOffset   = 4
	headerFirstPgOffset = 8
	headerBitmapOffset  = 12
)

const fileMagic = uint32(0x42575246) // "BRWF"

// MaxPages is bounded by the allocation bitmap that fits in the header block.
const MaxPages = uint32(headerSize-headerBitmapOffset) * 8

const permissionBits = 0644

// PageID identifies a page within a single file. IDs start at 1;
// InvalidPageID marks "no page".
type PageID uint32

const InvalidPageID = PageID(0)

var (
	ErrFileNotFound = fmt.Errorf("page file not found")
	ErrFileExists   = fmt.Errorf("page file already exists")
	ErrFileClosed   = fmt.Errorf("page file is closed")
	ErrFileFull     = fmt.Errorf("page file is full")
	ErrInvalidPage  = fmt.Errorf("page is not allocated in file")
	ErrBadHeader    = fmt.Errorf("page file header corrupted")
	ErrEOF          = fmt.Errorf("end of file")
)

/*
File is a flat collection of fixed size pages behind a single header block.

┌──────────────────────────────────────────────────────────────┐
| crc (4byte) | magic (4byte) | firstPageNo (4byte)            |
| allocation bitmap, 1 bit per page id ........                |
|────────────────────── 4kb header ────────────────────────────|
| page 1                                                       |
|--------------------------------------------------------------|
| page 2 ......                                                |
└──────────────────────────────────────────────────────────────┘

Page id p lives at byte offset headerSize + (p-1)*PageSize. Deleted page ids
are handed out again by the bitmap, lowest id first.
*/
type File struct {
	logger      *log.Logger
	name        string
	osFile      *os.File
	header      []byte
	freeList    *freelist.BitmapFreeList
	firstPageNo PageID
	closed      bool
}

// Create makes a fresh page file at path. Fails with ErrFileExists when a
// file is already there.
func Create(logger *log.Logger, path string) (*File, error) {
	if Exists(path) {
		return nil, ErrFileExists
	}

	osFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, permissionBits)
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("failed to create page file")
		return nil, errors.Wrapf(err, "create page file %s", path)
	}

	pf := &File{
		logger: logger,
		name:   path,
		osFile: osFile,
		header: make([]byte, headerSize),
	}
	binary.LittleEndian.PutUint32(pf.header[headerMagicOffset:], fileMagic)
	pf.freeList = freelist.NewBitmapFreeList(pf.header[headerBitmapOffset:], 1, uint64(MaxPages))

	if err := pf.writeHeader(); err != nil {
		osFile.Close()
		os.Remove(path)
		return nil, err
	}

	registerOpen(path)
	return pf, nil
}

// Open loads an existing page file. Fails with ErrFileNotFound when absent.
func Open(logger *log.Logger, path string) (*File, error) {
	if !Exists(path) {
		return nil, ErrFileNotFound
	}

	osFile, err := os.OpenFile(path, os.O_RDWR, permissionBits)
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("failed to open page file")
		return nil, errors.Wrapf(err, "open page file %s", path)
	}

	header := make([]byte, headerSize)
	if _, err := osFile.ReadAt(header, 0); err != nil {
		osFile.Close()
		logger.Error().Err(err).Str("file", path).Msg("failed to read page file header")
		return nil, errors.Wrapf(err, "read header of %s", path)
	}

	if !checksums.VerifyCRC(header[headerCRCOffset:], header[headerMagicOffset:]) {
		osFile.Close()
		return nil, ErrBadHeader
	}
	if binary.LittleEndian.Uint32(header[headerMagicOffset:]) != fileMagic {
		osFile.Close()
		return nil, ErrBadHeader
	}

	pf := &File{
		logger:      logger,
		name:        path,
		osFile:      osFile,
		header:      header,
		firstPageNo: PageID(binary.LittleEndian.Uint32(header[headerFirstPgOffset:])),
	}
	pf.freeList = freelist.NewBitmapFreeList(pf.header[headerBitmapOffset:], 1, uint64(MaxPages))

	registerOpen(path)
	return pf, nil
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AllocatePage assigns the lowest unused page id, zero fills the page on
// disk and persists the updated header before returning.
func (pf *File) AllocatePage() (PageID, error) {
	if pf.closed {
		return InvalidPageID, ErrFileClosed
	}

	slot, ok := pf.freeList.Get()
	if !ok {
		return InvalidPageID, ErrFileFull
	}
	pageNo := PageID(slot)

	zero := make([]byte, PageSize)
	if _, err := pf.osFile.WriteAt(zero, pf.pageOffset(pageNo)); err != nil {
		pf.freeList.Release(slot)
		pf.logger.Error().Err(err).Str("file", pf.name).Uint32("page", uint32(pageNo)).Msg("failed to extend page file")
		return InvalidPageID, errors.Wrapf(err, "allocate page %d in %s", pageNo, pf.name)
	}

	if pf.firstPageNo == InvalidPageID || pageNo < pf.firstPageNo {
		pf.firstPageNo = pageNo
	}
	if err := pf.writeHeader(); err != nil {
		pf.freeList.Release(slot)
		return InvalidPageID, err
	}

	return pageNo, nil
}

func (pf *File) ReadPage(pageNo PageID, buffer []byte) error {
	if pf.closed {
		return ErrFileClosed
	}
	if !pf.isAllocated(pageNo) {
		return ErrInvalidPage
	}
	if _, err := pf.osFile.ReadAt(buffer[:PageSize], pf.pageOffset(pageNo)); err != nil {
		pf.logger.Error().Err(err).Str("file", pf.name).Uint32("page", uint32(pageNo)).Msg("failed to read page")
		return errors.Wrapf(err, "read page %d of %s", pageNo, pf.name)
	}
	return nil
}

func (pf *File) WritePage(pageNo PageID, buffer []byte) error {
	if pf.closed {
		return ErrFileClosed
	}
	if !pf.isAllocated(pageNo) {
		return ErrInvalidPage
	}
	if _, err := pf.osFile.WriteAt(buffer[:PageSize], pf.pageOffset(pageNo)); err != nil {
		pf.logger.Error().Err(err).Str("file", pf.name).Uint32("page", uint32(pageNo)).Msg("failed to write page")
		return errors.Wrapf(err, "write page %d of %s", pageNo, pf.name)
	}
	return nil
}

// DeletePage releases the page id for reuse. The page bytes stay on disk
// until the id is allocated again.
func (pf *File) DeletePage(pageNo PageID) error {
	if pf.closed {
		return ErrFileClosed
	}
	if !pf.isAllocated(pageNo) {
		return ErrInvalidPage
	}

	pf.freeList.Release(uint64(pageNo))
	if pf.firstPageNo == pageNo {
		next, err := pf.NextPageNo(pageNo)
		if err != nil {
			next = InvalidPageID
		}
		pf.firstPageNo = next
	}
	return pf.writeHeader()
}

func (pf *File) FirstPageNo() PageID {
	return pf.firstPageNo
}

// NextPageNo returns the next allocated page id after pageNo, in id order.
// ErrEOF past the last allocated page. pageNo 0 starts the iteration.
func (pf *File) NextPageNo(pageNo PageID) (PageID, error) {
	for next := pageNo + 1; uint32(next) <= MaxPages; next++ {
		if pf.isAllocated(next) {
			return next, nil
		}
	}
	return InvalidPageID, ErrEOF
}

func (pf *File) PageCount() uint32 {
	return MaxPages - uint32(pf.freeList.FreeCount())
}

func (pf *File) Name() string {
	return pf.name
}

func (pf *File) Close() error {
	if pf.closed {
		return nil
	}
	pf.closed = true
	registerClose(pf.name)
	if err := pf.osFile.Sync(); err != nil {
		pf.logger.Error().Err(err).Str("file", pf.name).Msg("failed to sync page file")
		return errors.Wrapf(err, "sync %s", pf.name)
	}
	return pf.osFile.Close()
}

// Remove closes the file and unlinks it from disk.
func (pf *File) Remove() error {
	if err := pf.Close(); err != nil {
		return err
	}
	return os.Remove(pf.name)
}

func (pf *File) isAllocated(pageNo PageID) bool {
	if pageNo == InvalidPageID || uint32(pageNo) > MaxPages {
		return false
	}
	return !pf.freeList.IsFree(uint64(pageNo))
}

func (pf *File) pageOffset(pageNo PageID) int64 {
	return int64(headerSize) + int64(pageNo-1)*int64(PageSize)
}

func (pf *File) writeHeader() error {
	binary.LittleEndian.PutUint32(pf.header[headerFirstPgOffset:], uint32(pf.firstPageNo))
	checksums.CalculateCRC(pf.header[headerCRCOffset:], pf.header[headerMagicOffset:])
	if _, err := pf.osFile.WriteAt(pf.header, 0); err != nil {
		pf.logger.Error().Err(err).Str("file", pf.name).Msg("failed to write page file header")
		return errors.Wrapf(err, "write header of %s", pf.name)
	}
	return nil
}
