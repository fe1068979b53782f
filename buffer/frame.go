package buffer

import (
	"burrow-db/pagefile"
)

// frameDesc is the bookkeeping for one frame of the pool: which page the
// frame holds, whether it has been modified, and how many callers still
// hold a pin on it.
type frameDesc struct {
	frameNo int
	file    *pagefile.File
	pageNo  pagefile.PageID
	buffer  []byte
	valid   bool
	dirty   bool
	refbit  bool
	pinCnt  uint32
}

// set prepares the frame for a newly loaded page: pinned once, clean,
// refbit down. Only a repeat hit on the resident page raises the refbit.
func (fd *frameDesc) set(file *pagefile.File, pageNo pagefile.PageID) {
	fd.file = file
	fd.pageNo = pageNo
	fd.valid = true
	fd.dirty = false
	fd.refbit = false
	fd.pinCnt = 1
}

func (fd *frameDesc) clear() {
	fd.file = nil
	fd.pageNo = pagefile.InvalidPageID
	fd.valid = false
	fd.dirty = false
	fd.refbit = false
	fd.pinCnt = 0
}

// PageRef is a scoped pin on a buffered page. The page bytes may only be
// touched while the ref is live; Release drops the pin and invalidates
// the ref, after which Bytes returns nil.
type PageRef struct {
	pool     *Pool
	file     *pagefile.File
	pageNo   pagefile.PageID
	frame    *frameDesc
	released bool
}

func (ref *PageRef) PageNo() pagefile.PageID {
	return ref.pageNo
}

func (ref *PageRef) Bytes() []byte {
	if ref.released {
		return nil
	}
	return ref.frame.buffer
}

// Release unpins the page. dirty marks the frame for write back before the
// frame is recycled. Releasing twice fails with ErrPageNotPinned.
func (ref *PageRef) Release(dirty bool) error {
	if ref.released {
		return ErrPageNotPinned
	}
	ref.released = true
	return ref.pool.UnpinPage(ref.file, ref.pageNo, dirty)
}
