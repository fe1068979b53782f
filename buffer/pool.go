package buffer

import (
	"fmt"

	"burrow-db/pagefile"

	"github.com/phuslu/log"
	"github.com/pkg/errors"
)

var (
	// ErrBufferExceeded means every frame of the pool is pinned and no
	// victim can be chosen. The caller has to unpin something and retry.
	ErrBufferExceeded = fmt.Errorf("all buffer frames are pinned")
	// ErrPagePinned is raised by FlushFile when a page of the file still
	// has a live pin.
	ErrPagePinned = fmt.Errorf("page is pinned")
	// ErrPageNotPinned is raised when unpinning a page whose pin count is
	// already zero.
	ErrPageNotPinned = fmt.Errorf("page is not pinned")
	// ErrBadBuffer means FlushFile found an invalid frame bound to the
	// file, which indicates a page table / frame directory inconsistency.
	ErrBadBuffer = fmt.Errorf("invalid frame in buffer pool")

	// errHashNotFound is the internal page table miss. It never escapes
	// the pool: ReadPage loads the page instead, UnpinPage and
	// DisposePage treat the miss as a no-op.
	errHashNotFound = fmt.Errorf("page not present in page table")
)

type frameKey struct {
	file   *pagefile.File
	pageNo pagefile.PageID
}

// Stats are the pool's access counters. Observable, not behavioral.
type Stats struct {
	Accesses   uint64
	DiskReads  uint64
	DiskWrites uint64
}

/*
Pool is a fixed set of page frames shared by every open page file.

A page enters a frame through ReadPage or AllocPage and stays resident until
the clock sweep recycles the frame. Pins guard residency: a pinned frame is
never chosen as victim, so a caller holding a PageRef can use the page bytes
without them moving underneath. The page table maps (file, pageNo) to the
frame currently holding that page and is kept in lock step with the frame
directory.
*/
type Pool struct {
	logger    *log.Logger
	frames    []frameDesc
	pageTable map[frameKey]int
	clockHand int
	stats     Stats
}

func NewPool(logger *log.Logger, numFrames int) (*Pool, error) {
	if numFrames < 1 {
		return nil, fmt.Errorf("pool needs at least one frame, got %d", numFrames)
	}

	pool := &Pool{
		logger:    logger,
		frames:    make([]frameDesc, numFrames),
		pageTable: make(map[frameKey]int, numFrames),
		clockHand: numFrames - 1,
	}
	for i := range pool.frames {
		pool.frames[i].frameNo = i
		pool.frames[i].buffer = make([]byte, pagefile.PageSize)
	}
	return pool, nil
}

func (p *Pool) NumFrames() int {
	return len(p.frames)
}

func (p *Pool) Stats() Stats {
	return p.stats
}

func (p *Pool) ResetStats() {
	p.stats = Stats{}
}

// ReadPage pins the page into a frame and returns a ref to it. A resident
// page costs nothing but a pin; a miss evicts a victim frame and reads the
// page from the file.
func (p *Pool) ReadPage(file *pagefile.File, pageNo pagefile.PageID) (*PageRef, error) {
	frameNo, err := p.lookup(file, pageNo)
	if err == nil {
		fd := &p.frames[frameNo]
		fd.refbit = true
		fd.pinCnt++
	} else {
		frameNo, err = p.allocFrame()
		if err != nil {
			return nil, err
		}
		fd := &p.frames[frameNo]
		if err := file.ReadPage(pageNo, fd.buffer); err != nil {
			return nil, err
		}
		p.stats.DiskReads++
		p.pageTable[frameKey{file, pageNo}] = frameNo
		fd.set(file, pageNo)
	}
	p.stats.Accesses++

	return &PageRef{pool: p, file: file, pageNo: pageNo, frame: &p.frames[frameNo]}, nil
}

// AllocPage grows the file by one page and pins it into a frame.
func (p *Pool) AllocPage(file *pagefile.File) (*PageRef, error) {
	pageNo, err := file.AllocatePage()
	if err != nil {
		return nil, err
	}

	frameNo, err := p.allocFrame()
	if err != nil {
		return nil, err
	}
	fd := &p.frames[frameNo]
	// freshly allocated pages are zero initialized on disk
	for i := range fd.buffer {
		fd.buffer[i] = 0
	}
	p.pageTable[frameKey{file, pageNo}] = frameNo
	fd.set(file, pageNo)
	p.stats.Accesses++

	return &PageRef{pool: p, file: file, pageNo: pageNo, frame: fd}, nil
}

// UnpinPage drops one pin and folds dirty into the frame's dirty bit.
// Unknown pages are ignored; a zero pin count fails with ErrPageNotPinned.
func (p *Pool) UnpinPage(file *pagefile.File, pageNo pagefile.PageID, dirty bool) error {
	frameNo, err := p.lookup(file, pageNo)
	if err != nil {
		return nil
	}

	fd := &p.frames[frameNo]
	if fd.pinCnt == 0 {
		return errors.Wrapf(ErrPageNotPinned, "page %d of %s", pageNo, file.Name())
	}
	fd.pinCnt--
	if dirty {
		fd.dirty = true
	}
	p.stats.Accesses++
	return nil
}

// DisposePage drops the page from the pool without write back, then deletes
// it from the file. The frame is cleared even while pinned; any live refs
// to the page are invalidated by this call.
func (p *Pool) DisposePage(file *pagefile.File, pageNo pagefile.PageID) error {
	frameNo, err := p.lookup(file, pageNo)
	if err == nil {
		delete(p.pageTable, frameKey{file, pageNo})
		p.frames[frameNo].clear()
	}
	return file.DeletePage(pageNo)
}

// FlushFile writes back every dirty frame of the file and drops the file's
// pages from the pool. Fails with ErrPagePinned if any page of the file is
// still pinned, ErrBadBuffer on an invalid frame bound to the file.
func (p *Pool) FlushFile(file *pagefile.File) error {
	for i := range p.frames {
		fd := &p.frames[i]
		if fd.file != file {
			continue
		}
		p.stats.Accesses++

		if !fd.valid {
			return errors.Wrapf(ErrBadBuffer, "frame %d", fd.frameNo)
		}
		if fd.pinCnt > 0 {
			return errors.Wrapf(ErrPagePinned, "page %d of %s", fd.pageNo, file.Name())
		}

		if fd.dirty {
			if err := file.WritePage(fd.pageNo, fd.buffer); err != nil {
				return err
			}
			fd.dirty = false
			p.stats.DiskWrites++
		}

		delete(p.pageTable, frameKey{file, fd.pageNo})
		fd.clear()
	}
	return nil
}

// Close writes back every valid dirty frame whose backing file is still
// open. Best effort: pinned frames are written back too rather than
// failing, since the process is tearing down.
func (p *Pool) Close() error {
	for i := range p.frames {
		fd := &p.frames[i]
		if !fd.valid || !fd.dirty {
			continue
		}
		if !pagefile.IsOpen(fd.file.Name()) {
			continue
		}
		if err := fd.file.WritePage(fd.pageNo, fd.buffer); err != nil {
			p.logger.Error().Err(err).Str("file", fd.file.Name()).Uint32("page", uint32(fd.pageNo)).Msg("failed to write back page at pool close")
			continue
		}
		fd.dirty = false
		p.stats.DiskWrites++
	}
	return nil
}

func (p *Pool) lookup(file *pagefile.File, pageNo pagefile.PageID) (int, error) {
	frameNo, ok := p.pageTable[frameKey{file, pageNo}]
	if !ok {
		return -1, errHashNotFound
	}
	return frameNo, nil
}

func (p *Pool) advanceClock() {
	p.clockHand = (p.clockHand + 1) % len(p.frames)
}

// allocFrame runs the clock sweep and returns a free frame.
//
// The sweep is bounded at two revolutions: the first revolution clears
// reference bits at worst, the second then finds a victim unless every
// frame is pinned. A run of consecutive pinned frames as long as the pool
// proves exactly that and fails with ErrBufferExceeded.
func (p *Pool) allocFrame() (int, error) {
	numFrames := len(p.frames)
	pinRun := 0
	lastPinned := false

	for step := 0; step <= 2*numFrames; step++ {
		p.advanceClock()

		if pinRun == numFrames {
			return -1, ErrBufferExceeded
		}

		fd := &p.frames[p.clockHand]

		// never used, take it as is
		if !fd.valid {
			p.stats.Accesses++
			return p.clockHand, nil
		}

		if fd.refbit {
			fd.refbit = false
			// an unpinned frame breaks the pinned run
			if fd.pinCnt == 0 {
				lastPinned = false
			}
			continue
		}

		if fd.pinCnt > 0 {
			if lastPinned {
				pinRun++
			} else {
				lastPinned = true
				pinRun = 1
			}
			continue
		}
		lastPinned = false

		if fd.dirty {
			if err := fd.file.WritePage(fd.pageNo, fd.buffer); err != nil {
				return -1, err
			}
			fd.dirty = false
			p.stats.DiskWrites++
		}

		delete(p.pageTable, frameKey{fd.file, fd.pageNo})
		fd.clear()
		p.stats.Accesses++
		return p.clockHand, nil
	}

	return -1, ErrBufferExceeded
}
