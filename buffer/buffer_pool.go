// Package buffer implements the LRU-K-backed buffer pool manager: the
// fixed-size array of in-memory frames that caches disk pages, the
// replacement policy deciding which frame to reclaim, and the page
// guards that make pin/unpin and latch/unlatch impossible to mismatch.
package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"latchdb/common"
	"latchdb/disk"
	"latchdb/disk/page"
)

// ErrNoFreeFrame is returned when every frame is pinned and the
// replacer has nothing evictable to offer.
var ErrNoFreeFrame = errors.New("buffer: no free frame available")

// BufferPoolManager is the buffer pool manager from spec.md §4.2: a
// fixed pool of frames, a page table mapping resident page ids to
// frames, a free list, and a Replacer choosing victims among unpinned
// frames. One global mutex protects the page table, free list, and
// replacer bookkeeping; it is never held across a disk read or write.
// A per-page-id mutex (ioLocks) serializes concurrent fetches of the
// same not-yet-resident page so the second caller blocks until the
// first has finished installing it, rather than racing to install two
// frames for the same id.
type BufferPoolManager struct {
	mu sync.Mutex

	pages     []*page.Page
	pageTable map[page.ID]int
	freeList  []int
	replacer  Replacer

	disk      disk.IDiskManager
	scheduler *disk.Scheduler

	ioLocks *common.KeyMutex[page.ID]
}

// NewBufferPoolManager builds a pool of poolSize frames backed by dm,
// with a replacer that promotes a frame to "hot" after replacerK
// accesses.
func NewBufferPoolManager(poolSize, replacerK int, dm disk.IDiskManager) *BufferPoolManager {
	pages := make([]*page.Page, poolSize)
	freeList := make([]int, poolSize)
	for i := range pages {
		pages[i] = page.New(page.InvalidID)
		freeList[i] = i
	}
	return &BufferPoolManager{
		pages:     pages,
		pageTable: make(map[page.ID]int, poolSize),
		freeList:  freeList,
		replacer:  NewLRUKReplacer(poolSize, replacerK),
		disk:      dm,
		ioLocks:   &common.KeyMutex[page.ID]{},
	}
}

// NewBufferPoolManagerWithScheduler is like NewBufferPoolManager but
// routes page I/O through a disk.Scheduler, letting reads and writes
// for distinct pages proceed concurrently across a worker pool instead
// of serializing on dm directly.
func NewBufferPoolManagerWithScheduler(poolSize, replacerK int, dm disk.IDiskManager) *BufferPoolManager {
	bp := NewBufferPoolManager(poolSize, replacerK, dm)
	bp.scheduler = disk.NewScheduler(dm)
	return bp
}

// PoolSize reports the number of frames in the pool.
func (b *BufferPoolManager) PoolSize() int { return len(b.pages) }

func (b *BufferPoolManager) readPage(id page.ID, dest []byte) error {
	if b.scheduler != nil {
		return b.scheduler.SubmitRead(id, dest)
	}
	return b.disk.ReadPage(id, dest)
}

func (b *BufferPoolManager) writePage(id page.ID, src []byte) error {
	if b.scheduler != nil {
		return b.scheduler.SubmitWrite(id, src)
	}
	return b.disk.WritePage(id, src)
}

// grabFrame finds a frame to (re)use: one off the free list, or the
// replacer's chosen victim. A dirty victim is flushed to disk before
// its frame is handed back — that write happens with mu released, so
// no other frame lookup blocks on it. mu must be held on entry and is
// held again on return.
func (b *BufferPoolManager) grabFrame() (int, bool) {
	if n := len(b.freeList); n > 0 {
		frameID := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		return frameID, true
	}

	frameID, ok := b.replacer.Evict()
	if !ok {
		return 0, false
	}

	pg := b.pages[frameID]
	oldID := pg.ID()
	delete(b.pageTable, oldID)

	if pg.IsDirty() {
		logrus.WithFields(logrus.Fields{"page_id": oldID, "frame_id": frameID}).Debug("buffer: flushing dirty victim page during eviction")
		data := make([]byte, page.Size)
		copy(data, pg.Data())
		b.mu.Unlock()
		err := b.writePage(oldID, data)
		b.mu.Lock()
		if err != nil {
			logrus.WithError(err).WithField("page_id", oldID).Error("buffer: failed to flush victim page during eviction")
			panic(fmt.Sprintf("buffer: flushing victim page %d during eviction: %v", oldID, err))
		}
	}

	return frameID, true
}

// NewPage allocates a fresh page id and pins a zeroed, clean page for
// it in some frame, evicting a victim if the pool is full.
func (b *BufferPoolManager) NewPage() (*page.Page, error) {
	b.mu.Lock()
	frameID, ok := b.grabFrame()
	if !ok {
		b.mu.Unlock()
		return nil, ErrNoFreeFrame
	}

	id := b.disk.AllocatePage()
	pg := b.pages[frameID]
	pg.Reset(id)
	pg.ResetPinCount(1)
	b.pageTable[id] = frameID
	b.replacer.RecordAccess(frameID, AccessTypeNewPage)
	b.mu.Unlock()

	return pg, nil
}

// FetchPage returns the page for id, pinned once, reading it from
// disk if it is not already resident. accessType lets the replacer
// weigh scan-driven fetches differently from point lookups while the
// frame is still cold.
func (b *BufferPoolManager) FetchPage(id page.ID, accessType AccessType) (*page.Page, error) {
	b.mu.Lock()
	if frameID, ok := b.pageTable[id]; ok {
		pg := b.pages[frameID]
		if pg.PinCount() == 0 {
			b.replacer.SetEvictable(frameID, false)
		}
		pg.IncrPinCount()
		b.replacer.RecordAccess(frameID, accessType)
		b.mu.Unlock()
		return pg, nil
	}
	b.mu.Unlock()

	// id is not resident. Take the per-id io lock before re-taking the
	// global latch, so a concurrent fetch of the same id blocks here
	// instead of stalling every other page's traffic behind b.mu.
	release := b.ioLocks.Lock(id)
	defer release()

	b.mu.Lock()
	if frameID, ok := b.pageTable[id]; ok {
		// another goroutine fetched id while this one waited for the io lock.
		pg := b.pages[frameID]
		if pg.PinCount() == 0 {
			b.replacer.SetEvictable(frameID, false)
		}
		pg.IncrPinCount()
		b.replacer.RecordAccess(frameID, accessType)
		b.mu.Unlock()
		return pg, nil
	}

	frameID, ok := b.grabFrame()
	if !ok {
		b.mu.Unlock()
		return nil, ErrNoFreeFrame
	}
	pg := b.pages[frameID]
	pg.Reset(id)
	pg.ResetPinCount(1)
	// Deliberately not published to b.pageTable yet: frameID belongs to
	// this goroutine alone until the read below fills it, so no other
	// fetcher's fast path can observe it with stale or zeroed bytes.
	// ioLocks still serializes a concurrent miss on the same id.
	b.mu.Unlock()

	if err := b.readPage(id, pg.Data()); err != nil {
		b.mu.Lock()
		pg.ResetPinCount(0)
		b.freeList = append(b.freeList, frameID)
		b.mu.Unlock()
		return nil, err
	}

	b.mu.Lock()
	b.pageTable[id] = frameID
	b.replacer.RecordAccess(frameID, accessType)
	b.mu.Unlock()
	return pg, nil
}

// UnpinPage drops one pin on id. If isDirty, the page's dirty flag is
// set (dirty only ever clears via FlushPage). Once the pin count
// reaches zero the frame becomes eligible for eviction. Reports false
// if id is not resident or already has no outstanding pins.
func (b *BufferPoolManager) UnpinPage(id page.ID, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable[id]
	if !ok {
		return false
	}
	pg := b.pages[frameID]
	if pg.PinCount() <= 0 {
		return false
	}
	if isDirty {
		pg.SetDirty()
	}
	pg.DecrPinCount()
	if pg.PinCount() == 0 {
		b.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes id's current frame contents to disk unconditionally
// and clears its dirty flag, regardless of pin count. Reports false if
// id is not resident, or if a writer currently holds the page's
// exclusive latch (mirroring the teacher's ErrRLockFailed behavior
// rather than blocking the caller on a concurrent write).
func (b *BufferPoolManager) FlushPage(id page.ID) bool {
	b.mu.Lock()
	frameID, ok := b.pageTable[id]
	if !ok {
		b.mu.Unlock()
		return false
	}
	pg := b.pages[frameID]
	b.mu.Unlock()

	if !pg.TryRLatch() {
		return false
	}
	data := make([]byte, page.Size)
	copy(data, pg.Data())
	pg.RUnlatch()

	if err := b.writePage(id, data); err != nil {
		return false
	}
	pg.SetClean()
	return true
}

// FlushAllPages flushes every currently resident page.
func (b *BufferPoolManager) FlushAllPages() {
	b.mu.Lock()
	ids := make([]page.ID, 0, len(b.pageTable))
	for id := range b.pageTable {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.FlushPage(id)
	}
}

// DeletePage removes id from the pool and calls the disk manager's
// DeallocatePage for it. Reports false if id is resident and still
// pinned; reports true (a no-op) if id is not resident at all.
func (b *BufferPoolManager) DeletePage(id page.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable[id]
	if !ok {
		return true
	}
	pg := b.pages[frameID]
	if pg.PinCount() > 0 {
		return false
	}

	b.replacer.Remove(frameID)
	delete(b.pageTable, id)
	pg.Reset(page.InvalidID)
	b.freeList = append(b.freeList, frameID)
	b.disk.DeallocatePage(id)
	return true
}

// FetchPageBasic fetches id and wraps it in a BasicPageGuard, taking
// no per-page latch.
func (b *BufferPoolManager) FetchPageBasic(id page.ID) (BasicPageGuard, error) {
	pg, err := b.FetchPage(id, AccessTypeUnknown)
	if err != nil {
		return BasicPageGuard{}, err
	}
	return newBasicPageGuard(b, pg), nil
}

// FetchPageRead fetches id and returns it behind its shared latch.
func (b *BufferPoolManager) FetchPageRead(id page.ID) (ReadPageGuard, error) {
	pg, err := b.FetchPage(id, AccessTypeUnknown)
	if err != nil {
		return ReadPageGuard{}, err
	}
	return newReadPageGuard(b, pg), nil
}

// FetchPageWrite fetches id and returns it behind its exclusive latch.
func (b *BufferPoolManager) FetchPageWrite(id page.ID) (WritePageGuard, error) {
	pg, err := b.FetchPage(id, AccessTypeUnknown)
	if err != nil {
		return WritePageGuard{}, err
	}
	return newWritePageGuard(b, pg), nil
}

// NewPageGuarded allocates a fresh page and wraps it in a BasicPageGuard.
func (b *BufferPoolManager) NewPageGuarded() (BasicPageGuard, error) {
	pg, err := b.NewPage()
	if err != nil {
		return BasicPageGuard{}, err
	}
	return newBasicPageGuard(b, pg), nil
}
