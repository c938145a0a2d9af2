// Package buffer implements a fixed-size buffer pool of page frames with
// pin counts, per-frame reader/writer latches and LRU replacement.
package buffer

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/oda/bpindex/internal/disk"
)

// ErrNoFreeFrames is returned when every frame in the pool is pinned and
// a new or fetched page cannot be given a frame.
var ErrNoFreeFrames = errors.New("buffer: all frames are pinned")

// PoolManager caches disk pages in a fixed set of frames.
type PoolManager struct {
	mu        sync.Mutex
	frames    []*Page
	pageTable map[disk.PageID]FrameID
	freeList  []FrameID
	replacer  *LRUReplacer
	dm        *disk.Manager
}

// NewPoolManager creates a pool with the given number of frames on top
// of a disk manager.
func NewPoolManager(poolSize int, dm *disk.Manager) *PoolManager {
	pm := &PoolManager{
		frames:    make([]*Page, poolSize),
		pageTable: make(map[disk.PageID]FrameID, poolSize),
		freeList:  make([]FrameID, 0, poolSize),
		replacer:  NewLRUReplacer(),
		dm:        dm,
	}
	for i := range pm.frames {
		pm.frames[i] = &Page{id: disk.InvalidPageID}
		pm.freeList = append(pm.freeList, FrameID(i))
	}
	return pm
}

// takeFrame finds a frame for a new resident page, writing back the
// evicted page if dirty. Caller holds pm.mu.
func (pm *PoolManager) takeFrame() (FrameID, *Page, error) {
	var frameID FrameID
	if len(pm.freeList) > 0 {
		frameID = pm.freeList[0]
		pm.freeList = pm.freeList[1:]
	} else {
		victim, ok := pm.replacer.Victim()
		if !ok {
			return 0, nil, ErrNoFreeFrames
		}
		frameID = victim
	}

	page := pm.frames[frameID]
	if page.PinCount() != 0 {
		panic("buffer: evicting a pinned frame")
	}
	if page.id != disk.InvalidPageID {
		if page.dirty {
			if err := pm.dm.WritePage(page.id, page.Data()); err != nil {
				return 0, nil, err
			}
		}
		delete(pm.pageTable, page.id)
	}
	page.reset()
	return frameID, page, nil
}

// NewPage allocates a fresh disk page and returns its frame, pinned.
func (pm *PoolManager) NewPage() (*Page, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	frameID, page, err := pm.takeFrame()
	if err != nil {
		return nil, err
	}

	id, err := pm.dm.AllocatePage()
	if err != nil {
		// Hand the frame back; nothing resides in it.
		pm.freeList = append(pm.freeList, frameID)
		return nil, err
	}

	page.id = id
	page.pinCount.Store(1)
	pm.replacer.Pin(frameID)
	pm.pageTable[id] = frameID
	return page, nil
}

// FetchPage returns the frame holding the given page, reading it from
// disk if it is not resident. The page is returned pinned.
func (pm *PoolManager) FetchPage(id disk.PageID) (*Page, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if frameID, ok := pm.pageTable[id]; ok {
		page := pm.frames[frameID]
		page.pinCount.Add(1)
		pm.replacer.Pin(frameID)
		return page, nil
	}

	frameID, page, err := pm.takeFrame()
	if err != nil {
		return nil, err
	}
	if err := pm.dm.ReadPage(id, page.Data()); err != nil {
		pm.freeList = append(pm.freeList, frameID)
		return nil, err
	}

	page.id = id
	page.pinCount.Store(1)
	pm.replacer.Pin(frameID)
	pm.pageTable[id] = frameID
	return page, nil
}

// UnpinPage drops one pin from a resident page, marking it dirty if the
// caller modified it. Returns false if the page is not resident or was
// not pinned.
func (pm *PoolManager) UnpinPage(id disk.PageID, dirty bool) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	frameID, ok := pm.pageTable[id]
	if !ok {
		return false
	}
	page := pm.frames[frameID]
	if page.PinCount() <= 0 {
		return false
	}
	page.dirty = page.dirty || dirty
	if page.pinCount.Add(-1) == 0 {
		pm.replacer.Unpin(frameID)
	}
	return true
}

// DeletePage evicts a page from the pool and releases its disk page.
// Returns false if the page is still pinned.
func (pm *PoolManager) DeletePage(id disk.PageID) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if frameID, ok := pm.pageTable[id]; ok {
		page := pm.frames[frameID]
		if page.PinCount() > 0 {
			return false
		}
		pm.replacer.Pin(frameID)
		delete(pm.pageTable, id)
		page.reset()
		pm.freeList = append(pm.freeList, frameID)
	}
	pm.dm.DeallocatePage(id)
	return true
}

// PinnedCount returns the number of frames with a nonzero pin count.
// Useful for verifying that operations balance their pins.
func (pm *PoolManager) PinnedCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	count := 0
	for _, page := range pm.frames {
		if page.PinCount() > 0 {
			count++
		}
	}
	return count
}

// FlushPage writes a resident page to disk regardless of its dirty flag.
// Returns false if the page is not resident.
func (pm *PoolManager) FlushPage(id disk.PageID) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	frameID, ok := pm.pageTable[id]
	if !ok {
		return false
	}
	page := pm.frames[frameID]
	if err := pm.dm.WritePage(id, page.Data()); err != nil {
		return false
	}
	page.dirty = false
	return true
}

// FlushAll writes every resident page to disk.
func (pm *PoolManager) FlushAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for id, frameID := range pm.pageTable {
		page := pm.frames[frameID]
		if err := pm.dm.WritePage(id, page.Data()); err != nil {
			return err
		}
		page.dirty = false
	}
	return nil
}
