package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/oda/bpindex/internal/disk"
)

// Page is a buffer frame: a page-sized payload plus the bookkeeping the
// pool needs to manage it. The latch protects the payload bytes; pin
// count and dirty flag are managed by the pool under its own mutex, with
// the pin count additionally readable without it.
type Page struct {
	latch    sync.RWMutex
	id       disk.PageID
	pinCount atomic.Int32
	dirty    bool
	data     [disk.PageSize]byte
}

// ID returns the id of the page currently held by this frame.
func (p *Page) ID() disk.PageID {
	return p.id
}

// Data returns the page payload. Callers must hold the page latch in the
// appropriate mode before touching it.
func (p *Page) Data() []byte {
	return p.data[:]
}

// PinCount returns the current pin count.
func (p *Page) PinCount() int {
	return int(p.pinCount.Load())
}

// IsDirty reports whether the page has unwritten modifications.
func (p *Page) IsDirty() bool {
	return p.dirty
}

// RLatch acquires the page latch in shared mode.
func (p *Page) RLatch() { p.latch.RLock() }

// RUnlatch releases a shared latch.
func (p *Page) RUnlatch() { p.latch.RUnlock() }

// WLatch acquires the page latch in exclusive mode.
func (p *Page) WLatch() { p.latch.Lock() }

// WUnlatch releases an exclusive latch.
func (p *Page) WUnlatch() { p.latch.Unlock() }

// reset clears the frame for reuse by a different page.
func (p *Page) reset() {
	p.id = disk.InvalidPageID
	p.pinCount.Store(0)
	p.dirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}
