package bpindex

import (
	"github.com/oda/bpindex/internal/buffer"
	"github.com/oda/bpindex/internal/disk"
	"github.com/oda/bpindex/internal/node"
)

// opMode is the latching mode of one tree operation.
type opMode int

const (
	opRead opMode = iota
	opInsert
	opDelete
)

// opContext is the per-call scratch state of one tree operation: the
// ordered set of pages it still holds latched and the pages it has
// marked for deletion at commit. It also remembers whether the tree's
// root latch is still held, since crabbing may release it early.
type opContext struct {
	mode        opMode
	held        []*buffer.Page
	deleted     map[disk.PageID]struct{}
	rootLatched bool
}

func newOpContext(mode opMode) *opContext {
	return &opContext{mode: mode}
}

func (ctx *opContext) addHeld(pg *buffer.Page) {
	ctx.held = append(ctx.held, pg)
}

func (ctx *opContext) markDeleted(id disk.PageID) {
	if ctx.deleted == nil {
		ctx.deleted = make(map[disk.PageID]struct{})
	}
	ctx.deleted[id] = struct{}{}
}

func latchPage(pg *buffer.Page, mode opMode) {
	if mode == opRead {
		pg.RLatch()
	} else {
		pg.WLatch()
	}
}

func unlatchPage(pg *buffer.Page, mode opMode) {
	if mode == opRead {
		pg.RUnlatch()
	} else {
		pg.WUnlatch()
	}
}

// isSafe reports whether the node cannot split (insert) or underflow
// (delete) as a result of the pending operation. Read traversals treat
// every node as safe.
func isSafe(data []byte, mode opMode) bool {
	switch mode {
	case opInsert:
		return node.SizeOf(data) < node.MaxSizeOf(data)-1
	case opDelete:
		return node.SizeOf(data) > node.MinSizeOf(data)
	default:
		return true
	}
}

// latchRoot acquires the tree's root latch in the mode of the operation.
func (t *BPlusTree) latchRoot(ctx *opContext) {
	if ctx.mode == opRead {
		t.rootLatch.RLock()
	} else {
		t.rootLatch.Lock()
	}
	ctx.rootLatched = true
}

// unlatchRoot releases the root latch if this operation still holds it.
func (t *BPlusTree) unlatchRoot(ctx *opContext) {
	if !ctx.rootLatched {
		return
	}
	if ctx.mode == opRead {
		t.rootLatch.RUnlock()
	} else {
		t.rootLatch.Unlock()
	}
	ctx.rootLatched = false
}

// releaseHeld drops every held latch and pin. Used mid-descent when a
// safe child proves the ancestors will not be touched; nothing has been
// written to them yet.
func (t *BPlusTree) releaseHeld(ctx *opContext) {
	for _, pg := range ctx.held {
		id := pg.ID()
		unlatchPage(pg, ctx.mode)
		t.bpm.UnpinPage(id, false)
	}
	ctx.held = ctx.held[:0]
}

// finish commits the operation: it drops the root latch and every page
// latch, unpins the held pages (dirty for write modes), and releases the
// pages marked for deletion back to the buffer pool. Every operation
// exit path, including errors, runs through here.
func (t *BPlusTree) finish(ctx *opContext) {
	t.unlatchRoot(ctx)
	dirty := ctx.mode != opRead
	var doomed []disk.PageID
	for _, pg := range ctx.held {
		id := pg.ID()
		unlatchPage(pg, ctx.mode)
		t.bpm.UnpinPage(id, dirty)
		if _, ok := ctx.deleted[id]; ok {
			delete(ctx.deleted, id)
			doomed = append(doomed, id)
		}
	}
	ctx.held = ctx.held[:0]
	if len(ctx.deleted) != 0 {
		panic("bpindex: page marked for deletion outside the held set")
	}
	// Deletion runs only once every latch is dropped. DeletePage refuses
	// pages that are still pinned; a pin on an unlinked page is a fatal
	// accounting bug.
	for _, id := range doomed {
		if !t.bpm.DeletePage(id) {
			panic("bpindex: deleting a pinned page")
		}
	}
}
