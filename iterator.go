package bpindex

import (
	"github.com/oda/bpindex/internal/buffer"
	"github.com/oda/bpindex/internal/disk"
	"github.com/oda/bpindex/internal/node"
)

// Iterator is a forward cursor over the tree's leaf entries in ascending
// key order. It pins exactly one leaf at a time and takes no latches:
// it is a point-in-time cursor, and concurrent writers may make it
// observe torn results. Callers must Close an iterator they abandon
// before its end.
type Iterator struct {
	bpm  *buffer.PoolManager
	page *buffer.Page
	leaf *node.Leaf
	slot int
	end  bool
}

// Begin returns an iterator positioned at the smallest key.
func (t *BPlusTree) Begin() (*Iterator, error) {
	return t.begin(nil, true)
}

// BeginAt returns an iterator positioned at the first key >= key.
func (t *BPlusTree) BeginAt(key []byte) (*Iterator, error) {
	return t.begin(key, false)
}

// End returns the sentinel end iterator.
func (t *BPlusTree) End() *Iterator {
	return &Iterator{end: true}
}

func (t *BPlusTree) begin(key []byte, leftMost bool) (*Iterator, error) {
	ctx := newOpContext(opRead)
	t.latchRoot(ctx)
	if t.rootID == disk.InvalidPageID {
		t.unlatchRoot(ctx)
		return t.End(), nil
	}

	leafPage, err := t.findLeafCrabbing(key, leftMost, ctx)
	if err != nil {
		t.finish(ctx)
		return nil, err
	}
	t.unlatchRoot(ctx)

	leaf := node.AsLeaf(leafPage.Data())
	slot := 0
	if !leftMost {
		slot = leaf.KeyIndex(key, t.cmp)
	}

	// Keep the pin but drop the latch; the iterator runs latch-free.
	leafPage.RUnlatch()
	ctx.held = ctx.held[:0]

	it := &Iterator{bpm: t.bpm, page: leafPage, leaf: leaf, slot: slot}
	if slot >= leaf.Size() {
		// Every key in this leaf is smaller; start at the next one.
		if err := it.Next(); err != nil {
			it.Close()
			return nil, err
		}
	}
	return it, nil
}

// IsEnd reports whether the iterator is exhausted.
func (it *Iterator) IsEnd() bool {
	return it.end
}

// Key returns the key at the cursor. Undefined at the end.
func (it *Iterator) Key() []byte {
	return it.leaf.KeyAt(it.slot)
}

// Value returns the record id at the cursor. Undefined at the end.
func (it *Iterator) Value() RID {
	return it.leaf.RIDAt(it.slot)
}

// Next advances the cursor, following the next-leaf chain across leaf
// boundaries. Advancing the end iterator is a no-op.
func (it *Iterator) Next() error {
	if it.end {
		return nil
	}

	if it.slot < it.leaf.Size()-1 {
		it.slot++
		return nil
	}

	next := it.leaf.Next()
	if next == disk.InvalidPageID {
		it.bpm.UnpinPage(it.page.ID(), false)
		it.page = nil
		it.leaf = nil
		it.end = true
		return nil
	}

	nextPage, err := it.bpm.FetchPage(next)
	if err != nil {
		return err
	}
	it.bpm.UnpinPage(it.page.ID(), false)
	it.page = nextPage
	it.leaf = node.AsLeaf(nextPage.Data())
	it.slot = 0
	return nil
}

// Equal reports whether two iterators denote the same position. Two end
// iterators are equal.
func (it *Iterator) Equal(other *Iterator) bool {
	if it.end || other.end {
		return it.end == other.end
	}
	return it.page == other.page && it.slot == other.slot
}

// Close releases the pinned leaf. Closing an exhausted or already closed
// iterator is a no-op.
func (it *Iterator) Close() {
	if it.page != nil {
		it.bpm.UnpinPage(it.page.ID(), false)
		it.page = nil
		it.leaf = nil
	}
	it.end = true
}
