// Package bpindex implements a concurrent, disk-backed B+ tree index
// mapping fixed-size keys to record identifiers.
//
// Pages are cached by a buffer pool and every page carries a
// reader/writer latch. Traversals use latch crabbing: latches are taken
// top-down and an ancestor's latch is released as soon as a descendant
// proves it cannot split or underflow. Keys are unique; duplicates are
// rejected on insert.
//
// Example:
//
//	tree, err := bpindex.Open("data.db", "orders", bpindex.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tree.Close()
//
//	tree.Insert(bpindex.Int64Key(42), bpindex.RIDFromInt64(42))
//
//	rid, ok, _ := tree.Get(bpindex.Int64Key(42))
//	if ok {
//	    fmt.Println(rid)
//	}
package bpindex

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/oda/bpindex/internal/buffer"
	"github.com/oda/bpindex/internal/disk"
	"github.com/oda/bpindex/internal/header"
	"github.com/oda/bpindex/internal/node"
)

// PageID identifies a database page.
type PageID = disk.PageID

// ErrNoFreeFrames is returned when the buffer pool cannot supply a
// frame: every frame is pinned.
var ErrNoFreeFrames = buffer.ErrNoFreeFrames

const (
	// DefaultPoolSize is the number of buffer frames used when Options
	// leaves PoolSize zero.
	DefaultPoolSize = 64
)

// Options configures a tree opened with Open. Zero values pick defaults:
// 64 buffer frames, 8-byte integer keys ordered by CompareInt64Keys, and
// node max sizes filling a page.
type Options struct {
	// PoolSize is the number of frames in the buffer pool.
	PoolSize int

	// KeyLen is the fixed key length in bytes.
	KeyLen int

	// Comparator orders keys. Required when KeyLen is not 8.
	Comparator Comparator

	// LeafMaxSize and InternalMaxSize bound the slot counts of the two
	// node kinds. Mainly useful for tests; production trees leave them
	// zero to fill whole pages.
	LeafMaxSize     int
	InternalMaxSize int
}

// BPlusTree is a disk-backed B+ tree index. All methods are safe for
// concurrent use.
type BPlusTree struct {
	name        string
	cmp         Comparator
	keyLen      int
	leafMax     int
	internalMax int

	dm  *disk.Manager
	bpm *buffer.PoolManager

	// rootLatch protects rootID and recorded. Crabbing releases it as
	// soon as the operation can no longer change the root.
	rootLatch sync.RWMutex
	rootID    disk.PageID
	recorded  bool
}

// Open opens or creates the named index inside the database file at
// path. Several indexes may share one file as long as each uses its own
// name.
func Open(path, name string, opts Options) (*BPlusTree, error) {
	if name == "" || len(name) > header.MaxNameLen {
		return nil, errors.Errorf("invalid index name %q", name)
	}

	keyLen := opts.KeyLen
	if keyLen == 0 {
		keyLen = Int64KeyLen
	}
	cmp := opts.Comparator
	if cmp == nil {
		if keyLen != Int64KeyLen {
			return nil, errors.New("a comparator is required for non-int64 keys")
		}
		cmp = CompareInt64Keys
	}

	leafMax := opts.LeafMaxSize
	if leafMax == 0 {
		leafMax = (disk.PageSize - node.HeaderSize) / (keyLen + node.RIDSize)
	}
	internalMax := opts.InternalMaxSize
	if internalMax == 0 {
		internalMax = (disk.PageSize - node.HeaderSize) / (keyLen + 8)
	}
	if leafMax < 3 || internalMax < 3 {
		return nil, errors.Errorf("max sizes too small: leaf %d, internal %d", leafMax, internalMax)
	}
	if node.HeaderSize+leafMax*(keyLen+node.RIDSize) > disk.PageSize {
		return nil, errors.Errorf("leaf max size %d does not fit a page", leafMax)
	}
	if node.HeaderSize+internalMax*(keyLen+8) > disk.PageSize {
		return nil, errors.Errorf("internal max size %d does not fit a page", internalMax)
	}

	poolSize := opts.PoolSize
	if poolSize == 0 {
		poolSize = DefaultPoolSize
	}

	dm, err := disk.NewManager(path)
	if err != nil {
		return nil, err
	}
	bpm := buffer.NewPoolManager(poolSize, dm)

	t := &BPlusTree{
		name:        name,
		cmp:         cmp,
		keyLen:      keyLen,
		leafMax:     leafMax,
		internalMax: internalMax,
		dm:          dm,
		bpm:         bpm,
		rootID:      disk.InvalidPageID,
	}

	// Recover the persisted root, if this index existed before.
	pg, err := bpm.FetchPage(disk.DirectoryPageID)
	if err != nil {
		dm.Close()
		return nil, err
	}
	if root, ok := header.Wrap(pg.Data()).Lookup(name); ok {
		t.rootID = root
		t.recorded = true
	}
	bpm.UnpinPage(disk.DirectoryPageID, false)

	return t, nil
}

// Close flushes every cached page and closes the database file.
func (t *BPlusTree) Close() error {
	if err := t.bpm.FlushAll(); err != nil {
		t.dm.Close()
		return err
	}
	return t.dm.Close()
}

// IsEmpty reports whether the tree holds no keys.
func (t *BPlusTree) IsEmpty() bool {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootID == disk.InvalidPageID
}

// Get returns the record id stored under key.
func (t *BPlusTree) Get(key []byte) (RID, bool, error) {
	if len(key) != t.keyLen {
		return RID{}, false, errors.Errorf("key length %d, want %d", len(key), t.keyLen)
	}

	ctx := newOpContext(opRead)
	t.latchRoot(ctx)
	if t.rootID == disk.InvalidPageID {
		t.unlatchRoot(ctx)
		return RID{}, false, nil
	}

	leafPage, err := t.findLeafCrabbing(key, false, ctx)
	if err != nil {
		t.finish(ctx)
		return RID{}, false, err
	}

	rid, found := node.AsLeaf(leafPage.Data()).Lookup(key, t.cmp)
	t.finish(ctx)
	return rid, found, nil
}

// Insert adds (key, rid) to the tree. It returns false if the key is
// already present. An error means the buffer pool ran out of frames; the
// tree is left structurally consistent.
func (t *BPlusTree) Insert(key []byte, rid RID) (bool, error) {
	if len(key) != t.keyLen {
		return false, errors.Errorf("key length %d, want %d", len(key), t.keyLen)
	}

	ctx := newOpContext(opInsert)
	t.latchRoot(ctx)
	if t.rootID == disk.InvalidPageID {
		err := t.startNewTree(key, rid)
		t.unlatchRoot(ctx)
		return err == nil, err
	}

	leafPage, err := t.findLeafCrabbing(key, false, ctx)
	if err != nil {
		t.finish(ctx)
		return false, err
	}

	leaf := node.AsLeaf(leafPage.Data())
	oldSize := leaf.Size()
	size := leaf.Insert(key, rid, t.cmp)
	if size == oldSize {
		// Duplicate key.
		t.finish(ctx)
		return false, nil
	}

	if size == leaf.MaxSize() {
		if err := t.splitLeaf(leafPage, leaf); err != nil {
			t.finish(ctx)
			return false, err
		}
	}

	t.finish(ctx)
	return true, nil
}

// startNewTree allocates the first leaf and makes it the root. Caller
// holds the root latch exclusively.
func (t *BPlusTree) startNewTree(key []byte, rid RID) error {
	pg, err := t.bpm.NewPage()
	if err != nil {
		return err
	}

	leaf := node.InitLeaf(pg.Data(), pg.ID(), disk.InvalidPageID, t.leafMax, t.keyLen)
	leaf.Insert(key, rid, t.cmp)

	t.rootID = pg.ID()
	err = t.updateRoot(!t.recorded)
	t.bpm.UnpinPage(pg.ID(), true)
	return err
}

// splitLeaf splits a full leaf: the upper half of its slots moves to a
// new sibling which is spliced into the leaf chain, and the sibling's
// first key is copied up to the parent.
func (t *BPlusTree) splitLeaf(leafPage *buffer.Page, leaf *node.Leaf) error {
	pg, err := t.bpm.NewPage()
	if err != nil {
		return err
	}

	sibling := node.InitLeaf(pg.Data(), pg.ID(), leaf.Parent(), t.leafMax, t.keyLen)
	leaf.MoveHalfTo(sibling)
	sibling.SetNext(leaf.Next())
	leaf.SetNext(sibling.ID())

	midKey := append([]byte(nil), sibling.KeyAt(0)...)
	return t.insertIntoParent(leafPage.Data(), midKey, pg)
}

// insertIntoParent links a freshly split-off right sibling into the
// parent of left, splitting the parent recursively if it fills up.
// Internal splits push the new sibling's first key upward; it is not
// retained as a separator in either half. rightPage is unpinned here.
// Parents are fetched transiently: their latches are already held by the
// crabbing descent, which kept the whole unsafe chain.
func (t *BPlusTree) insertIntoParent(leftData []byte, midKey []byte, rightPage *buffer.Page) error {
	leftID := node.IDOf(leftData)

	if node.IsRoot(leftData) {
		rootPage, err := t.bpm.NewPage()
		if err != nil {
			t.bpm.UnpinPage(rightPage.ID(), true)
			return err
		}

		root := node.InitInternal(rootPage.Data(), rootPage.ID(), disk.InvalidPageID, t.internalMax, t.keyLen)
		root.PopulateNewRoot(leftID, midKey, rightPage.ID())
		node.SetParentOf(leftData, rootPage.ID())
		node.SetParentOf(rightPage.Data(), rootPage.ID())

		t.rootID = rootPage.ID()
		err = t.updateRoot(false)
		t.bpm.UnpinPage(rightPage.ID(), true)
		t.bpm.UnpinPage(rootPage.ID(), true)
		return err
	}

	parentPage, err := t.bpm.FetchPage(node.ParentOf(leftData))
	if err != nil {
		t.bpm.UnpinPage(rightPage.ID(), true)
		return err
	}
	parent := node.AsInternal(parentPage.Data())

	size := parent.InsertAfter(leftID, midKey, rightPage.ID())
	node.SetParentOf(rightPage.Data(), parentPage.ID())
	t.bpm.UnpinPage(rightPage.ID(), true)

	if size == parent.MaxSize() {
		var splitPage *buffer.Page
		splitPage, err = t.bpm.NewPage()
		if err == nil {
			sibling := node.InitInternal(splitPage.Data(), splitPage.ID(), parent.Parent(), t.internalMax, t.keyLen)
			err = parent.MoveHalfTo(sibling, t.bpm)
			if err == nil {
				pushed := append([]byte(nil), sibling.KeyAt(0)...)
				err = t.insertIntoParent(parentPage.Data(), pushed, splitPage)
			} else {
				t.bpm.UnpinPage(splitPage.ID(), true)
			}
		}
	}

	t.bpm.UnpinPage(parentPage.ID(), true)
	return err
}

// Remove deletes key from the tree. Removing an absent key is a no-op.
func (t *BPlusTree) Remove(key []byte) error {
	if len(key) != t.keyLen {
		return errors.Errorf("key length %d, want %d", len(key), t.keyLen)
	}

	ctx := newOpContext(opDelete)
	t.latchRoot(ctx)
	if t.rootID == disk.InvalidPageID {
		t.unlatchRoot(ctx)
		return nil
	}

	leafPage, err := t.findLeafCrabbing(key, false, ctx)
	if err != nil {
		t.finish(ctx)
		return err
	}

	leaf := node.AsLeaf(leafPage.Data())
	size := leaf.Remove(key, t.cmp)

	if size < leaf.MinSize() {
		del, err := t.coalesceOrRedistribute(leafPage, ctx)
		if err != nil {
			t.finish(ctx)
			return err
		}
		if del {
			ctx.markDeleted(leafPage.ID())
		}
	}

	t.finish(ctx)
	return nil
}

// coalesceOrRedistribute restores the size invariant of an underflowed
// node: merge with a sibling when the pair fits in one page (the left of
// the pair always survives, preferring the left sibling), otherwise
// borrow one entry from a sibling. Returns whether the caller should
// mark the node itself for deletion.
func (t *BPlusTree) coalesceOrRedistribute(pg *buffer.Page, ctx *opContext) (bool, error) {
	data := pg.Data()

	if node.IsRoot(data) {
		del, err := t.adjustRoot(data)
		if err != nil {
			return false, err
		}
		if del && !node.IsLeaf(data) {
			ctx.markDeleted(node.IDOf(data))
		}
		return del && node.IsLeaf(data), nil
	}

	parentPage, err := t.bpm.FetchPage(node.ParentOf(data))
	if err != nil {
		return false, err
	}
	parent := node.AsInternal(parentPage.Data())

	idx := parent.ValueIndex(node.IDOf(data))
	if idx < 0 {
		panic("bpindex: node not found in its parent")
	}

	var leftPage, rightPage *buffer.Page
	if idx-1 >= 0 {
		leftPage, err = t.bpm.FetchPage(parent.ChildAt(idx - 1))
		if err != nil {
			t.bpm.UnpinPage(parentPage.ID(), false)
			return false, err
		}
		leftPage.WLatch()
		ctx.addHeld(leftPage)
	}
	if idx+1 < parent.Size() {
		rightPage, err = t.bpm.FetchPage(parent.ChildAt(idx + 1))
		if err != nil {
			t.bpm.UnpinPage(parentPage.ID(), false)
			return false, err
		}
		rightPage.WLatch()
		ctx.addHeld(rightPage)
	}

	size := node.SizeOf(data)
	max := node.MaxSizeOf(data)

	// Coalesce into the left sibling first.
	if leftPage != nil && size+node.SizeOf(leftPage.Data()) < max {
		err = t.coalesce(leftPage, pg, parentPage, ctx)
		t.bpm.UnpinPage(parentPage.ID(), true)
		return err == nil, err
	}

	// Then let the right sibling coalesce into this node.
	if rightPage != nil && size+node.SizeOf(rightPage.Data()) < max {
		err = t.coalesce(pg, rightPage, parentPage, ctx)
		t.bpm.UnpinPage(parentPage.ID(), true)
		return false, err
	}

	// Coalescing is impossible with either sibling: redistribute.
	if leftPage != nil {
		err = t.redistribute(leftPage, pg, parent, idx, true)
	} else {
		err = t.redistribute(rightPage, pg, parent, idx, false)
	}
	t.bpm.UnpinPage(parentPage.ID(), true)
	return false, err
}

// coalesce merges victim into survivor, its left neighbor, removes the
// separator from the parent and rebalances the parent if it underflows
// in turn. The victim is marked for deferred deletion.
func (t *BPlusTree) coalesce(survivorPage, victimPage, parentPage *buffer.Page, ctx *opContext) error {
	parent := node.AsInternal(parentPage.Data())
	victimIdx := parent.ValueIndex(victimPage.ID())

	if node.IsLeaf(victimPage.Data()) {
		node.AsLeaf(victimPage.Data()).MoveAllTo(node.AsLeaf(survivorPage.Data()))
	} else {
		midKey := append([]byte(nil), parent.KeyAt(victimIdx)...)
		victim := node.AsInternal(victimPage.Data())
		survivor := node.AsInternal(survivorPage.Data())
		if err := victim.MoveAllTo(survivor, midKey, t.bpm); err != nil {
			return err
		}
	}

	ctx.markDeleted(victimPage.ID())
	parent.Remove(victimIdx)

	if parent.Size() < parent.MinSize() {
		del, err := t.coalesceOrRedistribute(parentPage, ctx)
		if err != nil {
			return err
		}
		if del {
			ctx.markDeleted(parentPage.ID())
		}
	}
	return nil
}

// redistribute moves one entry from the donor sibling into the
// underflowed node and rewrites the parent separator between them.
// fromLeft says whether the donor is the left sibling.
func (t *BPlusTree) redistribute(donorPage, pg *buffer.Page, parent *node.Internal, idx int, fromLeft bool) error {
	if node.IsLeaf(pg.Data()) {
		n := node.AsLeaf(pg.Data())
		donor := node.AsLeaf(donorPage.Data())
		if fromLeft {
			donor.MoveLastToFrontOf(n)
			parent.SetKeyAt(idx, n.KeyAt(0))
		} else {
			donor.MoveFirstToEndOf(n)
			parent.SetKeyAt(idx+1, donor.KeyAt(0))
		}
		return nil
	}

	n := node.AsInternal(pg.Data())
	donor := node.AsInternal(donorPage.Data())
	if fromLeft {
		midKey := append([]byte(nil), parent.KeyAt(idx)...)
		parent.SetKeyAt(idx, donor.KeyAt(donor.Size()-1))
		return donor.MoveLastToFrontOf(n, midKey, t.bpm)
	}
	midKey := append([]byte(nil), parent.KeyAt(idx+1)...)
	parent.SetKeyAt(idx+1, donor.KeyAt(1))
	return donor.MoveFirstToEndOf(n, midKey, t.bpm)
}

// adjustRoot handles underflow at the root: an internal root left with a
// single child hands the tree over to that child, and an emptied leaf
// root leaves the tree empty. Returns whether the old root page should
// be deleted.
func (t *BPlusTree) adjustRoot(data []byte) (bool, error) {
	if !node.IsLeaf(data) && node.SizeOf(data) == 1 {
		child := node.AsInternal(data).RemoveAndReturnOnlyChild()

		t.rootID = child
		if err := t.updateRoot(false); err != nil {
			return false, err
		}

		childPage, err := t.bpm.FetchPage(child)
		if err != nil {
			return false, err
		}
		node.SetParentOf(childPage.Data(), disk.InvalidPageID)
		t.bpm.UnpinPage(child, true)
		return true, nil
	}

	if node.IsLeaf(data) && node.SizeOf(data) == 0 {
		t.rootID = disk.InvalidPageID
		if err := t.updateRoot(false); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// findLeafCrabbing descends from the root to the leaf responsible for
// key, latch-crabbing in the mode of the operation. The caller must hold
// the root latch. The returned leaf is latched; for write modes every
// still-unsafe ancestor remains latched in ctx.held, for reads ctx.held
// holds just the leaf.
func (t *BPlusTree) findLeafCrabbing(key []byte, leftMost bool, ctx *opContext) (*buffer.Page, error) {
	pg, err := t.bpm.FetchPage(t.rootID)
	if err != nil {
		return nil, err
	}
	latchPage(pg, ctx.mode)
	ctx.addHeld(pg)

	for !node.IsLeaf(pg.Data()) {
		inner := node.AsInternal(pg.Data())
		var childID disk.PageID
		if leftMost {
			childID = inner.ChildAt(0)
		} else {
			childID = inner.Lookup(key, t.cmp)
		}

		child, err := t.bpm.FetchPage(childID)
		if err != nil {
			return nil, err
		}
		latchPage(child, ctx.mode)

		if ctx.mode == opRead {
			// Read crabbing holds at most two latches: drop the parent
			// as soon as the child is latched.
			t.unlatchRoot(ctx)
			parent := ctx.held[len(ctx.held)-1]
			parent.RUnlatch()
			t.bpm.UnpinPage(parent.ID(), false)
			ctx.held[len(ctx.held)-1] = child
		} else {
			if isSafe(child.Data(), ctx.mode) {
				t.unlatchRoot(ctx)
				t.releaseHeld(ctx)
			}
			ctx.addHeld(child)
		}

		pg = child
	}
	return pg, nil
}

// updateRoot persists the tree's root page id in the index directory.
// insert chooses between creating the record (first-ever root) and
// rewriting it. Caller holds the root latch exclusively.
func (t *BPlusTree) updateRoot(insert bool) error {
	pg, err := t.bpm.FetchPage(disk.DirectoryPageID)
	if err != nil {
		return err
	}
	dir := header.Wrap(pg.Data())

	ok := false
	if insert {
		ok = dir.InsertRecord(t.name, t.rootID)
		t.recorded = ok
	} else {
		ok = dir.UpdateRecord(t.name, t.rootID)
	}
	t.bpm.UnpinPage(disk.DirectoryPageID, true)

	if !ok {
		return errors.Errorf("cannot record root of index %q in the directory", t.name)
	}
	return nil
}

// Scan calls fn for every live key >= start (every key when start is
// nil) in ascending order until fn returns false.
func (t *BPlusTree) Scan(start []byte, fn func(key []byte, rid RID) bool) error {
	var (
		it  *Iterator
		err error
	)
	if start == nil {
		it, err = t.Begin()
	} else {
		it, err = t.BeginAt(start)
	}
	if err != nil {
		return err
	}
	defer it.Close()

	for !it.IsEnd() {
		if !fn(it.Key(), it.Value()) {
			return nil
		}
		if err := it.Next(); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of keys in the tree. This is an O(n)
// operation.
func (t *BPlusTree) Count() (int, error) {
	count := 0
	err := t.Scan(nil, func([]byte, RID) bool {
		count++
		return true
	})
	return count, err
}
