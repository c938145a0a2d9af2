package node

import (
	"sort"

	"github.com/oda/bpindex/internal/disk"
)

// Leaf provides operations on a leaf node's raw byte slice.
// The layout is:
//   - Header: 32 bytes (includes the next-leaf pointer)
//   - Slots: [key: keyLen, rid: 12] × size starting at offset 32
//
// Slots are kept sorted by key; keys are unique.
type Leaf struct {
	data []byte
}

// InitLeaf formats data as an empty leaf and returns its view.
func InitLeaf(data []byte, id, parent disk.PageID, maxSize, keyLen int) *Leaf {
	initHeader(data, KindLeaf, id, parent, maxSize, keyLen)
	return &Leaf{data: data}
}

// AsLeaf wraps existing leaf bytes.
func AsLeaf(data []byte) *Leaf {
	if !IsLeaf(data) {
		panic("node: page is not a leaf")
	}
	return &Leaf{data: data}
}

// Size returns the number of slots in use.
func (n *Leaf) Size() int { return SizeOf(n.data) }

// MaxSize returns the configured max size.
func (n *Leaf) MaxSize() int { return MaxSizeOf(n.data) }

// MinSize returns the smallest legal size when not root.
func (n *Leaf) MinSize() int { return MinSizeOf(n.data) }

// ID returns the leaf's own page id.
func (n *Leaf) ID() disk.PageID { return IDOf(n.data) }

// Parent returns the stored parent page id.
func (n *Leaf) Parent() disk.PageID { return ParentOf(n.data) }

// SetParent stores the parent page id.
func (n *Leaf) SetParent(id disk.PageID) { SetParentOf(n.data, id) }

// Next returns the next-leaf page id.
func (n *Leaf) Next() disk.PageID { return getNext(n.data) }

// SetNext sets the next-leaf page id.
func (n *Leaf) SetNext(id disk.PageID) { setNext(n.data, id) }

func (n *Leaf) entrySize() int {
	return KeyLenOf(n.data) + RIDSize
}

func (n *Leaf) entryOffset(i int) int {
	return HeaderSize + i*n.entrySize()
}

// KeyAt returns the key at slot i. The slice aliases the page; callers
// must copy it if it outlives the latch.
func (n *Leaf) KeyAt(i int) []byte {
	off := n.entryOffset(i)
	return n.data[off : off+KeyLenOf(n.data)]
}

// RIDAt returns the record id at slot i.
func (n *Leaf) RIDAt(i int) RID {
	off := n.entryOffset(i) + KeyLenOf(n.data)
	return readRID(n.data[off : off+RIDSize])
}

func (n *Leaf) setEntry(i int, key []byte, rid RID) {
	off := n.entryOffset(i)
	copy(n.data[off:off+KeyLenOf(n.data)], key)
	writeRID(n.data[off+KeyLenOf(n.data):off+n.entrySize()], rid)
}

// KeyIndex returns the first slot whose key is >= key; it equals Size()
// when every key is smaller.
func (n *Leaf) KeyIndex(key []byte, cmp Comparator) int {
	return sort.Search(n.Size(), func(i int) bool {
		return cmp(n.KeyAt(i), key) >= 0
	})
}

// Lookup returns the record id stored under key.
func (n *Leaf) Lookup(key []byte, cmp Comparator) (RID, bool) {
	idx := n.KeyIndex(key, cmp)
	if idx < n.Size() && cmp(n.KeyAt(idx), key) == 0 {
		return n.RIDAt(idx), true
	}
	return RID{}, false
}

// Insert adds (key, rid) keeping slots sorted and returns the new size.
// Inserting an existing key is a no-op, detectable by an unchanged size.
func (n *Leaf) Insert(key []byte, rid RID, cmp Comparator) int {
	size := n.Size()
	idx := n.KeyIndex(key, cmp)
	if idx < size && cmp(n.KeyAt(idx), key) == 0 {
		return size
	}

	copy(n.data[n.entryOffset(idx+1):n.entryOffset(size+1)],
		n.data[n.entryOffset(idx):n.entryOffset(size)])
	n.setEntry(idx, key, rid)
	setSize(n.data, size+1)
	return size + 1
}

// Remove deletes key's slot if present and returns the new size.
func (n *Leaf) Remove(key []byte, cmp Comparator) int {
	size := n.Size()
	idx := n.KeyIndex(key, cmp)
	if idx >= size || cmp(n.KeyAt(idx), key) != 0 {
		return size
	}

	copy(n.data[n.entryOffset(idx):n.entryOffset(size-1)],
		n.data[n.entryOffset(idx+1):n.entryOffset(size)])
	setSize(n.data, size-1)
	return size - 1
}

// MoveHalfTo moves the upper half of this leaf's slots into an empty
// sibling. The next-leaf chain is spliced by the caller.
func (n *Leaf) MoveHalfTo(dst *Leaf) {
	size := n.Size()
	mid := size / 2

	copy(dst.data[dst.entryOffset(0):dst.entryOffset(size-mid)],
		n.data[n.entryOffset(mid):n.entryOffset(size)])
	setSize(dst.data, size-mid)
	setSize(n.data, mid)
}

// MoveAllTo appends every slot of this leaf to dst and takes this leaf's
// next pointer with it. Used when merging into the left sibling.
func (n *Leaf) MoveAllTo(dst *Leaf) {
	size := n.Size()
	dstSize := dst.Size()

	copy(dst.data[dst.entryOffset(dstSize):dst.entryOffset(dstSize+size)],
		n.data[n.entryOffset(0):n.entryOffset(size)])
	setSize(dst.data, dstSize+size)
	setSize(n.data, 0)

	dst.SetNext(n.Next())
}

// MoveFirstToEndOf moves this leaf's first slot to the end of dst, its
// left sibling.
func (n *Leaf) MoveFirstToEndOf(dst *Leaf) {
	size := n.Size()
	dstSize := dst.Size()

	copy(dst.data[dst.entryOffset(dstSize):dst.entryOffset(dstSize+1)],
		n.data[n.entryOffset(0):n.entryOffset(1)])
	setSize(dst.data, dstSize+1)

	copy(n.data[n.entryOffset(0):n.entryOffset(size-1)],
		n.data[n.entryOffset(1):n.entryOffset(size)])
	setSize(n.data, size-1)
}

// MoveLastToFrontOf moves this leaf's last slot to the front of dst, its
// right sibling.
func (n *Leaf) MoveLastToFrontOf(dst *Leaf) {
	size := n.Size()
	dstSize := dst.Size()

	copy(dst.data[dst.entryOffset(1):dst.entryOffset(dstSize+1)],
		dst.data[dst.entryOffset(0):dst.entryOffset(dstSize)])
	copy(dst.data[dst.entryOffset(0):dst.entryOffset(1)],
		n.data[n.entryOffset(size-1):n.entryOffset(size)])
	setSize(dst.data, dstSize+1)
	setSize(n.data, size-1)
}
