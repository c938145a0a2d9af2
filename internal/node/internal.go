package node

import (
	"encoding/binary"
	"sort"

	"github.com/oda/bpindex/internal/buffer"
	"github.com/oda/bpindex/internal/disk"
)

// Internal provides operations on an internal (branch) node's raw byte
// slice. The layout is:
//   - Header: 32 bytes
//   - Slots: [key: keyLen, child: 8] × size starting at offset 32
//
// A node of size n holds n children and n-1 separator keys: slot 0's key
// is never written by lookups and never compared. Every key in the
// subtree under slot i (i >= 1) is >= that slot's key.
type Internal struct {
	data []byte
}

// InitInternal formats data as an empty internal node and returns its
// view.
func InitInternal(data []byte, id, parent disk.PageID, maxSize, keyLen int) *Internal {
	initHeader(data, KindInternal, id, parent, maxSize, keyLen)
	return &Internal{data: data}
}

// AsInternal wraps existing internal-node bytes.
func AsInternal(data []byte) *Internal {
	if IsLeaf(data) {
		panic("node: page is not an internal node")
	}
	return &Internal{data: data}
}

// Size returns the number of children.
func (n *Internal) Size() int { return SizeOf(n.data) }

// MaxSize returns the configured max size.
func (n *Internal) MaxSize() int { return MaxSizeOf(n.data) }

// MinSize returns the smallest legal size when not root.
func (n *Internal) MinSize() int { return MinSizeOf(n.data) }

// ID returns the node's own page id.
func (n *Internal) ID() disk.PageID { return IDOf(n.data) }

// Parent returns the stored parent page id.
func (n *Internal) Parent() disk.PageID { return ParentOf(n.data) }

// SetParent stores the parent page id.
func (n *Internal) SetParent(id disk.PageID) { SetParentOf(n.data, id) }

func (n *Internal) entrySize() int {
	return KeyLenOf(n.data) + 8
}

func (n *Internal) entryOffset(i int) int {
	return HeaderSize + i*n.entrySize()
}

// KeyAt returns the key at slot i. Slot 0's key is undefined. The slice
// aliases the page.
func (n *Internal) KeyAt(i int) []byte {
	off := n.entryOffset(i)
	return n.data[off : off+KeyLenOf(n.data)]
}

// SetKeyAt overwrites the key at slot i.
func (n *Internal) SetKeyAt(i int, key []byte) {
	off := n.entryOffset(i)
	copy(n.data[off:off+KeyLenOf(n.data)], key)
}

// ChildAt returns the child page id at slot i.
func (n *Internal) ChildAt(i int) disk.PageID {
	off := n.entryOffset(i) + KeyLenOf(n.data)
	return disk.PageID(binary.LittleEndian.Uint64(n.data[off : off+8]))
}

func (n *Internal) setChildAt(i int, id disk.PageID) {
	off := n.entryOffset(i) + KeyLenOf(n.data)
	binary.LittleEndian.PutUint64(n.data[off:off+8], uint64(id))
}

// Lookup returns the child page that should contain key: binary search
// over the keys in slots [1, size).
func (n *Internal) Lookup(key []byte, cmp Comparator) disk.PageID {
	size := n.Size()
	idx := 1 + sort.Search(size-1, func(i int) bool {
		return cmp(n.KeyAt(1+i), key) >= 0
	})
	if idx >= size || cmp(n.KeyAt(idx), key) > 0 {
		idx--
	}
	return n.ChildAt(idx)
}

// ValueIndex returns the slot whose child pointer equals id, or -1.
func (n *Internal) ValueIndex(id disk.PageID) int {
	for i := 0; i < n.Size(); i++ {
		if n.ChildAt(i) == id {
			return i
		}
	}
	return -1
}

// InsertAfter inserts (key, newChild) immediately after the slot whose
// child is oldChild and returns the new size.
func (n *Internal) InsertAfter(oldChild disk.PageID, key []byte, newChild disk.PageID) int {
	pos := n.ValueIndex(oldChild)
	if pos < 0 {
		panic("node: InsertAfter of unknown child")
	}
	size := n.Size()

	copy(n.data[n.entryOffset(pos+2):n.entryOffset(size+1)],
		n.data[n.entryOffset(pos+1):n.entryOffset(size)])
	n.SetKeyAt(pos+1, key)
	n.setChildAt(pos+1, newChild)
	setSize(n.data, size+1)
	return size + 1
}

// PopulateNewRoot fills a fresh root with two children separated by key.
func (n *Internal) PopulateNewRoot(left disk.PageID, key []byte, right disk.PageID) {
	n.setChildAt(0, left)
	n.SetKeyAt(1, key)
	n.setChildAt(1, right)
	setSize(n.data, 2)
}

// Remove deletes slot i.
func (n *Internal) Remove(i int) {
	size := n.Size()
	copy(n.data[n.entryOffset(i):n.entryOffset(size-1)],
		n.data[n.entryOffset(i+1):n.entryOffset(size)])
	setSize(n.data, size-1)
}

// RemoveAndReturnOnlyChild empties a size-1 node and returns its sole
// child. Only called when collapsing the root.
func (n *Internal) RemoveAndReturnOnlyChild() disk.PageID {
	child := n.ChildAt(0)
	n.Remove(0)
	return child
}

// adopt rewrites a moved child's stored parent id through the pool.
func adopt(bp *buffer.PoolManager, child, parent disk.PageID) error {
	p, err := bp.FetchPage(child)
	if err != nil {
		return err
	}
	SetParentOf(p.Data(), parent)
	bp.UnpinPage(child, true)
	return nil
}

// MoveHalfTo moves the upper half of this node's slots into an empty
// sibling and reparents the moved children.
func (n *Internal) MoveHalfTo(dst *Internal, bp *buffer.PoolManager) error {
	size := n.Size()
	half := size / 2

	copy(dst.data[dst.entryOffset(0):dst.entryOffset(half)],
		n.data[n.entryOffset(size-half):n.entryOffset(size)])
	setSize(dst.data, half)
	setSize(n.data, size-half)

	for i := 0; i < half; i++ {
		if err := adopt(bp, dst.ChildAt(i), dst.ID()); err != nil {
			return err
		}
	}
	return nil
}

// MoveAllTo appends every slot of this node to dst, pulling middleKey
// (the separator between the pair in the parent) down into the key
// position of the first copied slot. Used when merging into the left
// sibling.
func (n *Internal) MoveAllTo(dst *Internal, middleKey []byte, bp *buffer.PoolManager) error {
	size := n.Size()
	dstSize := dst.Size()

	copy(dst.data[dst.entryOffset(dstSize):dst.entryOffset(dstSize+size)],
		n.data[n.entryOffset(0):n.entryOffset(size)])
	dst.SetKeyAt(dstSize, middleKey)
	setSize(dst.data, dstSize+size)
	setSize(n.data, 0)

	for i := dstSize; i < dstSize+size; i++ {
		if err := adopt(bp, dst.ChildAt(i), dst.ID()); err != nil {
			return err
		}
	}
	return nil
}

// MoveFirstToEndOf moves this node's first child to the end of dst, its
// left sibling, keyed by the pulled-down middleKey. The caller installs
// the donor's former second key as the new parent separator.
func (n *Internal) MoveFirstToEndOf(dst *Internal, middleKey []byte, bp *buffer.PoolManager) error {
	donated := n.ChildAt(0)
	dstSize := dst.Size()

	setSize(dst.data, dstSize+1)
	dst.SetKeyAt(dstSize, middleKey)
	dst.setChildAt(dstSize, donated)
	n.Remove(0)

	return adopt(bp, donated, dst.ID())
}

// MoveLastToFrontOf moves this node's last child to the front of dst,
// its right sibling. Every slot in dst shifts up by one; the donated
// child lands in slot 0 and the pulled-down middleKey becomes slot 1's
// key. The caller installs the donor's former last key as the new
// parent separator.
func (n *Internal) MoveLastToFrontOf(dst *Internal, middleKey []byte, bp *buffer.PoolManager) error {
	size := n.Size()
	donated := n.ChildAt(size - 1)
	setSize(n.data, size-1)

	dstSize := dst.Size()
	copy(dst.data[dst.entryOffset(1):dst.entryOffset(dstSize+1)],
		dst.data[dst.entryOffset(0):dst.entryOffset(dstSize)])
	dst.setChildAt(0, donated)
	dst.SetKeyAt(1, middleKey)
	setSize(dst.data, dstSize+1)

	return adopt(bp, donated, dst.ID())
}
