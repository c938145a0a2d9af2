// Package node provides byte-level views over the two kinds of tree
// pages, leaf and internal, sharing a common header.
package node

import (
	"encoding/binary"

	"github.com/oda/bpindex/internal/disk"
)

// Kind indicates the kind of a tree page.
type Kind uint8

const (
	// KindInternal marks an internal (branch) page.
	KindInternal Kind = 1
	// KindLeaf marks a leaf page.
	KindLeaf Kind = 2
)

const (
	// HeaderSize is the size of the common node header in bytes.
	HeaderSize = 32

	// RIDSize is the on-page size of a record identifier.
	RIDSize = 12
)

// Comparator defines a total order over fixed-length keys. It returns a
// negative number, zero, or a positive number.
type Comparator func(a, b []byte) int

// RID identifies a record in some table page.
type RID struct {
	PageID  disk.PageID
	SlotNum uint32
}

// Header layout (common to both kinds):
// Byte 0: kind (1 byte)
// Byte 1: reserved
// Byte 2-3: size, the current slot count (little endian)
// Byte 4-5: max size (little endian)
// Byte 6-7: key length (little endian)
// Byte 8-15: parent page id
// Byte 16-23: own page id
// Byte 24-31: next leaf page id (leaf only)

// PageKind returns the kind of the node stored in data.
func PageKind(data []byte) Kind {
	return Kind(data[0])
}

// IsLeaf reports whether data holds a leaf node.
func IsLeaf(data []byte) bool {
	return PageKind(data) == KindLeaf
}

// SizeOf returns the node's current slot count.
func SizeOf(data []byte) int {
	return int(binary.LittleEndian.Uint16(data[2:4]))
}

func setSize(data []byte, size int) {
	binary.LittleEndian.PutUint16(data[2:4], uint16(size))
}

// MaxSizeOf returns the node's configured max size.
func MaxSizeOf(data []byte) int {
	return int(binary.LittleEndian.Uint16(data[4:6]))
}

// MinSizeOf returns the smallest legal size of a non-root node, max/2.
// Splits move the upper half of a full node, so both halves of any split
// land at or above this bound.
func MinSizeOf(data []byte) int {
	return MaxSizeOf(data) / 2
}

// KeyLenOf returns the fixed key length recorded in the header.
func KeyLenOf(data []byte) int {
	return int(binary.LittleEndian.Uint16(data[6:8]))
}

// ParentOf returns the stored parent page id.
func ParentOf(data []byte) disk.PageID {
	return disk.PageID(binary.LittleEndian.Uint64(data[8:16]))
}

// SetParentOf stores the parent page id.
func SetParentOf(data []byte, id disk.PageID) {
	binary.LittleEndian.PutUint64(data[8:16], uint64(id))
}

// IDOf returns the node's own page id.
func IDOf(data []byte) disk.PageID {
	return disk.PageID(binary.LittleEndian.Uint64(data[16:24]))
}

// IsRoot reports whether the node has no parent.
func IsRoot(data []byte) bool {
	return ParentOf(data) == disk.InvalidPageID
}

func initHeader(data []byte, kind Kind, id, parent disk.PageID, maxSize, keyLen int) {
	data[0] = byte(kind)
	data[1] = 0
	setSize(data, 0)
	binary.LittleEndian.PutUint16(data[4:6], uint16(maxSize))
	binary.LittleEndian.PutUint16(data[6:8], uint16(keyLen))
	SetParentOf(data, parent)
	binary.LittleEndian.PutUint64(data[16:24], uint64(id))
	binary.LittleEndian.PutUint64(data[24:32], uint64(disk.InvalidPageID))
}

func getNext(data []byte) disk.PageID {
	return disk.PageID(binary.LittleEndian.Uint64(data[24:32]))
}

func setNext(data []byte, id disk.PageID) {
	binary.LittleEndian.PutUint64(data[24:32], uint64(id))
}

func readRID(b []byte) RID {
	return RID{
		PageID:  disk.PageID(binary.LittleEndian.Uint64(b[0:8])),
		SlotNum: binary.LittleEndian.Uint32(b[8:12]),
	}
}

func writeRID(b []byte, rid RID) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(rid.PageID))
	binary.LittleEndian.PutUint32(b[8:12], rid.SlotNum)
}
