package bpindex

import (
	"encoding/binary"

	"github.com/oda/bpindex/internal/node"
)

// Comparator defines a total order over keys. It returns a negative
// number, zero, or a positive number.
type Comparator = node.Comparator

// RID identifies a record in a table page.
type RID = node.RID

// Int64KeyLen is the encoded length of an int64 key.
const Int64KeyLen = 8

// Int64Key encodes an integer as a fixed 8-byte key.
func Int64Key(v int64) []byte {
	key := make([]byte, Int64KeyLen)
	binary.BigEndian.PutUint64(key, uint64(v))
	return key
}

// DecodeInt64Key is the inverse of Int64Key.
func DecodeInt64Key(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}

// CompareInt64Keys orders keys produced by Int64Key.
func CompareInt64Keys(a, b []byte) int {
	av, bv := DecodeInt64Key(a), DecodeInt64Key(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// RIDFromInt64 derives a record id from an integer: the upper 32 bits
// select the page, the lower 32 the slot.
func RIDFromInt64(v int64) RID {
	return RID{
		PageID:  PageID(uint64(v) >> 32),
		SlotNum: uint32(uint64(v)),
	}
}

// RIDToInt64 is the inverse of RIDFromInt64.
func RIDToInt64(rid RID) int64 {
	return int64(uint64(rid.PageID)<<32 | uint64(rid.SlotNum))
}
