// Package header implements the index directory page: a fixed table of
// (index name, root page id) records stored on the reserved directory
// page. The tree engine reads it to find its root when an index is
// reopened and rewrites it whenever the root changes.
package header

import (
	"encoding/binary"

	"github.com/oda/bpindex/internal/disk"
)

const (
	// MaxNameLen is the longest index name a record can hold.
	MaxNameLen = 32

	recordSize = MaxNameLen + 8

	// MaxRecords is the number of records the directory page can hold.
	MaxRecords = (disk.PageSize - 4) / recordSize
)

// Directory layout:
// Byte 0-3: record count (little endian)
// Then MaxRecords records of [name: 32 (zero padded), root page id: 8].

// Directory wraps the directory page's raw bytes.
type Directory struct {
	data []byte
}

// Wrap views existing directory-page bytes. A zeroed page is a valid
// empty directory.
func Wrap(data []byte) *Directory {
	return &Directory{data: data}
}

// Count returns the number of records.
func (d *Directory) Count() int {
	return int(binary.LittleEndian.Uint32(d.data[0:4]))
}

func (d *Directory) recordOffset(i int) int {
	return 4 + i*recordSize
}

func (d *Directory) nameAt(i int) string {
	off := d.recordOffset(i)
	name := d.data[off : off+MaxNameLen]
	end := 0
	for end < MaxNameLen && name[end] != 0 {
		end++
	}
	return string(name[:end])
}

func (d *Directory) rootAt(i int) disk.PageID {
	off := d.recordOffset(i) + MaxNameLen
	return disk.PageID(binary.LittleEndian.Uint64(d.data[off : off+8]))
}

func (d *Directory) setRootAt(i int, id disk.PageID) {
	off := d.recordOffset(i) + MaxNameLen
	binary.LittleEndian.PutUint64(d.data[off:off+8], uint64(id))
}

func (d *Directory) find(name string) int {
	for i := 0; i < d.Count(); i++ {
		if d.nameAt(i) == name {
			return i
		}
	}
	return -1
}

// Lookup returns the root page id recorded under name.
func (d *Directory) Lookup(name string) (disk.PageID, bool) {
	i := d.find(name)
	if i < 0 {
		return disk.InvalidPageID, false
	}
	return d.rootAt(i), true
}

// InsertRecord adds a new (name, root) record. It fails if the name is
// taken, too long, or the directory is full.
func (d *Directory) InsertRecord(name string, root disk.PageID) bool {
	if len(name) == 0 || len(name) > MaxNameLen {
		return false
	}
	if d.find(name) >= 0 {
		return false
	}
	count := d.Count()
	if count >= MaxRecords {
		return false
	}

	off := d.recordOffset(count)
	for i := 0; i < MaxNameLen; i++ {
		d.data[off+i] = 0
	}
	copy(d.data[off:off+MaxNameLen], name)
	d.setRootAt(count, root)
	binary.LittleEndian.PutUint32(d.data[0:4], uint32(count+1))
	return true
}

// UpdateRecord overwrites the root page id of an existing record.
func (d *Directory) UpdateRecord(name string, root disk.PageID) bool {
	i := d.find(name)
	if i < 0 {
		return false
	}
	d.setRootAt(i, root)
	return true
}
