// Package disk provides page-granular I/O over a memory-mapped database
// file. Pages are allocated from an on-disk free list first and by
// extending (and remapping) the file otherwise.
package disk

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// PageSize is the size of every database page in bytes.
	PageSize = 4096

	// InitialFileSize is the initial size of the database file (1MB).
	InitialFileSize = 1024 * 1024

	// GrowthFactor determines how much to grow the file when expanding.
	GrowthFactor = 2

	// MetaPageID is the page holding the file metadata.
	MetaPageID PageID = 0

	// DirectoryPageID is the page reserved for the index directory.
	DirectoryPageID PageID = 1

	// Magic identifies a bpindex database file.
	Magic uint64 = 0x62706964780a1a0a

	// Version is the current file format version.
	Version uint32 = 1
)

// PageID identifies a database page. 0 is the meta page and doubles as
// the invalid sentinel: no tree node is ever stored there.
type PageID uint64

// InvalidPageID marks an absent page reference.
const InvalidPageID PageID = 0

// Meta page layout:
// Byte 0-7: magic
// Byte 8-11: version
// Byte 12-19: page count
// Byte 20-27: free list head

// Manager owns the database file and hands out page-sized chunks of it.
type Manager struct {
	mu   sync.Mutex
	file *os.File
	data []byte
	size int64

	pageCount uint64
	freeList  PageID
}

// NewManager opens or creates a database file and maps it into memory.
func NewManager(path string) (*Manager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open database file")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat database file")
	}

	size := info.Size()
	if size < InitialFileSize {
		if err := file.Truncate(InitialFileSize); err != nil {
			file.Close()
			return nil, errors.Wrap(err, "extend database file")
		}
		size = InitialFileSize
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "mmap database file")
	}

	m := &Manager{
		file: file,
		data: data,
		size: size,
	}

	if err := m.loadOrInitMeta(); err != nil {
		m.Close()
		return nil, err
	}

	return m, nil
}

// loadOrInitMeta reads the meta page, initializing it for a new file.
func (m *Manager) loadOrInitMeta() error {
	meta := m.data[:PageSize]
	magic := binary.LittleEndian.Uint64(meta[0:8])

	if magic == 0 {
		// New file. Pages 0 and 1 are reserved for the meta page and
		// the index directory.
		m.pageCount = 2
		m.freeList = InvalidPageID
		binary.LittleEndian.PutUint64(meta[0:8], Magic)
		binary.LittleEndian.PutUint32(meta[8:12], Version)
		m.writeMeta()
		return nil
	}

	if magic != Magic {
		return errors.New("invalid file format: bad magic number")
	}
	if v := binary.LittleEndian.Uint32(meta[8:12]); v != Version {
		return errors.Errorf("unsupported file version: %d (expected %d)", v, Version)
	}

	m.pageCount = binary.LittleEndian.Uint64(meta[12:20])
	m.freeList = PageID(binary.LittleEndian.Uint64(meta[20:28]))
	return nil
}

// writeMeta writes the mutable metadata fields to the meta page.
func (m *Manager) writeMeta() {
	meta := m.data[:PageSize]
	binary.LittleEndian.PutUint64(meta[12:20], m.pageCount)
	binary.LittleEndian.PutUint64(meta[20:28], uint64(m.freeList))
}

// Close unmaps and closes the database file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data != nil {
		m.writeMeta()
		if err := unix.Munmap(m.data); err != nil {
			return errors.Wrap(err, "munmap database file")
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return errors.Wrap(err, "close database file")
		}
		m.file = nil
	}
	return nil
}

// Sync flushes the mapping to disk.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return errors.New("disk manager is closed")
	}
	m.writeMeta()
	return unix.Msync(m.data, unix.MS_SYNC)
}

// AllocatePage returns the id of a fresh, zeroed page. Freed pages are
// reused before the file grows.
func (m *Manager) AllocatePage() (PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.freeList != InvalidPageID {
		id := m.freeList
		page := m.data[int64(id)*PageSize : int64(id+1)*PageSize]
		m.freeList = PageID(binary.LittleEndian.Uint64(page[0:8]))
		for i := range page {
			page[i] = 0
		}
		m.writeMeta()
		return id, nil
	}

	id := PageID(m.pageCount)
	required := int64(id+1) * PageSize
	if required > m.size {
		newSize := m.size * GrowthFactor
		for newSize < required {
			newSize *= GrowthFactor
		}
		if err := m.grow(newSize); err != nil {
			return InvalidPageID, err
		}
	}

	m.pageCount++
	m.writeMeta()
	return id, nil
}

// DeallocatePage pushes a page onto the free list. The next-free pointer
// lives in the first bytes of the freed page itself.
func (m *Manager) DeallocatePage(id PageID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := m.data[int64(id)*PageSize : int64(id+1)*PageSize]
	for i := range page {
		page[i] = 0
	}
	binary.LittleEndian.PutUint64(page[0:8], uint64(m.freeList))
	m.freeList = id
	m.writeMeta()
}

// ReadPage copies a page's contents into buf. The frame owns its own
// memory, so a later remap cannot invalidate it.
func (m *Manager) ReadPage(id PageID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return errors.New("disk manager is closed")
	}
	off := int64(id) * PageSize
	if off < 0 || off+PageSize > m.size {
		return errors.Errorf("read of page %d beyond file size", id)
	}
	copy(buf, m.data[off:off+PageSize])
	return nil
}

// WritePage copies buf into the page's on-disk location.
func (m *Manager) WritePage(id PageID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return errors.New("disk manager is closed")
	}
	off := int64(id) * PageSize
	if off < 0 || off+PageSize > m.size {
		return errors.Errorf("write of page %d beyond file size", id)
	}
	copy(m.data[off:off+PageSize], buf)
	return nil
}

// PageCount returns the number of pages ever allocated, including the
// reserved ones.
func (m *Manager) PageCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageCount
}

// grow extends the file and remaps it.
func (m *Manager) grow(newSize int64) error {
	if err := unix.Munmap(m.data); err != nil {
		return errors.Wrap(err, "munmap during grow")
	}
	if err := m.file.Truncate(newSize); err != nil {
		return errors.Wrap(err, "extend file during grow")
	}
	data, err := unix.Mmap(int(m.file.Fd()), 0, int(newSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "remap during grow")
	}
	m.data = data
	m.size = newSize
	return nil
}
