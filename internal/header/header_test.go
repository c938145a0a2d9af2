package header

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oda/bpindex/internal/disk"
)

func TestDirectoryRecords(t *testing.T) {
	dir := Wrap(make([]byte, disk.PageSize))
	require.Equal(t, 0, dir.Count())

	_, found := dir.Lookup("orders")
	require.False(t, found)

	require.True(t, dir.InsertRecord("orders", 42))
	require.True(t, dir.InsertRecord("users", 7))
	require.Equal(t, 2, dir.Count())

	root, found := dir.Lookup("orders")
	require.True(t, found)
	require.Equal(t, disk.PageID(42), root)

	// Duplicate names are rejected.
	require.False(t, dir.InsertRecord("orders", 99))

	require.True(t, dir.UpdateRecord("orders", 99))
	root, _ = dir.Lookup("orders")
	require.Equal(t, disk.PageID(99), root)

	// Updating an unknown record fails.
	require.False(t, dir.UpdateRecord("missing", 1))
}

func TestDirectoryNameLimits(t *testing.T) {
	dir := Wrap(make([]byte, disk.PageSize))

	require.False(t, dir.InsertRecord("", 1))
	require.False(t, dir.InsertRecord(strings.Repeat("x", MaxNameLen+1), 1))
	require.True(t, dir.InsertRecord(strings.Repeat("x", MaxNameLen), 1))
}

func TestDirectoryFull(t *testing.T) {
	dir := Wrap(make([]byte, disk.PageSize))

	for i := 0; i < MaxRecords; i++ {
		require.True(t, dir.InsertRecord("idx"+strings.Repeat("a", i%20)+string(rune('a'+i%26)), disk.PageID(i+2)))
	}
	require.False(t, dir.InsertRecord("one-too-many", 1))
}
