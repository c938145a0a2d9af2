package bpindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeKeyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestInsertFromFile(t *testing.T) {
	tree := openSmallTree(t)

	path := writeKeyFile(t, "10 3\n7\n\t25   1\n")
	require.NoError(t, tree.InsertFromFile(path))

	require.Equal(t, []int64{1, 3, 7, 10, 25}, collectAll(t, tree))

	rid, found, err := tree.Get(Int64Key(25))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, RIDFromInt64(25), rid)
}

func TestRemoveFromFile(t *testing.T) {
	tree := openSmallTree(t)
	insertAll(t, tree, 1, 2, 3, 4, 5)

	path := writeKeyFile(t, "2 4 99")
	require.NoError(t, tree.RemoveFromFile(path))

	require.Equal(t, []int64{1, 3, 5}, collectAll(t, tree))
}

func TestInsertFromFileBadToken(t *testing.T) {
	tree := openSmallTree(t)

	path := writeKeyFile(t, "1 2 three")
	require.Error(t, tree.InsertFromFile(path))

	require.Error(t, tree.InsertFromFile(filepath.Join(t.TempDir(), "missing.txt")))
}
