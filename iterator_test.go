package bpindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIteratorEmptyTree(t *testing.T) {
	tree := openSmallTree(t)

	it, err := tree.Begin()
	require.NoError(t, err)
	require.True(t, it.IsEnd())
	require.True(t, it.Equal(tree.End()))

	// Advancing and closing the end iterator are no-ops.
	require.NoError(t, it.Next())
	it.Close()
}

func TestIteratorFullWalk(t *testing.T) {
	tree := openSmallTree(t)
	for k := int64(1); k <= 20; k++ {
		insertAll(t, tree, k)
	}

	it, err := tree.Begin()
	require.NoError(t, err)

	var got []int64
	for !it.IsEnd() {
		got = append(got, DecodeInt64Key(it.Key()))
		require.Equal(t, RIDFromInt64(got[len(got)-1]), it.Value())
		require.NoError(t, it.Next())
	}

	var want []int64
	for k := int64(1); k <= 20; k++ {
		want = append(want, k)
	}
	require.Equal(t, want, got)
	require.True(t, it.Equal(tree.End()))

	// The exhausted iterator dropped its pin.
	require.Equal(t, 0, tree.bpm.PinnedCount())
}

func TestIteratorBeginAt(t *testing.T) {
	tree := openSmallTree(t)
	for _, k := range []int64{10, 20, 30, 40, 50} {
		insertAll(t, tree, k)
	}

	// Exact hit.
	it, err := tree.BeginAt(Int64Key(30))
	require.NoError(t, err)
	require.Equal(t, int64(30), DecodeInt64Key(it.Key()))
	it.Close()

	// Between keys: positioned at the next larger one.
	it, err = tree.BeginAt(Int64Key(35))
	require.NoError(t, err)
	require.Equal(t, int64(40), DecodeInt64Key(it.Key()))
	it.Close()

	// Beyond the largest key: already at the end.
	it, err = tree.BeginAt(Int64Key(99))
	require.NoError(t, err)
	require.True(t, it.IsEnd())

	require.Equal(t, 0, tree.bpm.PinnedCount())
}

func TestIteratorEquality(t *testing.T) {
	tree := openSmallTree(t)
	insertAll(t, tree, 1, 2, 3)

	a, err := tree.Begin()
	require.NoError(t, err)
	b, err := tree.Begin()
	require.NoError(t, err)

	require.True(t, a.Equal(b))
	require.NoError(t, a.Next())
	require.False(t, a.Equal(b))
	require.False(t, a.Equal(tree.End()))

	a.Close()
	b.Close()
	require.Equal(t, 0, tree.bpm.PinnedCount())
}

func TestIteratorCloseMidWalk(t *testing.T) {
	tree := openSmallTree(t)
	for k := int64(1); k <= 30; k++ {
		insertAll(t, tree, k)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, it.Next())
	}
	it.Close()
	require.True(t, it.IsEnd())

	// Closing twice is fine, and no pin leaks.
	it.Close()
	require.Equal(t, 0, tree.bpm.PinnedCount())
}

func TestScanStopsEarly(t *testing.T) {
	tree := openSmallTree(t)
	for k := int64(1); k <= 30; k++ {
		insertAll(t, tree, k)
	}

	var got []int64
	require.NoError(t, tree.Scan(Int64Key(10), func(key []byte, rid RID) bool {
		got = append(got, DecodeInt64Key(key))
		return len(got) < 5
	}))
	require.Equal(t, []int64{10, 11, 12, 13, 14}, got)
	require.Equal(t, 0, tree.bpm.PinnedCount())
}
