package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUReplacer(t *testing.T) {
	r := NewLRUReplacer()

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	r.Unpin(4)
	// Re-unpinning a tracked frame does not change its position.
	r.Unpin(1)
	require.Equal(t, 4, r.Size())

	// Victims come out least recently unpinned first.
	v, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(1), v)

	v, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(2), v)

	// Pinned frames are no longer victims.
	r.Pin(3)
	v, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(4), v)

	_, ok = r.Victim()
	require.False(t, ok)
	require.Equal(t, 0, r.Size())
}

func TestLRUPinUntracked(t *testing.T) {
	r := NewLRUReplacer()
	r.Pin(9)
	require.Equal(t, 0, r.Size())
}
