package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oda/bpindex/internal/disk"
)

func newTestPool(t *testing.T, frames int) *PoolManager {
	t.Helper()
	dm, err := disk.NewManager(filepath.Join(t.TempDir(), "buffer_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return NewPoolManager(frames, dm)
}

func TestNewPageAndFetch(t *testing.T) {
	pm := newTestPool(t, 4)

	pg, err := pm.NewPage()
	require.NoError(t, err)
	id := pg.ID()
	require.Equal(t, 1, pg.PinCount())

	copy(pg.Data(), "frame payload")
	require.True(t, pm.UnpinPage(id, true))

	// Fetching the same page hits the resident frame.
	again, err := pm.FetchPage(id)
	require.NoError(t, err)
	require.Same(t, pg, again)
	require.Equal(t, []byte("frame payload"), again.Data()[:13])
	require.True(t, pm.UnpinPage(id, false))
}

func TestAllFramesPinned(t *testing.T) {
	pm := newTestPool(t, 3)

	var pages []*Page
	for i := 0; i < 3; i++ {
		pg, err := pm.NewPage()
		require.NoError(t, err)
		pages = append(pages, pg)
	}

	// Every frame is pinned now.
	_, err := pm.NewPage()
	require.ErrorIs(t, err, ErrNoFreeFrames)

	// Unpinning one page frees a frame for the next request.
	require.True(t, pm.UnpinPage(pages[0].ID(), false))
	pg, err := pm.NewPage()
	require.NoError(t, err)
	require.NotNil(t, pg)
	pm.UnpinPage(pg.ID(), false)

	for _, pg := range pages[1:] {
		pm.UnpinPage(pg.ID(), false)
	}
}

func TestEvictionWritesBack(t *testing.T) {
	pm := newTestPool(t, 2)

	pg, err := pm.NewPage()
	require.NoError(t, err)
	id := pg.ID()
	copy(pg.Data(), "dirty bytes")
	require.True(t, pm.UnpinPage(id, true))

	// Force the dirty page out of the pool.
	var extra []disk.PageID
	for i := 0; i < 2; i++ {
		pg, err := pm.NewPage()
		require.NoError(t, err)
		extra = append(extra, pg.ID())
	}
	for _, id := range extra {
		pm.UnpinPage(id, false)
	}

	// Fetching it again reads the written-back bytes from disk.
	pg, err = pm.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("dirty bytes"), pg.Data()[:11])
	pm.UnpinPage(id, false)
}

func TestUnpinBookkeeping(t *testing.T) {
	pm := newTestPool(t, 4)

	pg, err := pm.NewPage()
	require.NoError(t, err)
	id := pg.ID()

	fetched, err := pm.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, 2, fetched.PinCount())

	require.True(t, pm.UnpinPage(id, false))
	require.True(t, pm.UnpinPage(id, true))
	require.Equal(t, 0, pg.PinCount())
	require.True(t, pg.IsDirty())

	// A fully unpinned page cannot be unpinned again.
	require.False(t, pm.UnpinPage(id, false))

	// Unknown pages are rejected.
	require.False(t, pm.UnpinPage(disk.PageID(999), false))
}

func TestDeletePage(t *testing.T) {
	pm := newTestPool(t, 4)

	pg, err := pm.NewPage()
	require.NoError(t, err)
	id := pg.ID()

	// Pinned pages cannot be deleted.
	require.False(t, pm.DeletePage(id))

	require.True(t, pm.UnpinPage(id, false))
	require.True(t, pm.DeletePage(id))
	require.Equal(t, 0, pm.PinnedCount())

	// The freed disk page is handed out again.
	pg, err = pm.NewPage()
	require.NoError(t, err)
	require.Equal(t, id, pg.ID())
	pm.UnpinPage(pg.ID(), false)
}

func TestFlushPage(t *testing.T) {
	pm := newTestPool(t, 4)

	pg, err := pm.NewPage()
	require.NoError(t, err)
	id := pg.ID()
	copy(pg.Data(), "flush me")
	pm.UnpinPage(id, true)

	require.True(t, pm.FlushPage(id))
	require.False(t, pg.IsDirty())
	require.False(t, pm.FlushPage(disk.PageID(999)))
}
