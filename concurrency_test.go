package bpindex

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const workers = 8

func TestConcurrentInsert(t *testing.T) {
	tree, err := Open(filepath.Join(t.TempDir(), "tree.db"), "test", Options{
		PoolSize:        64,
		LeafMaxSize:     8,
		InternalMaxSize: 8,
	})
	require.NoError(t, err)
	defer tree.Close()

	const n = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for k := int64(w + 1); k <= n; k += workers {
				inserted, err := tree.Insert(Int64Key(k), RIDFromInt64(k))
				require.NoError(t, err)
				require.True(t, inserted)
			}
		}(w)
	}
	wg.Wait()

	var want []int64
	for k := int64(1); k <= n; k++ {
		want = append(want, k)
	}
	require.Equal(t, want, collectAll(t, tree))
	checkIntegrity(t, tree)
	require.Equal(t, 0, tree.bpm.PinnedCount())
}

func TestConcurrentInsertThenRemoveOdds(t *testing.T) {
	tree, err := Open(filepath.Join(t.TempDir(), "tree.db"), "test", Options{
		PoolSize:        64,
		LeafMaxSize:     8,
		InternalMaxSize: 8,
	})
	require.NoError(t, err)
	defer tree.Close()

	const n = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for k := int64(w + 1); k <= n; k += workers {
				_, err := tree.Insert(Int64Key(k), RIDFromInt64(k))
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for k := int64(2*w + 1); k <= n; k += 2 * workers {
				require.NoError(t, tree.Remove(Int64Key(k)))
			}
		}(w)
	}
	wg.Wait()

	// Exactly the even keys survive, in order.
	var want []int64
	for k := int64(2); k <= n; k += 2 {
		want = append(want, k)
	}
	require.Equal(t, want, collectAll(t, tree))
	checkIntegrity(t, tree)
	require.Equal(t, 0, tree.bpm.PinnedCount())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mixed-load test in short mode")
	}

	tree, err := Open(filepath.Join(t.TempDir(), "tree.db"), "test", Options{
		PoolSize:        64,
		LeafMaxSize:     8,
		InternalMaxSize: 8,
	})
	require.NoError(t, err)
	defer tree.Close()

	const n = 500

	// Seed half the key space so readers have something to find.
	for k := int64(1); k <= n; k += 2 {
		_, err := tree.Insert(Int64Key(k), RIDFromInt64(k))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup

	// Writers fill in the even keys.
	wg.Add(workers / 2)
	for w := 0; w < workers/2; w++ {
		go func(w int) {
			defer wg.Done()
			for k := int64(2 * (w + 1)); k <= n; k += workers {
				_, err := tree.Insert(Int64Key(k), RIDFromInt64(k))
				require.NoError(t, err)
			}
		}(w)
	}

	// Readers hammer point lookups; the seeded odd keys must always be
	// visible.
	wg.Add(workers / 2)
	for w := 0; w < workers/2; w++ {
		go func() {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				for k := int64(1); k <= n; k += 2 {
					_, found, err := tree.Get(Int64Key(k))
					require.NoError(t, err)
					require.True(t, found)
				}
			}
		}()
	}

	wg.Wait()

	count, err := tree.Count()
	require.NoError(t, err)
	require.Equal(t, int(n), count)
	checkIntegrity(t, tree)
	require.Equal(t, 0, tree.bpm.PinnedCount())
}
